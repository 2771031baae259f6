package cli

import (
	"time"

	"htr/internal/config"
)

// Flags holds command-line flags
type Flags struct {
	WorkingDirectory string
	AssemblyPath     string
	ResultsPath      string
	Filter           string
	GroupingType     string
	Product          string
	HostPath         string
	Session          string
	ExportFolder     string
	Timeout          int
	Continuous       bool
	GroupByModel     bool
	Concat           bool
	Debug            bool
	NoProgress       bool
	OpenFaills       bool
	OnlyFailed       bool
	Limit            int
	OlderThan        time.Duration

	// Set when the flag was given explicitly, so config values are not
	// overridden by flag defaults
	ContinuousSet   bool
	GroupByModelSet bool
}

// ToConfigFlags converts CLI flags to config flags
func (f *Flags) ToConfigFlags() config.Flags {
	cf := config.Flags{
		WorkingDirectory: f.WorkingDirectory,
		AssemblyPath:     f.AssemblyPath,
		ResultsPath:      f.ResultsPath,
		Filter:           f.Filter,
		GroupingType:     f.GroupingType,
		Product:          f.Product,
		HostPath:         f.HostPath,
		Session:          f.Session,
		ExportFolder:     f.ExportFolder,
		Timeout:          f.Timeout,
		Concat:           f.Concat,
		Debug:            f.Debug,
		NoProgress:       f.NoProgress,
		OpenFaills:       f.OpenFaills,
		OnlyFailed:       f.OnlyFailed,
		Limit:            f.Limit,
		OlderThan:        f.OlderThan,
	}
	if f.ContinuousSet {
		continuous := f.Continuous
		cf.Continuous = &continuous
	}
	if f.GroupByModelSet {
		groupByModel := f.GroupByModel
		cf.GroupByModel = &groupByModel
	}
	return cf
}
