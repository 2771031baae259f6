// Package session persists runner settings and test selection, and owns the
// live workspace built from them.
package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"htr/internal/catalog"
	"htr/internal/config"
)

// Session is the saved state of a runner: its settings and the selected tests
type Session struct {
	AssemblyPath     string   `yaml:"assembly_path"`
	WorkingDirectory string   `yaml:"working_directory"`
	ResultsPath      string   `yaml:"results_path"`
	GroupingType     string   `yaml:"grouping_type"`
	GroupByModel     bool     `yaml:"group_by_model"`
	Continuous       bool     `yaml:"continuous"`
	Concat           bool     `yaml:"concat"`
	Timeout          int      `yaml:"timeout"`
	Debug            bool     `yaml:"debug"`
	ResolutionDirs   []string `yaml:"additional_resolution_directories,omitempty"`
	Product          string   `yaml:"product,omitempty"`
	HostPath         string   `yaml:"host_path,omitempty"`
	JournalSample    string   `yaml:"journal_sample,omitempty"`
	ExportFolder     string   `yaml:"export_folder,omitempty"`
	Selected         []string `yaml:"selected,omitempty"`
}

// FromConfig captures the current settings and, when cat is set, its selection
func FromConfig(cfg *config.Config, cat *catalog.Catalog) *Session {
	s := &Session{
		AssemblyPath:     cfg.AssemblyPath,
		WorkingDirectory: cfg.WorkingDirectory,
		ResultsPath:      cfg.ResultsPath,
		GroupingType:     cfg.GroupingType,
		GroupByModel:     cfg.GroupByModel,
		Continuous:       cfg.Continuous,
		Concat:           cfg.Concat,
		Timeout:          cfg.Timeout,
		Debug:            cfg.Debug,
		ResolutionDirs:   cfg.AdditionalResolutionDirectories,
		Product:          cfg.Product,
		HostPath:         cfg.HostPath,
		JournalSample:    cfg.JournalSample,
		ExportFolder:     cfg.ExportFolder,
	}
	if cat != nil {
		s.Selected = cat.SelectedIDs()
	}
	return s
}

// Apply copies the session settings onto cfg. Empty values keep what cfg has.
func (s *Session) Apply(cfg *config.Config) {
	if s.WorkingDirectory != "" {
		cfg.WorkingDirectory = s.WorkingDirectory
	}
	if s.AssemblyPath != "" {
		cfg.AssemblyPath = s.AssemblyPath
	}
	if s.ResultsPath != "" {
		cfg.ResultsPath = s.ResultsPath
	}
	if s.GroupingType != "" {
		cfg.GroupingType = s.GroupingType
	}
	if s.Timeout > 0 {
		cfg.Timeout = s.Timeout
	}
	if len(s.ResolutionDirs) > 0 {
		cfg.AdditionalResolutionDirectories = s.ResolutionDirs
	}
	if s.Product != "" {
		cfg.Product = s.Product
	}
	if s.HostPath != "" {
		cfg.HostPath = s.HostPath
	}
	if s.JournalSample != "" {
		cfg.JournalSample = s.JournalSample
	}
	if s.ExportFolder != "" {
		cfg.ExportFolder = s.ExportFolder
	}
	cfg.GroupByModel = s.GroupByModel
	cfg.Continuous = s.Continuous
	cfg.Concat = s.Concat
	cfg.Debug = s.Debug
}

// Load reads a session file
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("test session could not be opened: %w", err)
	}
	var s Session
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("test session could not be opened: %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the session file, creating its directory when needed
func (s *Session) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", path, err)
	}
	return nil
}
