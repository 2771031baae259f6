package execution

import (
	"fmt"
	"os"
	"path/filepath"

	"htr/internal/catalog"
	"htr/internal/domain"
	"htr/internal/journal"
)

// ExportOptions describe a journal export
type ExportOptions struct {
	Folder           string
	JournalSample    string
	GroupByModel     bool
	Continuous       bool
	WorkingDirectory string
	ResolutionDirs   []string
	ResultsPath      string
	Product          domain.Product
}

// Exporter writes one standalone journal per batch so tests can be replayed
// without the runner
type Exporter struct {
	scheduler Scheduler
}

// NewExporter creates a new Exporter
func NewExporter(scheduler Scheduler) *Exporter {
	return &Exporter{scheduler: scheduler}
}

// Export validates the request and writes the journals. Nothing is written
// when validation fails.
func (e *Exporter) Export(cat *catalog.Catalog, opts ExportOptions) ([]string, error) {
	if opts.Continuous || opts.GroupByModel {
		return nil, journal.ErrExportIncompatible
	}
	tmpl, err := journal.LoadSample(opts.JournalSample)
	if err != nil {
		return nil, err
	}
	if opts.Folder == "" {
		return nil, fmt.Errorf("export folder not set")
	}

	cat.RefreshModels(opts.WorkingDirectory, opts.ResolutionDirs)
	var tests []domain.TestCase
	for _, t := range cat.Runnable() {
		tests = append(tests, t.Case())
	}
	plan, err := e.scheduler.Schedule(tests, PlanOptions{
		Product:          opts.Product,
		WorkingDirectory: opts.WorkingDirectory,
	})
	if err != nil {
		return nil, err
	}
	if len(plan.Batches) == 0 {
		return nil, ErrNoRunnableTests
	}

	if err := os.MkdirAll(opts.Folder, 0755); err != nil {
		return nil, fmt.Errorf("create export folder: %w", err)
	}
	var written []string
	for _, b := range plan.Batches {
		path := filepath.Join(opts.Folder, journal.FileName(b))
		err := tmpl.Write(path, journal.Data{
			Batch:            b.Index,
			Product:          b.Product,
			Model:            catalog.ResolveModel(b.ModelPath, opts.WorkingDirectory, opts.ResolutionDirs),
			WorkingDirectory: opts.WorkingDirectory,
			ResultsPath:      opts.ResultsPath,
			ResolutionDirs:   opts.ResolutionDirs,
			Tests:            b.Tests,
			Exported:         true,
		})
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
