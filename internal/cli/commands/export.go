package commands

import (
	"errors"
	"fmt"

	"htr/internal/config"
	"htr/internal/execution"
	"htr/internal/journal"
	"htr/internal/session"
	"htr/internal/ui"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// ExportCommand handles the export command
type ExportCommand struct {
	config     *config.Config
	workspaces *workspaceFactory
	exporter   *execution.Exporter
	log        *ui.Logger
}

// NewExportCommand creates a new ExportCommand
func NewExportCommand(cfg *config.Config, workspaces *workspaceFactory, exporter *execution.Exporter, log *ui.Logger) *ExportCommand {
	return &ExportCommand{
		config:     cfg,
		workspaces: workspaces,
		exporter:   exporter,
		log:        log,
	}
}

// Execute runs the command
func (ec *ExportCommand) Execute(cmd *cobra.Command, args []string) error {
	ws, err := ec.workspaces.open(session.WorkspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	cfg := ws.Config()
	resultsPath := cfg.GetResultsPath()
	if resultsPath == "" {
		resultsPath = cfg.DefaultResultsPath()
	}
	folder := cfg.ExportFolder
	if folder == "" {
		folder = cfg.WorkingDirectory
	}

	written, err := ec.exporter.Export(ws.Catalog(), execution.ExportOptions{
		Folder:           folder,
		JournalSample:    cfg.JournalSample,
		GroupByModel:     cfg.GroupByModel,
		Continuous:       cfg.Continuous,
		WorkingDirectory: cfg.WorkingDirectory,
		ResolutionDirs:   cfg.AdditionalResolutionDirectories,
		ResultsPath:      resultsPath,
		Product:          cfg.SelectedProduct(),
	})
	if errors.Is(err, journal.ErrExportIncompatible) {
		return fmt.Errorf("%w (use --continuous=false --group-by-model=false)", err)
	}
	if err != nil {
		return err
	}

	for _, path := range written {
		ec.log.Debug("Wrote %s", path)
	}
	color.Green("✓ Exported %d journal(s) to %s", len(written), folder)
	return nil
}
