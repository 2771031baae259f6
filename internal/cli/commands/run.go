package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"htr/internal/config"
	"htr/internal/domain"
	"htr/internal/migration"
	"htr/internal/session"
	"htr/internal/storage"
	"htr/internal/ui"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// RunCommand handles the run command
type RunCommand struct {
	config     *config.Config
	workspaces *workspaceFactory
	storage    storage.Storage
	formatter  *ui.Formatter
	dbManager  *migration.DatabaseManager
	viewer     ui.Viewer
	log        *ui.Logger
}

// NewRunCommand creates a new RunCommand
func NewRunCommand(
	cfg *config.Config,
	workspaces *workspaceFactory,
	st storage.Storage,
	formatter *ui.Formatter,
	dbManager *migration.DatabaseManager,
	viewer ui.Viewer,
	log *ui.Logger,
) *RunCommand {
	return &RunCommand{
		config:     cfg,
		workspaces: workspaces,
		storage:    st,
		formatter:  formatter,
		dbManager:  dbManager,
		viewer:     viewer,
		log:        log,
	}
}

// Execute runs the command
func (rc *RunCommand) Execute(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := rc.workspaces.open(session.WorkspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	cat := ws.Catalog()
	if len(cat.Runnable()) == 0 {
		color.Yellow("No tests to execute")
		return nil
	}
	rc.log.Info("Running %s tests", cat.Summary())

	outcome, err := executeRun(ctx, ws, rc.log, !rc.config.Flags.NoProgress)
	if err != nil {
		return err
	}
	output := outcome.Output

	if err := rc.storage.Save(output.Meta, output.Details); err != nil {
		return fmt.Errorf("failed to save test results: %w", err)
	}
	rc.recordHistory(output)

	rc.formatter.PrintSummary(output)

	if rc.config.Flags.OpenFaills && len(output.Details) > 0 {
		saved, err := rc.storage.Load()
		if err != nil {
			return err
		}
		if err := rc.viewer.View(saved); err != nil {
			return err
		}
	}

	if outcome.Err != nil {
		return outcome.Err
	}
	if output.Meta.Counts.Failed > 0 {
		return fmt.Errorf("%d test(s) failed", output.Meta.Counts.Failed)
	}
	return nil
}

// recordHistory stores the run in the history database when one is configured.
// A history failure never fails the run.
func (rc *RunCommand) recordHistory(output *domain.RunSummaryOutput) {
	if !rc.dbManager.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openHistory(ctx, rc.dbManager, true)
	if err != nil {
		rc.log.Warn("Run history not recorded: %v", err)
		return
	}
	defer store.Close()

	if err := store.Record(ctx, output.Meta, output.Details); err != nil {
		rc.log.Warn("Run history not recorded: %v", err)
		return
	}
	rc.log.Debug("Run %s recorded in history", output.Meta.RunID)
}
