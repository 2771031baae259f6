package commands

import (
	"context"
	"fmt"
	"time"

	"htr/internal/config"
	"htr/internal/migration"
	"htr/internal/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// HistoryCommand handles the history command
type HistoryCommand struct {
	config    *config.Config
	dbManager *migration.DatabaseManager
}

// NewHistoryCommand creates a new HistoryCommand
func NewHistoryCommand(cfg *config.Config, dbManager *migration.DatabaseManager) *HistoryCommand {
	return &HistoryCommand{config: cfg, dbManager: dbManager}
}

// Execute runs the command
func (hc *HistoryCommand) Execute(cmd *cobra.Command, args []string) error {
	if !hc.dbManager.Enabled() {
		color.Yellow("Run history is not configured (set HTR_HISTORY_DSN or the DB_* variables)")
		return nil
	}

	store, err := openHistory(cmd.Context(), hc.dbManager, true)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(cmd.Context(), hc.config.Flags.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		color.Yellow("No runs recorded yet")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %6s  %7s  %6s  %9s  %s\n", "RUN", "FINISHED", "PASSED", "SKIPPED", "FAILED", "DURATION", "PRODUCT")
	for _, e := range entries {
		line := fmt.Sprintf("%-36s  %-20s  %6d  %7d  %6d  %9s  %s",
			e.RunID, e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			e.Passed, e.Skipped, e.Failed, e.Duration.Round(100*time.Millisecond), e.Product)
		switch {
		case e.Failed > 0:
			color.Red("%s", line)
		case e.Cancelled || e.Skipped > 0:
			color.Yellow("%s", line)
		default:
			color.Green("%s", line)
		}
	}
	return nil
}

// openHistory creates the history database if needed, connects and brings
// the schema up to date
func openHistory(ctx context.Context, dm *migration.DatabaseManager, silent bool) (*storage.HistoryStore, error) {
	dsn, err := dm.CheckAndCreateDatabase(ctx)
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenHistoryStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx, silent); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return store, nil
}
