package commands

import (
	"fmt"

	"htr/internal/config"
	"htr/internal/migration"
	"htr/internal/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// MigrateCommand handles the migrate command
type MigrateCommand struct {
	config    *config.Config
	dbManager *migration.DatabaseManager
}

// NewMigrateCommand creates a new MigrateCommand
func NewMigrateCommand(cfg *config.Config, dbManager *migration.DatabaseManager) *MigrateCommand {
	return &MigrateCommand{
		config:    cfg,
		dbManager: dbManager,
	}
}

// Execute runs the command
func (mc *MigrateCommand) Execute(cmd *cobra.Command, args []string) error {
	if !mc.dbManager.Enabled() {
		return fmt.Errorf("run history is not configured (set HTR_HISTORY_DSN or the DB_* variables)")
	}

	dsn, err := mc.dbManager.CheckAndCreateDatabase(cmd.Context())
	if err != nil {
		return err
	}
	store, err := storage.OpenHistoryStore(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrator(false).Run(cmd.Context()); err != nil {
		return err
	}
	color.Green("✓ History database is up to date")
	return nil
}
