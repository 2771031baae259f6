package commands

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"htr/internal/config"
	"htr/internal/execution"
	"htr/internal/ui"
)

// CleanupCommand handles the cleanup command
type CleanupCommand struct {
	config *config.Config
	log    *ui.Logger
}

// NewCleanupCommand creates a new CleanupCommand
func NewCleanupCommand(cfg *config.Config, log *ui.Logger) *CleanupCommand {
	return &CleanupCommand{
		config: cfg,
		log:    log,
	}
}

// Execute runs the command
func (cc *CleanupCommand) Execute(cmd *cobra.Command, args []string) error {
	state := cc.config.GetStatePath()
	res, err := execution.CleanupRuns(state, cc.config.Flags.OlderThan, time.Now())
	if err != nil {
		return err
	}
	for _, id := range res.Removed {
		cc.log.Debug("Removed run %s", id)
	}

	if len(res.Removed) == 0 {
		color.Green("✓ No run folders to remove in %s", state)
	} else {
		color.Green("✓ Removed %d run folder(s) from %s", len(res.Removed), state)
	}
	if res.Kept > 0 {
		color.Yellow("  %d newer folder(s) kept", res.Kept)
	}
	return nil
}
