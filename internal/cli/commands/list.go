package commands

import (
	"htr/internal/catalog"
	"htr/internal/config"
	"htr/internal/domain"
	"htr/internal/session"
	"htr/internal/ui"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// ListCommand handles the list command
type ListCommand struct {
	config     *config.Config
	workspaces *workspaceFactory
	formatter  *ui.Formatter
}

// NewListCommand creates a new ListCommand
func NewListCommand(cfg *config.Config, workspaces *workspaceFactory, formatter *ui.Formatter) *ListCommand {
	return &ListCommand{
		config:     cfg,
		workspaces: workspaces,
		formatter:  formatter,
	}
}

// Execute runs the command
func (lc *ListCommand) Execute(cmd *cobra.Command, args []string) error {
	ws, err := lc.workspaces.open(session.WorkspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	cat := ws.Catalog()
	if len(cat.Tests()) == 0 {
		color.Yellow("No tests found")
		return nil
	}

	cfg := ws.Config()
	cat.RefreshModels(cfg.WorkingDirectory, cfg.AdditionalResolutionDirectories)
	lc.markLastRun(cat)

	lc.formatter.PrintCatalog(cat.Assemblies(), cat.Grouping())
	return nil
}

// markLastRun shows the failures of the last run on the tree
func (lc *ListCommand) markLastRun(cat *catalog.Catalog) {
	last, err := lc.workspaces.storage.Load()
	if err != nil {
		return
	}
	for _, d := range last.Details {
		status, err := domain.ParseTestStatus(d.Status)
		if err != nil {
			status = domain.StatusFailure
		}
		cat.Apply(catalog.StatusUpdate{TestID: d.TestID, Status: status, Message: d.Message})
	}
}
