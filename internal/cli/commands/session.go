package commands

import (
	"fmt"
	"os"
	"strings"

	"htr/internal/config"
	"htr/internal/session"
	"htr/internal/ui"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// SessionCommand handles the session subcommands
type SessionCommand struct {
	config     *config.Config
	workspaces *workspaceFactory
	log        *ui.Logger
}

// NewSessionCommand creates a new SessionCommand
func NewSessionCommand(cfg *config.Config, workspaces *workspaceFactory, log *ui.Logger) *SessionCommand {
	return &SessionCommand{config: cfg, workspaces: workspaces, log: log}
}

// Save writes the current settings and selection to a session file
func (sc *SessionCommand) Save(cmd *cobra.Command, args []string) error {
	ws, err := sc.workspaces.open(session.WorkspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.Save(args[0]); err != nil {
		return err
	}
	color.Green("✓ Saved session with %s tests to %s", ws.Catalog().Summary(), args[0])
	return nil
}

// Show prints a session file
func (sc *SessionCommand) Show(cmd *cobra.Command, args []string) error {
	s, err := session.Load(args[0])
	if err != nil {
		return err
	}

	row := func(label, value string) {
		fmt.Printf("%-34s ", label)
		color.White("%s", value)
	}
	color.Cyan("Session %s", args[0])
	row("Assembly", s.AssemblyPath)
	row("Working directory", s.WorkingDirectory)
	row("Results", s.ResultsPath)
	row("Grouping", s.GroupingType)
	row("Group by model", fmt.Sprintf("%t", s.GroupByModel))
	row("Continuous", fmt.Sprintf("%t", s.Continuous))
	row("Concat", fmt.Sprintf("%t", s.Concat))
	row("Timeout", fmt.Sprintf("%ds", s.Timeout))
	row("Product", s.Product)
	if s.HostPath != "" {
		row("Host", s.HostPath)
	}
	if len(s.ResolutionDirs) > 0 {
		row("Additional resolution directories", strings.Join(s.ResolutionDirs, string(os.PathListSeparator)))
	}
	if s.JournalSample != "" {
		row("Journal sample", s.JournalSample)
	}

	color.Green("\n%d selected test(s):", len(s.Selected))
	for _, id := range s.Selected {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

// Recent lists recently used session files, newest first
func (sc *SessionCommand) Recent(cmd *cobra.Command, args []string) error {
	files, err := sc.workspaces.recent().List()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		color.Yellow("No recent sessions")
		return nil
	}
	for i, f := range files {
		marker := ""
		if _, err := os.Stat(f); err != nil {
			marker = " " + color.RedString("(missing)")
		}
		fmt.Printf("%d. %s%s\n", i+1, f, marker)
	}
	return nil
}
