package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"htr/internal/catalog"
	"htr/internal/config"
	"htr/internal/session"
	"htr/internal/ui"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// WatchCommand handles the watch command
type WatchCommand struct {
	config     *config.Config
	workspaces *workspaceFactory
	formatter  *ui.Formatter
	log        *ui.Logger
}

// NewWatchCommand creates a new WatchCommand
func NewWatchCommand(cfg *config.Config, workspaces *workspaceFactory, formatter *ui.Formatter, log *ui.Logger) *WatchCommand {
	return &WatchCommand{config: cfg, workspaces: workspaces, formatter: formatter, log: log}
}

// Execute runs the selection once, then again after every manifest change
// until interrupted
func (wc *WatchCommand) Execute(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloads := make(chan struct{}, 1)
	ws, err := wc.workspaces.open(session.WorkspaceOptions{
		Watch: true,
		OnReload: func(*catalog.Catalog) {
			select {
			case reloads <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer ws.Close()

	color.Cyan("Watching %s for changes. Press Ctrl+C to stop.", ws.Config().GetAssemblyPath())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := wc.runOnce(gctx, ws); err != nil {
			return err
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-reloads:
				if err := wc.workspaces.applySelection(ws); err != nil {
					return err
				}
				if err := wc.runOnce(gctx, ws); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

func (wc *WatchCommand) runOnce(ctx context.Context, ws *session.Workspace) error {
	if len(ws.Catalog().Runnable()) == 0 {
		color.Yellow("No tests to execute")
		return nil
	}
	outcome, err := executeRun(ctx, ws, wc.log, false)
	if err != nil {
		return err
	}
	if err := wc.workspaces.storage.Save(outcome.Output.Meta, outcome.Output.Details); err != nil {
		wc.log.Warn("Could not save the run summary: %v", err)
	}
	wc.formatter.PrintCompletion(outcome.Output.Meta.Counts)
	return nil
}
