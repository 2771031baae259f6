package commands

import (
	"fmt"

	"htr/internal/catalog"
	"htr/internal/config"
	"htr/internal/domain"
	"htr/internal/execution"
	"htr/internal/session"
	"htr/internal/storage"
	"htr/internal/ui"
)

// workspaceFactory opens the workspace a command operates on: a saved
// session when --session is given, otherwise the configured assembly.
type workspaceFactory struct {
	config  *config.Config
	log     *ui.Logger
	storage storage.Storage

	// launcher is nil outside tests; the workspace then starts real hosts
	launcher execution.Launcher
}

func newWorkspaceFactory(cfg *config.Config, log *ui.Logger, st storage.Storage) *workspaceFactory {
	return &workspaceFactory{config: cfg, log: log, storage: st}
}

func (f *workspaceFactory) recent() *session.RecentFiles {
	return session.NewRecentFiles(f.config.GetRecentFilePath(), f.config.MaxRecentFiles)
}

// open builds the workspace and applies the command-line selection
func (f *workspaceFactory) open(opts session.WorkspaceOptions) (*session.Workspace, error) {
	opts.Log = f.log
	opts.Launcher = f.launcher
	opts.Recent = f.recent()

	ws := session.NewWorkspace(f.config, opts)
	flags := f.config.Flags
	if flags.Session != "" {
		if err := ws.Open(flags.Session); err != nil {
			ws.Close()
			return nil, err
		}
		// Flags given on the command line still win over the session
		cfg := ws.Config()
		cfg.ApplyFlags(flags)
		if err := ws.Controller().SetOptions(session.RunOptions(cfg)); err != nil {
			ws.Close()
			return nil, err
		}
		ws.Catalog().SetGrouping(cfg.Grouping())
	} else if err := ws.Load(); err != nil {
		ws.Close()
		return nil, err
	}

	if err := f.applySelection(ws); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// applySelection selects tests by --failed and --filter. A session keeps its
// saved selection unless one of them is given.
func (f *workspaceFactory) applySelection(ws *session.Workspace) error {
	cat := ws.Catalog()
	flags := f.config.Flags

	if flags.Session == "" || flags.Filter != "" {
		cat.SelectPattern(flags.Filter)
	}
	if flags.OnlyFailed {
		ids, err := f.lastFailed()
		if err != nil {
			return err
		}
		narrowTo(cat, ids)
	}
	return nil
}

// lastFailed returns the tests that failed in the last run
func (f *workspaceFactory) lastFailed() (map[string]bool, error) {
	last, err := f.storage.Load()
	if err != nil {
		return nil, fmt.Errorf("no previous run to take failed tests from: %w", err)
	}
	ids := make(map[string]bool, len(last.Details))
	for _, d := range last.Details {
		ids[d.TestID] = true
	}
	return ids, nil
}

// narrowTo deselects every selected test not in ids
func narrowTo(cat *catalog.Catalog, ids map[string]bool) {
	for _, t := range cat.Tests() {
		if t.Runnable() && !ids[t.ID] {
			t.ShouldRun = domain.SelectionOff
		}
	}
}
