package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"htr/internal/catalog"
	"htr/internal/config"
	"htr/internal/discovery"
	"htr/internal/domain"
	"htr/internal/execution"
	"htr/internal/journal"
	"htr/internal/parser"
	"htr/internal/ui"
	"htr/internal/watch"
)

// ErrClosed is returned by a Workspace after Close
var ErrClosed = errors.New("workspace is closed")

// WorkspaceOptions configure a Workspace
type WorkspaceOptions struct {
	Launcher execution.Launcher
	Log      *ui.Logger
	Recent   *RecentFiles

	// Watch reloads the catalog when the assembly manifest changes
	Watch    bool
	Debounce time.Duration
	// OnReload is called with the new catalog after a watched reload
	OnReload func(*catalog.Catalog)
}

// Workspace owns the live state built from a configuration or session file:
// the catalog, the run controller and the manifest watcher.
type Workspace struct {
	opts WorkspaceOptions
	log  *ui.Logger

	mu         sync.Mutex
	cfg        *config.Config
	path       string
	catalog    *catalog.Catalog
	controller *execution.Controller
	watcher    *watch.Watcher
	stopWatch  context.CancelFunc
	closed     bool
}

// NewWorkspace creates an empty workspace over cfg
func NewWorkspace(cfg *config.Config, opts WorkspaceOptions) *Workspace {
	if opts.Log == nil {
		opts.Log = ui.Discard()
	}
	return &Workspace{cfg: cfg, opts: opts, log: opts.Log}
}

// Load builds the workspace from the current configuration
func (w *Workspace) Load() error {
	if err := w.releaseAll(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.build(w.cfg, nil)
}

// Open replaces all state with the session stored at path. The previous
// watcher and host are released first.
func (w *Workspace) Open(path string) error {
	s, err := Load(path)
	if err != nil {
		return err
	}

	if err := w.releaseAll(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	cfg := *w.cfg
	s.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := w.build(&cfg, s.Selected); err != nil {
		return err
	}
	w.cfg = &cfg
	w.path = path

	if w.opts.Recent != nil {
		if err := w.opts.Recent.Add(path); err != nil {
			w.log.Warn("Could not remember recent file: %v", err)
		}
	}
	return nil
}

// Save writes the current settings and selection to path
func (w *Workspace) Save(path string) error {
	w.mu.Lock()
	s := FromConfig(w.cfg, w.catalog)
	w.mu.Unlock()

	if err := s.Save(path); err != nil {
		return err
	}
	if w.opts.Recent != nil {
		if err := w.opts.Recent.Add(path); err != nil {
			w.log.Warn("Could not remember recent file: %v", err)
		}
	}
	w.mu.Lock()
	w.path = path
	w.mu.Unlock()
	return nil
}

// Reload rediscovers the assemblies, keeping selection and last outcomes of
// tests that still exist. Refused while a run is active.
func (w *Workspace) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.controller == nil {
		return fmt.Errorf("no tests loaded")
	}
	if w.controller.Running() {
		return execution.ErrRunInProgress
	}

	cat, err := discover(w.cfg)
	if err != nil {
		return err
	}
	cat.Merge(w.catalog)
	if err := w.controller.SetCatalog(cat); err != nil {
		return err
	}
	w.catalog = cat
	w.log.Info("Reloaded %d test(s) from %s", len(cat.Tests()), w.cfg.GetAssemblyPath())
	return nil
}

// Config returns the effective configuration
func (w *Workspace) Config() *config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Path returns the session file the workspace was opened from or saved to
func (w *Workspace) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Catalog returns the current test catalog
func (w *Workspace) Catalog() *catalog.Catalog {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.catalog
}

// Controller returns the run controller
func (w *Workspace) Controller() *execution.Controller {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controller
}

// Close stops the watcher and any active run. Safe to call more than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	res := w.detach()
	w.mu.Unlock()
	return res.close()
}

// resources are the parts of a workspace that hold goroutines or processes
type resources struct {
	stopWatch  context.CancelFunc
	watcher    *watch.Watcher
	controller *execution.Controller
}

// close runs without w.mu held: the watcher's reload callback takes the lock
func (r resources) close() error {
	var errs []error
	if r.stopWatch != nil {
		r.stopWatch()
	}
	if r.watcher != nil {
		errs = append(errs, r.watcher.Close())
	}
	if r.controller != nil {
		errs = append(errs, r.controller.Close())
	}
	return errors.Join(errs...)
}

// detach must be called with w.mu held
func (w *Workspace) detach() resources {
	res := resources{stopWatch: w.stopWatch, watcher: w.watcher, controller: w.controller}
	w.stopWatch = nil
	w.watcher = nil
	w.controller = nil
	w.catalog = nil
	return res
}

func (w *Workspace) releaseAll() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	res := w.detach()
	w.mu.Unlock()
	if err := res.close(); err != nil {
		w.log.Warn("Could not release previous workspace: %v", err)
	}
	return nil
}

// build must be called with w.mu held
func (w *Workspace) build(cfg *config.Config, selected []string) error {
	cat, err := discover(cfg)
	if err != nil {
		return err
	}
	if len(selected) > 0 {
		cat.SelectAll(domain.SelectionOff)
		for _, id := range selected {
			if err := cat.Select(id); err != nil {
				w.log.Warn("Saved selection: %v", err)
			}
		}
	}

	tmpl, err := journal.Load(cfg.JournalSample)
	if err != nil {
		return err
	}
	launcher := w.opts.Launcher
	if launcher == nil {
		launcher = execution.NewProcessLauncher(w.log, cfg.PollInterval())
	}
	sup := execution.NewSupervisor(launcher, tmpl, w.log, execution.SupervisorOptions{
		StateDir:     cfg.GetStatePath(),
		Timeout:      cfg.TimeoutDuration(),
		PollInterval: cfg.PollInterval(),
		Debug:        cfg.Debug,
	})
	ctrl := execution.NewController(cat, execution.NewModelScheduler(), sup, parser.NewResultsParser(), w.log, RunOptions(cfg))

	w.catalog = cat
	w.controller = ctrl

	if w.opts.Watch {
		if err := w.startWatcher(cfg); err != nil {
			w.log.Warn("Could not watch %s: %v", cfg.GetAssemblyPath(), err)
		}
	}
	return nil
}

func (w *Workspace) startWatcher(cfg *config.Config) error {
	wt, err := watch.New(cfg.GetAssemblyPath(), watch.Options{
		Debounce: w.opts.Debounce,
		Suffix:   config.DefaultManifestSuffix,
		Ignore:   cfg.PathsToIgnore,
		Log:      w.log,
		Busy: func() bool {
			ctrl := w.Controller()
			return ctrl != nil && ctrl.Running()
		},
		Reload: func() {
			if err := w.Reload(); err != nil {
				w.log.Warn("Could not reload tests: %v", err)
				return
			}
			if w.opts.OnReload != nil {
				w.opts.OnReload(w.Catalog())
			}
		},
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	wt.Start(ctx)
	w.watcher = wt
	w.stopWatch = cancel
	return nil
}

// RunOptions maps a configuration onto controller run settings
func RunOptions(cfg *config.Config) execution.Options {
	return execution.Options{
		ResultsPath:      cfg.GetResultsPath(),
		GroupByModel:     cfg.GroupByModel,
		Continuous:       cfg.Continuous,
		Concat:           cfg.Concat,
		WorkingDirectory: cfg.WorkingDirectory,
		ResolutionDirs:   cfg.AdditionalResolutionDirectories,
		Product:          cfg.SelectedProduct(),
	}
}

func discover(cfg *config.Config) (*catalog.Catalog, error) {
	d := discovery.NewDiscoverer(
		discovery.NewScanner(cfg.PathsToIgnore, config.DefaultManifestSuffix),
		discovery.NewParser(),
	)
	assemblies, err := d.Discover(cfg.GetAssemblyPath())
	if err != nil {
		return nil, fmt.Errorf("failed to discover tests: %w", err)
	}
	return catalog.New(assemblies, cfg.Grouping()), nil
}
