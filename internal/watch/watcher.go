// Package watch reloads the test catalog when an assembly manifest changes on disk.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"htr/internal/ui"
)

// DefaultDebounce collapses the burst of events an editor or build writes
const DefaultDebounce = 300 * time.Millisecond

// Options configure a Watcher
type Options struct {
	Debounce time.Duration
	// Busy reports whether a run is active; changes are dropped while it is
	Busy func() bool
	// Reload is called after the file settles
	Reload func()
	// Suffix limits which files count when a directory is watched
	Suffix string
	// Ignore names directories skipped when a directory tree is watched
	Ignore []string
	Log    *ui.Logger
}

// Watcher follows one file, or every Suffix file in a directory tree. For a
// file the parent directory is watched so that atomic replaces (write temp,
// rename over) are seen. Hidden and ignored directories are not followed.
type Watcher struct {
	path   string
	dir    bool
	opts   Options
	fs     *fsnotify.Watcher
	ignore map[string]bool

	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a Watcher for path. Call Start to begin delivering reloads.
func New(path string, opts Options) (*Watcher, error) {
	if opts.Reload == nil {
		return nil, fmt.Errorf("watch %s: no reload callback", path)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Log == nil {
		opts.Log = ui.Discard()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	target := filepath.Dir(abs)
	isDir := false
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		target = abs
		isDir = true
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:   abs,
		dir:    isDir,
		opts:   opts,
		fs:     fw,
		ignore: make(map[string]bool, len(opts.Ignore)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, name := range opts.Ignore {
		w.ignore[name] = true
	}

	if isDir {
		err = w.addTree(target)
	} else {
		err = fw.Add(target)
	}
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", target, err)
	}
	return w, nil
}

// addTree watches root and every followed directory below it
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipped(d.Name()) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) skipped(dirName string) bool {
	return strings.HasPrefix(dirName, ".") || w.ignore[dirName]
}

// Path returns the watched file
func (w *Watcher) Path() string {
	return w.path
}

// Start runs the event loop until ctx is done or Close is called
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	events := w.fs.Events
	errs := w.fs.Errors
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			// A new folder may arrive with manifests already inside
			if !w.relevant(ev) && !w.followNewDir(ev) {
				continue
			}
			w.opts.Log.Debug("Manifest changed: %s (%s)", ev.Name, ev.Op)
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.opts.Log.Warn("File watcher error: %v", err)
		case <-fire:
			fire = nil
			if w.opts.Busy != nil && w.opts.Busy() {
				w.opts.Log.Info("Assembly changed during a run; not reloading")
				continue
			}
			w.opts.Reload()
		}
	}
}

// followNewDir starts watching a directory created inside the tree
func (w *Watcher) followNewDir(ev fsnotify.Event) bool {
	if !w.dir || !ev.Has(fsnotify.Create) {
		return false
	}
	name := ev.Name
	info, err := os.Stat(name)
	if err != nil || !info.IsDir() || w.skipped(info.Name()) {
		return false
	}
	if err := w.addTree(name); err != nil {
		w.opts.Log.Warn("Could not watch %s: %v", name, err)
		return false
	}
	return true
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name := filepath.Clean(ev.Name)
	if w.dir {
		if !strings.HasPrefix(name, w.path+string(filepath.Separator)) || !strings.HasSuffix(name, w.opts.Suffix) {
			return false
		}
	} else if name != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Close stops the watcher and waits for the loop to exit. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	close(w.stop)
	err := w.fs.Close()
	if started {
		<-w.done
	}
	return err
}
