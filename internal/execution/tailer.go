package execution

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventTailer streams complete lines appended to the host's events file.
// It uses fsnotify for change detection with a polling fallback.
type EventTailer struct {
	path     string
	interval time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	closed   bool
}

// NewEventTailer creates a tailer for path. The file should exist before Follow.
func NewEventTailer(path string, interval time.Duration) (*EventTailer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &EventTailer{path: path, interval: interval, watcher: watcher}, nil
}

// Follow streams lines until ctx is cancelled or stop is closed. After stop the
// remaining content, including an unterminated last line, is flushed before the
// channel closes.
func (t *EventTailer) Follow(ctx context.Context, stop <-chan struct{}) <-chan []byte {
	lines := make(chan []byte, 64)
	go t.loop(ctx, stop, lines)
	return lines
}

func (t *EventTailer) loop(ctx context.Context, stop <-chan struct{}, lines chan<- []byte) {
	defer close(lines)

	// Polling covers a failed watch
	_ = t.watcher.Add(t.path)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	events, errs := t.watcher.Events, t.watcher.Errors
	offset := t.readNewLines(ctx, lines, 0, false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			t.readNewLines(ctx, lines, offset, true)
			return
		case event, ok := <-events:
			if !ok {
				// Watcher closed; keep polling
				events = nil
				continue
			}
			if event.Name == t.path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				offset = t.readNewLines(ctx, lines, offset, false)
			}
		case <-ticker.C:
			offset = t.readNewLines(ctx, lines, offset, false)
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
			// Continue on errors, polling will handle reads
		}
	}
}

// readNewLines sends every complete line after offset and returns the new offset.
// With final set an unterminated trailing line is sent too.
func (t *EventTailer) readNewLines(ctx context.Context, lines chan<- []byte, offset int64, final bool) int64 {
	file, err := os.Open(t.path)
	if err != nil {
		return offset
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset
	}
	if info.Size() < offset {
		// File was truncated, reset to beginning
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	r := bufio.NewReader(file)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if final && len(bytes.TrimSpace(line)) > 0 {
				t.send(ctx, lines, line)
				offset += int64(len(line))
			}
			return offset
		}
		offset += int64(len(line))
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !t.send(ctx, lines, line) {
			return offset
		}
	}
}

func (t *EventTailer) send(ctx context.Context, lines chan<- []byte, line []byte) bool {
	select {
	case <-ctx.Done():
		return false
	case lines <- bytes.TrimSpace(line):
		return true
	}
}

// Close stops the tailer and releases resources.
func (t *EventTailer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.watcher.Close()
}

// Path returns the path being tailed.
func (t *EventTailer) Path() string {
	return t.path
}
