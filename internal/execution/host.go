package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"htr/internal/domain"
	"htr/internal/ui"
)

// Control commands written to the host
const (
	CommandRun    = "run"
	CommandCancel = "cancel"
	CommandExit   = "exit"
)

// Events reported by the host
const (
	HostStarted  = "started"
	HostResult   = "result"
	HostComplete = "complete"
)

// HostCommand is one line of the control file
type HostCommand struct {
	Command string   `json:"command"`
	RunID   string   `json:"run_id,omitempty"`
	Batch   int      `json:"batch,omitempty"`
	Tests   []string `json:"tests,omitempty"`
	Model   string   `json:"model,omitempty"`
	Journal string   `json:"journal,omitempty"`
}

// HostEvent is one line of the events file
type HostEvent struct {
	Event      string  `json:"event"`
	Batch      int     `json:"batch,omitempty"`
	Test       string  `json:"test,omitempty"`
	Status     string  `json:"status,omitempty"`
	Message    string  `json:"message,omitempty"`
	StackTrace string  `json:"stack_trace,omitempty"`
	Duration   float64 `json:"duration,omitempty"` // Seconds
}

// LaunchSpec describes a host process to start
type LaunchSpec struct {
	Product          domain.Product
	WorkingDirectory string
	ChannelDir       string
	ResultsPath      string
	ResolutionDirs   []string
	Debug            bool
}

// Host is a running host application
type Host interface {
	// Send writes a control command
	Send(cmd HostCommand) error
	// Events is closed once the host has exited and its events are drained
	Events() <-chan HostEvent
	// Done is closed after Events, when the host is gone
	Done() <-chan struct{}
	// Err is the exit error, valid after Done
	Err() error
	Kill() error
}

// Launcher starts hosts
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Host, error)
}

// ProcessLauncher starts the product executable as a child process that talks
// through files in the run's channel directory.
type ProcessLauncher struct {
	log          *ui.Logger
	pollInterval time.Duration
	seq          atomic.Int64
}

// NewProcessLauncher creates a new ProcessLauncher
func NewProcessLauncher(log *ui.Logger, pollInterval time.Duration) *ProcessLauncher {
	return &ProcessLauncher{log: log, pollInterval: pollInterval}
}

// Launch starts the host and begins tailing its events
func (l *ProcessLauncher) Launch(ctx context.Context, spec LaunchSpec) (Host, error) {
	exe, err := ResolveHost(spec.Product.Path)
	if err != nil {
		return nil, err
	}

	n := l.seq.Add(1)
	controlPath := filepath.Join(spec.ChannelDir, fmt.Sprintf("control-%d.jsonl", n))
	eventsPath := filepath.Join(spec.ChannelDir, fmt.Sprintf("events-%d.jsonl", n))
	logPath := filepath.Join(spec.ChannelDir, fmt.Sprintf("host-%d.log", n))

	if err := os.MkdirAll(spec.ChannelDir, 0755); err != nil {
		return nil, fmt.Errorf("create channel dir: %w", err)
	}
	if err := os.WriteFile(eventsPath, nil, 0644); err != nil {
		return nil, fmt.Errorf("create events file: %w", err)
	}
	control, err := os.OpenFile(controlPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create control file: %w", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("create host log: %w", err)
	}

	tailer, err := NewEventTailer(eventsPath, l.pollInterval)
	if err != nil {
		control.Close()
		logFile.Close()
		return nil, err
	}

	cmd := exec.Command(exe)
	cmd.Dir = spec.WorkingDirectory
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"HTR_CONTROL="+controlPath,
		"HTR_EVENTS="+eventsPath,
		"HTR_RESULTS="+spec.ResultsPath,
		"HTR_WORKING_DIR="+spec.WorkingDirectory,
		"HTR_RESOLUTION_DIRS="+strings.Join(spec.ResolutionDirs, string(os.PathListSeparator)),
		fmt.Sprintf("HTR_DEBUG=%t", spec.Debug),
	)

	if err := cmd.Start(); err != nil {
		control.Close()
		logFile.Close()
		tailer.Close()
		return nil, fmt.Errorf("start host %s: %w", exe, err)
	}
	l.log.Debug("Started host %s (pid %d), log %s", exe, cmd.Process.Pid, logPath)

	h := &processHost{
		cmd:     cmd,
		control: control,
		logFile: logFile,
		tailer:  tailer,
		log:     l.log,
		events:  make(chan HostEvent, 64),
		exited:  make(chan struct{}),
		dropped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.wait()
	go h.pump()
	return h, nil
}

// ResolveHost returns the executable path for a host, or ErrHostNotResolved
func ResolveHost(path string) (string, error) {
	if path == "" {
		return "", ErrHostNotResolved
	}
	if filepath.IsAbs(path) || strings.ContainsRune(path, os.PathSeparator) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrHostNotResolved, path)
		}
		return path, nil
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrHostNotResolved, path)
	}
	return resolved, nil
}

type processHost struct {
	cmd     *exec.Cmd
	control *os.File
	logFile *os.File
	tailer  *EventTailer
	log     *ui.Logger

	mu   sync.Mutex
	err  error
	kill sync.Once

	events  chan HostEvent
	exited  chan struct{}
	dropped chan struct{} // closed by Kill, nobody reads events after that
	done    chan struct{}
}

func (h *processHost) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.err = err
	h.control.Close()
	h.mu.Unlock()
	h.logFile.Close()
	close(h.exited)
}

func (h *processHost) pump() {
	defer close(h.done)
	defer h.tailer.Close()
	defer close(h.events)

	for line := range h.tailer.Follow(context.Background(), h.exited) {
		var ev HostEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			h.log.Debug("Ignoring malformed host event %q: %v", string(line), err)
			continue
		}
		select {
		case h.events <- ev:
		case <-h.dropped:
		}
	}
}

func (h *processHost) Send(cmd HostCommand) error {
	select {
	case <-h.exited:
		return ErrHostExited
	default:
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.control.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write control file: %w", err)
	}
	return nil
}

func (h *processHost) Events() <-chan HostEvent { return h.events }
func (h *processHost) Done() <-chan struct{}    { return h.done }

func (h *processHost) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *processHost) Kill() error {
	var err error
	h.kill.Do(func() {
		close(h.dropped)
		select {
		case <-h.exited:
		default:
			err = h.cmd.Process.Kill()
		}
	})
	return err
}
