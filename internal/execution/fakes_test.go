package execution

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"htr/internal/catalog"
	"htr/internal/domain"
	"htr/internal/parser"
	"htr/internal/ui"
)

// responder reacts to a command sent to a fake host
type responder func(h *fakeHost, cmd HostCommand)

// passAll reports every test of a run command as passed
func passAll(h *fakeHost, cmd HostCommand) {
	switch cmd.Command {
	case CommandRun:
		for _, id := range cmd.Tests {
			h.emit(HostEvent{Event: HostStarted, Batch: cmd.Batch, Test: id})
			h.emit(HostEvent{Event: HostResult, Batch: cmd.Batch, Test: id, Status: "Success", Duration: 0.01})
		}
		h.emit(HostEvent{Event: HostComplete, Batch: cmd.Batch})
	case CommandExit:
		h.exit(nil)
	}
}

type fakeHost struct {
	mu      sync.Mutex
	respond responder
	sent    []HostCommand
	events  chan HostEvent
	done    chan struct{}
	exited  bool
	killed  bool
	spec    LaunchSpec
}

func newFakeHost(spec LaunchSpec, respond responder) *fakeHost {
	return &fakeHost{
		respond: respond,
		spec:    spec,
		events:  make(chan HostEvent, 256),
		done:    make(chan struct{}),
	}
}

func (h *fakeHost) Send(cmd HostCommand) error {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return ErrHostExited
	}
	h.sent = append(h.sent, cmd)
	h.mu.Unlock()

	if h.respond != nil {
		h.respond(h, cmd)
	}
	return nil
}

func (h *fakeHost) emit(ev HostEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		h.events <- ev
	}
}

func (h *fakeHost) exit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	close(h.events)
	close(h.done)
}

func (h *fakeHost) Events() <-chan HostEvent { return h.events }
func (h *fakeHost) Done() <-chan struct{}    { return h.done }
func (h *fakeHost) Err() error               { return nil }

func (h *fakeHost) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.exit(nil)
	return nil
}

func (h *fakeHost) commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, c := range h.sent {
		out = append(out, c.Command)
	}
	return out
}

// fakeLauncher hands out fake hosts; responders are used in launch order and
// the last one repeats.
type fakeLauncher struct {
	mu         sync.Mutex
	responders []responder
	hosts      []*fakeHost
	err        error
}

func newFakeLauncher(responders ...responder) *fakeLauncher {
	if len(responders) == 0 {
		responders = []responder{passAll}
	}
	return &fakeLauncher{responders: responders}
}

func (l *fakeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Host, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	i := len(l.hosts)
	if i >= len(l.responders) {
		i = len(l.responders) - 1
	}
	h := newFakeHost(spec, l.responders[i])
	l.hosts = append(l.hosts, h)
	return h, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *fakeLauncher) host(i int) *fakeHost {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hosts[i]
}

// fixture is a working directory with model files, a host executable and a catalog
type fixture struct {
	dir      string
	product  domain.Product
	catalog  *catalog.Catalog
	launcher *fakeLauncher
}

type testSpec struct {
	name  string
	model string
}

func newFixture(t *testing.T, launcher *fakeLauncher, models []string, tests ...testSpec) *fixture {
	t.Helper()
	dir := t.TempDir()
	for _, m := range models {
		require.NoError(t, os.WriteFile(filepath.Join(dir, m), []byte("model"), 0644))
	}
	hostPath := filepath.Join(dir, "host.exe")
	require.NoError(t, os.WriteFile(hostPath, []byte("#!/bin/sh\n"), 0755))

	asm := &domain.Assembly{Name: "Sample", Path: filepath.Join(dir, "Sample.dll")}
	for _, ts := range tests {
		asm.Tests = append(asm.Tests, &domain.TestNode{
			ID:        domain.QualifiedName("Sample", "Fixture", ts.name),
			Name:      ts.name,
			Fixture:   "Fixture",
			Category:  "Default",
			Assembly:  "Sample",
			ModelPath: ts.model,
			ShouldRun: domain.SelectionOn,
		})
	}
	cat := catalog.New([]*domain.Assembly{asm}, domain.GroupByFixture)

	return &fixture{
		dir:      dir,
		product:  domain.Product{Name: "Host", Version: "1", Path: hostPath},
		catalog:  cat,
		launcher: launcher,
	}
}

func (f *fixture) options() Options {
	return Options{
		ResultsPath:      filepath.Join(f.dir, "results.xml"),
		GroupByModel:     true,
		Continuous:       true,
		WorkingDirectory: f.dir,
		Product:          f.product,
	}
}

func (f *fixture) controller(timeout time.Duration, opts Options) *Controller {
	sup := NewSupervisor(f.launcher, nil, ui.Discard(), SupervisorOptions{
		StateDir:     filepath.Join(f.dir, ".htr"),
		Timeout:      timeout,
		PollInterval: 5 * time.Millisecond,
		ExitGrace:    time.Second,
	})
	return NewController(f.catalog, NewModelScheduler(), sup, parser.NewResultsParser(), ui.Discard(), opts)
}

// collect drains a run stream, applying updates to the catalog like a consumer would
func collect(t *testing.T, cat *catalog.Catalog, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return all
			}
			if cat != nil {
				cat.Apply(ev.Updates...)
			}
			all = append(all, ev)
		case <-timeout:
			t.Fatal("run did not finish")
			return all
		}
	}
}

func kinds(events []Event, kind EventKind) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func status(t *testing.T, cat *catalog.Catalog, name string) domain.TestStatus {
	t.Helper()
	node, ok := cat.Find(domain.QualifiedName("Sample", "Fixture", name))
	require.True(t, ok, name)
	return node.Status
}
