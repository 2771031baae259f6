package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htr/internal/catalog"
	"htr/internal/config"
	"htr/internal/domain"
	"htr/internal/execution"
)

const sampleManifest = `
assembly: Sample
fixtures:
  - name: Fixture
    tests:
      - name: T1
      - name: T2
      - name: T3
`

func newProject(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Sample.tests.yaml"), []byte(sampleManifest), 0644))
	host := filepath.Join(dir, "host.sh")
	require.NoError(t, os.WriteFile(host, []byte("#!/bin/sh\n"), 0755))

	cfg := config.New()
	cfg.WorkingDirectory = dir
	cfg.HostPath = host
	cfg.AssemblyPath = "Sample.tests.yaml"
	cfg.ResultsPath = "results.xml"
	return cfg
}

func TestSession_SaveLoadRoundTrip(t *testing.T) {
	cfg := newProject(t)
	cfg.Continuous = false
	cfg.GroupByModel = false
	cfg.Concat = true
	cfg.Timeout = 30
	cfg.AdditionalResolutionDirectories = []string{"/models/shared"}
	cfg.JournalSample = "sample.txt"

	cat := catalog.New([]*domain.Assembly{{Name: "Sample", Tests: []*domain.TestNode{
		{ID: "Sample::Fixture.T1", ShouldRun: domain.SelectionOn},
		{ID: "Sample::Fixture.T2", ShouldRun: domain.SelectionOff},
	}}}, domain.GroupByFixture)

	path := filepath.Join(t.TempDir(), "sessions", "smoke.yaml")
	require.NoError(t, FromConfig(cfg, cat).Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sample::Fixture.T1"}, loaded.Selected)
	assert.Equal(t, 30, loaded.Timeout)
	assert.True(t, loaded.Concat)

	applied := config.New()
	loaded.Apply(applied)
	assert.Equal(t, cfg.WorkingDirectory, applied.WorkingDirectory)
	assert.False(t, applied.Continuous)
	assert.False(t, applied.GroupByModel)
	assert.Equal(t, []string{"/models/shared"}, applied.AdditionalResolutionDirectories)
	assert.Equal(t, "sample.txt", applied.JournalSample)
}

func TestSession_LoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "could not be opened")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("unknown_field: 1\n"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestRecentFiles(t *testing.T) {
	store := NewRecentFiles(filepath.Join(t.TempDir(), "recent.yaml"), 3)

	files, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, files)

	dir := t.TempDir()
	a, b, c, d := filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml"), filepath.Join(dir, "c.yaml"), filepath.Join(dir, "d.yaml")
	for _, f := range []string{a, b, c} {
		require.NoError(t, store.Add(f))
	}
	files, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{c, b, a}, files)

	t.Run("re-adding moves to the top without duplicates", func(t *testing.T) {
		require.NoError(t, store.Add(a))
		files, err := store.List()
		require.NoError(t, err)
		assert.Equal(t, []string{a, c, b}, files)
	})

	t.Run("keeps at most three", func(t *testing.T) {
		require.NoError(t, store.Add(d))
		files, err := store.List()
		require.NoError(t, err)
		assert.Equal(t, []string{d, a, c}, files)
	})
}

func TestWorkspace_OpenAppliesSelection(t *testing.T) {
	cfg := newProject(t)
	recent := NewRecentFiles(filepath.Join(t.TempDir(), "recent.yaml"), 3)

	s := FromConfig(cfg, nil)
	s.Selected = []string{"Sample::Fixture.T2", "Sample::Fixture.Gone"}
	path := filepath.Join(t.TempDir(), "smoke.yaml")
	require.NoError(t, s.Save(path))

	ws := NewWorkspace(config.New(), WorkspaceOptions{Launcher: &passLauncher{}, Recent: recent})
	defer ws.Close()

	require.NoError(t, ws.Open(path))
	require.NotNil(t, ws.Catalog())
	assert.Equal(t, []string{"Sample::Fixture.T2"}, ws.Catalog().SelectedIDs())
	assert.Equal(t, cfg.WorkingDirectory, ws.Config().WorkingDirectory)
	assert.Equal(t, path, ws.Path())

	files, err := recent.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestWorkspace_OpenReplacesState(t *testing.T) {
	cfg := newProject(t)
	ws := NewWorkspace(cfg, WorkspaceOptions{Launcher: &passLauncher{}})
	defer ws.Close()
	require.NoError(t, ws.Load())
	first := ws.Controller()

	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, ws.Save(path))
	require.NoError(t, ws.Open(path))

	assert.NotSame(t, first, ws.Controller())
	assert.Equal(t, execution.StateIdle, first.State())
}

func TestWorkspace_RunAndReload(t *testing.T) {
	cfg := newProject(t)
	launcher := &passLauncher{}
	ws := NewWorkspace(cfg, WorkspaceOptions{Launcher: launcher})
	defer ws.Close()
	require.NoError(t, ws.Load())

	cat := ws.Catalog()
	cat.SelectPattern("")
	events, err := ws.Controller().RunAllTests(context.Background())
	require.NoError(t, err)
	for ev := range events {
		cat.Apply(ev.Updates...)
	}
	assert.Equal(t, domain.RunCounts{Passed: 3}, cat.Counts())

	// Adding a test keeps the outcomes of the existing ones
	manifest := filepath.Join(cfg.WorkingDirectory, "Sample.tests.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(sampleManifest+"      - name: T4\n"), 0644))
	require.NoError(t, ws.Reload())

	reloaded := ws.Catalog()
	assert.Len(t, reloaded.Tests(), 4)
	node, ok := reloaded.Find("Sample::Fixture.T1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusSuccess, node.Status)
}

func TestWorkspace_WatchReloads(t *testing.T) {
	cfg := newProject(t)
	reloaded := make(chan *catalog.Catalog, 4)
	ws := NewWorkspace(cfg, WorkspaceOptions{
		Launcher: &passLauncher{},
		Watch:    true,
		Debounce: 20 * time.Millisecond,
		OnReload: func(c *catalog.Catalog) { reloaded <- c },
	})
	defer ws.Close()
	require.NoError(t, ws.Load())

	manifest := filepath.Join(cfg.WorkingDirectory, "Sample.tests.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(sampleManifest+"      - name: T4\n"), 0644))

	select {
	case c := <-reloaded:
		assert.Len(t, c.Tests(), 4)
	case <-time.After(5 * time.Second):
		t.Fatal("expected the workspace to reload")
	}
}

func TestWorkspace_CloseIsIdempotent(t *testing.T) {
	ws := NewWorkspace(newProject(t), WorkspaceOptions{Launcher: &passLauncher{}, Watch: true})
	require.NoError(t, ws.Load())

	require.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
	assert.ErrorIs(t, ws.Load(), ErrClosed)
	assert.ErrorIs(t, ws.Reload(), ErrClosed)
}

// passLauncher starts hosts that pass every test they are asked to run
type passLauncher struct{}

func (l *passLauncher) Launch(ctx context.Context, spec execution.LaunchSpec) (execution.Host, error) {
	return &passHost{events: make(chan execution.HostEvent, 64), done: make(chan struct{})}, nil
}

type passHost struct {
	mu     sync.Mutex
	events chan execution.HostEvent
	done   chan struct{}
	closed bool
}

func (h *passHost) Send(cmd execution.HostCommand) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return execution.ErrHostExited
	}
	switch cmd.Command {
	case execution.CommandRun:
		for _, id := range cmd.Tests {
			h.events <- execution.HostEvent{Event: execution.HostStarted, Batch: cmd.Batch, Test: id}
			h.events <- execution.HostEvent{Event: execution.HostResult, Batch: cmd.Batch, Test: id, Status: "Success"}
		}
		h.events <- execution.HostEvent{Event: execution.HostComplete, Batch: cmd.Batch}
	case execution.CommandExit:
		h.stop()
	}
	return nil
}

// stop must be called with h.mu held
func (h *passHost) stop() {
	if !h.closed {
		h.closed = true
		close(h.events)
		close(h.done)
	}
}

func (h *passHost) Events() <-chan execution.HostEvent { return h.events }
func (h *passHost) Done() <-chan struct{}              { return h.done }
func (h *passHost) Err() error                         { return nil }

func (h *passHost) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stop()
	return nil
}
