package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htr/internal/domain"
	"htr/internal/parser"
)

func TestController_GroupedRunReusesHost(t *testing.T) {
	launcher := newFakeLauncher()
	f := newFixture(t, launcher, []string{"A.dat", "B.dat"},
		testSpec{"T1", "A.dat"}, testSpec{"T2", "A.dat"}, testSpec{"T3", "B.dat"})
	c := f.controller(time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	batches := kinds(all, EventBatchStarted)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Tests, 2)
	assert.Equal(t, "T1", batches[0].Tests[0].Name)
	assert.Equal(t, "T2", batches[0].Tests[1].Name)
	assert.Equal(t, "T3", batches[1].Tests[0].Name)

	assert.Equal(t, 1, launcher.launches(), "continuous host is reused for the same product")
	assert.Equal(t, []string{CommandRun, CommandRun, CommandExit}, launcher.host(0).commands())

	for _, name := range []string{"T1", "T2", "T3"} {
		assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, name))
	}

	complete := kinds(all, EventRunsComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, EventRunsComplete, all[len(all)-1].Kind, "RunsComplete is last")
	assert.Equal(t, domain.RunCounts{Passed: 3}, complete[0].Counts)
	assert.Equal(t, 3, complete[0].Summary.Selected)
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Running())

	_, err = os.Stat(filepath.Join(f.dir, ".htr", "runs", complete[0].RunID))
	assert.True(t, os.IsNotExist(err), "channel directory removed by EndServer")
}

func TestController_Timeout(t *testing.T) {
	hang := func(h *fakeHost, cmd HostCommand) {
		if cmd.Command == CommandRun {
			h.emit(HostEvent{Event: HostStarted, Batch: cmd.Batch, Test: cmd.Tests[0]})
		}
	}
	launcher := newFakeLauncher(hang, passAll)
	f := newFixture(t, launcher, []string{"A.dat", "B.dat"},
		testSpec{"T1", "A.dat"}, testSpec{"T2", "A.dat"}, testSpec{"T3", "B.dat"})
	c := f.controller(100*time.Millisecond, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	assert.Equal(t, domain.StatusTimedOut, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusNotRunnable, status(t, f.catalog, "T2"))
	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T3"))

	assert.Equal(t, 2, launcher.launches(), "a fresh host runs the next batch")
	assert.True(t, launcher.host(0).killed)

	timedOut := kinds(all, EventTestTimedOut)
	require.Len(t, timedOut, 1)
	assert.Equal(t, "T1", timedOut[0].Test.Name)

	complete := kinds(all, EventRunsComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, domain.RunCounts{Passed: 1, Failed: 2}, complete[0].Counts)

	// The timeout is recorded in the results file
	runs, err := parser.NewResultsParser().Parse(f.options().ResultsPath)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Len(t, runs[0].Cases, 1)
	assert.Equal(t, domain.StatusTimedOut, runs[0].Cases[0].Result)
}

func TestController_TimeoutBeforeAnyStart(t *testing.T) {
	silent := func(h *fakeHost, cmd HostCommand) {}
	launcher := newFakeLauncher(silent)
	f := newFixture(t, launcher, []string{"A.dat"}, testSpec{"T1", "A.dat"}, testSpec{"T2", "A.dat"})
	c := f.controller(50*time.Millisecond, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	collect(t, f.catalog, events)

	assert.Equal(t, domain.StatusTimedOut, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusTimedOut, status(t, f.catalog, "T2"))
}

func TestController_FailureStreamsImmediately(t *testing.T) {
	failing := func(h *fakeHost, cmd HostCommand) {
		switch cmd.Command {
		case CommandRun:
			h.emit(HostEvent{Event: HostResult, Batch: cmd.Batch, Test: cmd.Tests[0], Status: "Failure", Message: "boom", StackTrace: "at A\nat B"})
			h.emit(HostEvent{Event: HostComplete, Batch: cmd.Batch})
		case CommandExit:
			h.exit(nil)
		}
	}
	f := newFixture(t, newFakeLauncher(failing), nil, testSpec{"T1", ""})
	c := f.controller(time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	failed := kinds(all, EventTestFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Message)

	node, _ := f.catalog.Find(domain.QualifiedName("Sample", "Fixture", "T1"))
	assert.Equal(t, domain.StatusFailure, node.Status)
	assert.Equal(t, "at A\nat B", node.StackTrace)

	complete := kinds(all, EventRunsComplete)[0]
	require.Len(t, complete.Failures, 1)
	assert.Equal(t, []string{"at A", "at B"}, complete.Failures[0].StackTrace)
}

// cancellingScheduler cancels the controller while the run is being prepared
type cancellingScheduler struct {
	inner  Scheduler
	cancel func()
}

func (s *cancellingScheduler) Schedule(tests []domain.TestCase, opts PlanOptions) (*Plan, error) {
	s.cancel()
	return s.inner.Schedule(tests, opts)
}

func TestController_CancelBeforeStart(t *testing.T) {
	launcher := newFakeLauncher()
	f := newFixture(t, launcher, []string{"A.dat"}, testSpec{"T1", "A.dat"}, testSpec{"T2", ""})
	c := f.controller(time.Second, f.options())
	c.scheduler = &cancellingScheduler{inner: NewModelScheduler(), cancel: c.Cancel}

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	assert.Equal(t, 0, launcher.launches())
	assert.Equal(t, domain.StatusCancelled, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusCancelled, status(t, f.catalog, "T2"))

	complete := kinds(all, EventRunsComplete)
	require.Len(t, complete, 1)
	assert.True(t, complete[0].Summary.Cancelled)
	assert.Equal(t, domain.RunCounts{Skipped: 2}, complete[0].Counts)
}

func TestController_CancelDuringBatch(t *testing.T) {
	var c *Controller
	cancelMidway := func(h *fakeHost, cmd HostCommand) {
		switch cmd.Command {
		case CommandRun:
			h.emit(HostEvent{Event: HostStarted, Batch: cmd.Batch, Test: cmd.Tests[0]})
			h.emit(HostEvent{Event: HostResult, Batch: cmd.Batch, Test: cmd.Tests[0], Status: "Success"})
			c.Cancel()
		case CommandCancel:
			h.emit(HostEvent{Event: HostComplete, Batch: cmd.Batch})
		case CommandExit:
			h.exit(nil)
		}
	}
	launcher := newFakeLauncher(cancelMidway)
	f := newFixture(t, launcher, []string{"A.dat", "B.dat"},
		testSpec{"T1", "A.dat"}, testSpec{"T2", "A.dat"}, testSpec{"T3", "B.dat"})
	c = f.controller(5*time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusCancelled, status(t, f.catalog, "T2"))
	assert.Equal(t, domain.StatusCancelled, status(t, f.catalog, "T3"))
	assert.Contains(t, launcher.host(0).commands(), CommandCancel)
	assert.Len(t, kinds(all, EventBatchStarted), 1)
	assert.Len(t, kinds(all, EventRunsComplete), 1)
}

func TestController_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hang := func(h *fakeHost, cmd HostCommand) {
		if cmd.Command == CommandRun {
			cancel()
		}
	}
	launcher := newFakeLauncher(hang)
	f := newFixture(t, launcher, nil, testSpec{"T1", ""}, testSpec{"T2", ""})
	c := f.controller(10*time.Second, f.options())

	events, err := c.RunAllTests(ctx)
	require.NoError(t, err)
	collect(t, f.catalog, events)

	assert.Equal(t, domain.StatusCancelled, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusCancelled, status(t, f.catalog, "T2"))
	assert.True(t, launcher.host(0).killed)
}

func TestController_NonContinuousStopsHostEachBatch(t *testing.T) {
	launcher := newFakeLauncher()
	f := newFixture(t, launcher, nil, testSpec{"T1", ""}, testSpec{"T2", ""})
	opts := f.options()
	opts.GroupByModel = false
	opts.Continuous = false
	c := f.controller(time.Second, opts)

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	collect(t, f.catalog, events)

	assert.Equal(t, 2, launcher.launches())
	for i := 0; i < 2; i++ {
		assert.Equal(t, []string{CommandRun, CommandExit}, launcher.host(i).commands())
	}
}

func TestController_HostExitLeavesNoResult(t *testing.T) {
	crash := func(h *fakeHost, cmd HostCommand) {
		if cmd.Command == CommandRun {
			h.emit(HostEvent{Event: HostResult, Batch: cmd.Batch, Test: cmd.Tests[0], Status: "Success"})
			h.exit(nil)
		}
	}
	launcher := newFakeLauncher(crash, passAll)
	f := newFixture(t, launcher, []string{"A.dat", "B.dat"},
		testSpec{"T1", "A.dat"}, testSpec{"T2", "A.dat"}, testSpec{"T3", "B.dat"})
	c := f.controller(time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	collect(t, f.catalog, events)

	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusNotRunnable, status(t, f.catalog, "T2"))
	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T3"))
	assert.Equal(t, 2, launcher.launches())
}

func TestController_RejectsInvalidRuns(t *testing.T) {
	f := newFixture(t, newFakeLauncher(), nil, testSpec{"T1", ""})

	t.Run("no results path", func(t *testing.T) {
		opts := f.options()
		opts.ResultsPath = ""
		_, err := f.controller(time.Second, opts).RunAllTests(context.Background())
		assert.ErrorIs(t, err, ErrNoResultsPath)
	})

	t.Run("group by model without continuous", func(t *testing.T) {
		opts := f.options()
		opts.Continuous = false
		_, err := f.controller(time.Second, opts).RunAllTests(context.Background())
		assert.ErrorIs(t, err, ErrGroupByModelRequiresContinuous)
	})

	t.Run("run in progress", func(t *testing.T) {
		block := make(chan struct{})
		launcher := newFakeLauncher(func(h *fakeHost, cmd HostCommand) {
			if cmd.Command == CommandRun {
				<-block
				passAll(h, cmd)
			}
			if cmd.Command == CommandExit {
				h.exit(nil)
			}
		})
		f := newFixture(t, launcher, nil, testSpec{"T1", ""})
		c := f.controller(time.Second, f.options())

		events, err := c.RunAllTests(context.Background())
		require.NoError(t, err)
		_, err = c.RunAllTests(context.Background())
		assert.ErrorIs(t, err, ErrRunInProgress)
		assert.ErrorIs(t, c.SetOptions(f.options()), ErrRunInProgress)

		close(block)
		collect(t, f.catalog, events)
		assert.False(t, c.Running())
	})
}

func TestController_ConfigurationError(t *testing.T) {
	launcher := newFakeLauncher()
	f := newFixture(t, launcher, nil, testSpec{"T1", ""})
	opts := f.options()
	opts.Product.Path = filepath.Join(f.dir, "missing-host.exe")
	c := f.controller(time.Second, opts)

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	require.Len(t, all, 2)
	assert.Equal(t, EventConfigurationError, all[0].Kind)
	assert.ErrorIs(t, all[0].Err, ErrHostNotResolved)
	assert.Equal(t, EventRunsComplete, all[1].Kind)
	assert.Equal(t, domain.RunCounts{}, all[1].Counts)
	assert.Equal(t, 0, launcher.launches())
	assert.Equal(t, StateIdle, c.State())
}

func TestController_NothingSelected(t *testing.T) {
	f := newFixture(t, newFakeLauncher(), nil, testSpec{"T1", ""})
	f.catalog.SelectAll(domain.SelectionOff)
	c := f.controller(time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)
	assert.ErrorIs(t, all[0].Err, ErrNoRunnableTests)
}

func TestController_MissingModelIsNotRunnable(t *testing.T) {
	launcher := newFakeLauncher()
	f := newFixture(t, launcher, []string{"A.dat"}, testSpec{"T1", "A.dat"}, testSpec{"T2", "gone.dat"})
	c := f.controller(time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusNotRunnable, status(t, f.catalog, "T2"))
	assert.Len(t, kinds(all, EventNotRunnable), 1)
	for _, cmd := range launcher.host(0).sent {
		assert.NotContains(t, cmd.Tests, domain.QualifiedName("Sample", "Fixture", "T2"))
	}
}

func TestController_OnlyMissingModelsAreCounted(t *testing.T) {
	launcher := newFakeLauncher()
	f := newFixture(t, launcher, nil, testSpec{"T1", "gone.dat"}, testSpec{"T2", "lost.dat"})
	c := f.controller(time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	assert.Equal(t, EventNotRunnable, all[0].Kind)
	require.Len(t, kinds(all, EventConfigurationError), 1)
	complete := kinds(all, EventRunsComplete)[0]
	assert.ErrorIs(t, complete.Err, ErrNoRunnableTests)
	assert.Equal(t, domain.RunCounts{Failed: 2}, complete.Counts)
	assert.Equal(t, 2, complete.Summary.Selected)
	assert.Equal(t, complete.Counts, f.catalog.Counts())
	assert.Len(t, complete.Failures, 2)
	assert.Equal(t, 0, launcher.launches())
	assert.Equal(t, StateIdle, c.State())
}

func TestController_Concat(t *testing.T) {
	for _, concat := range []bool{false, true} {
		launcher := newFakeLauncher()
		f := newFixture(t, launcher, nil, testSpec{"T1", ""})
		opts := f.options()
		opts.Concat = concat
		c := f.controller(time.Second, opts)

		var ids []string
		for i := 0; i < 2; i++ {
			events, err := c.RunAllTests(context.Background())
			require.NoError(t, err)
			all := collect(t, f.catalog, events)
			ids = append(ids, all[len(all)-1].RunID)
		}
		assert.NotEqual(t, ids[0], ids[1])

		runs, err := parser.NewResultsParser().Parse(opts.ResultsPath)
		require.NoError(t, err)
		if concat {
			require.Len(t, runs, 2)
			assert.Equal(t, ids[0], runs[0].ID)
			assert.Equal(t, ids[1], runs[1].ID)
		} else {
			require.Len(t, runs, 1)
			assert.Equal(t, ids[1], runs[0].ID)
		}
	}
}

func TestController_ConcatAfterTruncatedRecord(t *testing.T) {
	f := newFixture(t, newFakeLauncher(), nil, testSpec{"T1", ""}, testSpec{"T2", ""})
	opts := f.options()
	opts.Concat = true
	require.NoError(t, os.WriteFile(opts.ResultsPath, []byte(`<test-run id="old"><test-case fullname="x" result="Success"`), 0644))
	c := f.controller(time.Second, opts)

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	complete := kinds(all, EventRunsComplete)[0]
	assert.Equal(t, domain.RunCounts{Passed: 2}, complete.Counts)
	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T1"))
	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T2"))

	runs, err := parser.NewResultsParser().Parse(opts.ResultsPath)
	assert.ErrorIs(t, err, parser.ErrMalformedResults)
	require.Len(t, runs, 1)
	assert.Equal(t, complete.RunID, runs[0].ID)
}

func TestController_UnwritableResultsKeepReportedOutcomes(t *testing.T) {
	f := newFixture(t, newFakeLauncher(), nil, testSpec{"T1", ""})
	blocker := filepath.Join(f.dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	opts := f.options()
	opts.Concat = true
	opts.ResultsPath = filepath.Join(blocker, "results.xml")
	c := f.controller(time.Second, opts)

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	assert.Equal(t, domain.RunCounts{Passed: 1}, kinds(all, EventRunsComplete)[0].Counts)
	assert.Equal(t, domain.StatusSuccess, status(t, f.catalog, "T1"))
}

func TestController_FinishedRunIgnoresLateContextCancel(t *testing.T) {
	f := newFixture(t, newFakeLauncher(), nil, testSpec{"T1", ""})
	c := f.controller(time.Second, f.options())

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.RunAllTests(ctx)
	require.NoError(t, err)
	collect(t, f.catalog, events)

	cancel()
	assert.False(t, c.cancelled.Load(), "the context watcher exits before the run finishes")

	events, err = c.RunAllTests(context.Background())
	require.NoError(t, err)
	complete := kinds(collect(t, f.catalog, events), EventRunsComplete)[0]
	assert.False(t, complete.Summary.Cancelled)
	assert.Equal(t, domain.RunCounts{Passed: 1}, complete.Counts)
}

func TestController_TerminalCountProperty(t *testing.T) {
	mixed := func(h *fakeHost, cmd HostCommand) {
		switch cmd.Command {
		case CommandRun:
			statuses := []string{"Success", "Failure", "Ignored", "Error"}
			for i, id := range cmd.Tests {
				h.emit(HostEvent{Event: HostResult, Batch: cmd.Batch, Test: id, Status: statuses[i%len(statuses)]})
			}
			h.emit(HostEvent{Event: HostComplete, Batch: cmd.Batch})
		case CommandExit:
			h.exit(nil)
		}
	}
	f := newFixture(t, newFakeLauncher(mixed), []string{"A.dat"},
		testSpec{"T1", "A.dat"}, testSpec{"T2", "A.dat"}, testSpec{"T3", "A.dat"},
		testSpec{"T4", "A.dat"}, testSpec{"T5", ""}, testSpec{"T6", "gone.dat"})
	c := f.controller(time.Second, f.options())

	events, err := c.RunAllTests(context.Background())
	require.NoError(t, err)
	all := collect(t, f.catalog, events)

	complete := kinds(all, EventRunsComplete)[0]
	assert.Equal(t, 6, complete.Counts.Total())
	assert.Equal(t, complete.Counts, f.catalog.Counts())
	for _, node := range f.catalog.Runnable() {
		assert.True(t, node.Status.IsTerminal(), node.ID)
	}
}
