package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"htr/internal/catalog"
	"htr/internal/domain"
	"htr/internal/parser"
	"htr/internal/storage"
	"htr/internal/ui"
)

// State is the run controller state
type State string

const (
	StateIdle       State = "Idle"
	StatePreparing  State = "Preparing"
	StateExecuting  State = "Executing"
	StateCancelling State = "Cancelling"
)

const (
	triggerRun      = "run"
	triggerPrepared = "prepared"
	triggerCancel   = "cancel"
	triggerFinish   = "finish"
)

// Options are the run settings the controller applies
type Options struct {
	ResultsPath      string
	GroupByModel     bool
	Continuous       bool
	Concat           bool
	WorkingDirectory string
	ResolutionDirs   []string
	Product          domain.Product
}

// Controller runs the selected tests of a catalog, one run at a time
type Controller struct {
	catalog    *catalog.Catalog
	scheduler  Scheduler
	supervisor *Supervisor
	parser     parser.Parser
	log        *ui.Logger
	timeout    time.Duration

	mu      sync.Mutex
	opts    Options
	machine *stateless.StateMachine
	running bool
	done    chan struct{}

	cancelled atomic.Bool
}

// NewController creates a new Controller
func NewController(cat *catalog.Catalog, scheduler Scheduler, supervisor *Supervisor, p parser.Parser, log *ui.Logger, opts Options) *Controller {
	c := &Controller{
		catalog:    cat,
		scheduler:  scheduler,
		supervisor: supervisor,
		parser:     p,
		log:        log,
		timeout:    supervisor.opts.Timeout,
		opts:       opts,
		machine:    stateless.NewStateMachine(StateIdle),
	}

	c.machine.Configure(StateIdle).
		Permit(triggerRun, StatePreparing).
		Ignore(triggerCancel).
		Ignore(triggerFinish)
	c.machine.Configure(StatePreparing).
		Permit(triggerPrepared, StateExecuting).
		Permit(triggerCancel, StateCancelling).
		Permit(triggerFinish, StateIdle)
	c.machine.Configure(StateExecuting).
		Permit(triggerCancel, StateCancelling).
		Permit(triggerFinish, StateIdle)
	c.machine.Configure(StateCancelling).
		Ignore(triggerCancel).
		Ignore(triggerPrepared).
		Permit(triggerFinish, StateIdle)

	return c
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.MustState().(State)
}

// Running reports whether a run is active
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Options returns the current run settings
func (c *Controller) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// SetOptions replaces the run settings; not allowed during a run
func (c *Controller) SetOptions(opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunInProgress
	}
	c.opts = opts
	return nil
}

// SetCatalog swaps the catalog the next run reads; not allowed during a run
func (c *Controller) SetCatalog(cat *catalog.Catalog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunInProgress
	}
	c.catalog = cat
	return nil
}

// RunAllTests starts a run of every selected test and returns its event
// stream. The stream always ends with exactly one RunsComplete event and is
// then closed. The caller must drain it. Configuration problems found while
// preparing are reported on the stream as ConfigurationError.
func (c *Controller) RunAllTests(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	opts := c.opts
	if opts.ResultsPath == "" {
		c.mu.Unlock()
		return nil, ErrNoResultsPath
	}
	if opts.GroupByModel && !opts.Continuous {
		c.mu.Unlock()
		return nil, ErrGroupByModelRequiresContinuous
	}
	c.running = true
	c.done = make(chan struct{})
	c.cancelled.Store(false)
	c.fire(triggerRun)
	cat := c.catalog
	c.mu.Unlock()

	events := make(chan Event, 64)
	runID := uuid.NewString()
	started := time.Now()
	results := storage.NewResultsFile(opts.ResultsPath)

	plan, err := c.prepare(cat, opts, results)
	if err != nil {
		c.log.Error("No tests were run due to configuration problems: %v", err)
		summary := &domain.RunSummary{
			RunID:       runID,
			Product:     opts.Product.Name,
			ResultsPath: results.Path(),
			Timestamp:   time.Now().Format(time.RFC3339),
			Error:       err.Error(),
		}
		var failures []domain.TestFailure
		if plan != nil && len(plan.Unrunnable) > 0 {
			// Selected tests with a missing model are still settled
			coll := NewCollector(runID, "", c.parser, c.log, nil, func(e Event) {
				e.RunID = runID
				events <- e
			})
			coll.NotRunnable(plan.Unrunnable)
			summary.Counts = coll.Counts()
			summary.Selected = len(plan.Tests()) + len(plan.Unrunnable)
			failures = coll.Failures()
		}
		summary.Elapsed = time.Since(started)

		events <- Event{Kind: EventConfigurationError, RunID: runID, Err: err, Message: err.Error(), Counts: summary.Counts}
		events <- Event{
			Kind:     EventRunsComplete,
			RunID:    runID,
			Err:      err,
			Counts:   summary.Counts,
			Summary:  summary,
			Failures: failures,
		}
		c.finish()
		close(events)
		return events, nil
	}

	c.mu.Lock()
	c.fire(triggerPrepared)
	c.mu.Unlock()

	go c.execute(ctx, runID, opts, plan, results, events, started)
	return events, nil
}

// prepare resets the results file and plans the run
func (c *Controller) prepare(cat *catalog.Catalog, opts Options, results *storage.ResultsFile) (*Plan, error) {
	if !opts.Concat {
		if err := results.Reset(); err != nil {
			return nil, err
		}
	}
	if cat == nil {
		return nil, ErrNoRunnableTests
	}

	cat.RefreshModels(opts.WorkingDirectory, opts.ResolutionDirs)
	cat.ResetStatuses()

	runnable := cat.Runnable()
	tests := make([]domain.TestCase, len(runnable))
	for i, t := range runnable {
		tests[i] = t.Case()
	}

	plan, err := c.scheduler.Schedule(tests, PlanOptions{
		GroupByModel:     opts.GroupByModel,
		Continuous:       opts.Continuous,
		Product:          opts.Product,
		WorkingDirectory: opts.WorkingDirectory,
	})
	if err != nil {
		return nil, err
	}
	// The plan comes back with the error so its unrunnable tests can be reported
	if err := c.supervisor.Setup(plan.Batches); err != nil {
		return plan, err
	}
	return plan, nil
}

func (c *Controller) execute(ctx context.Context, runID string, opts Options, plan *Plan, results *storage.ResultsFile, events chan<- Event, started time.Time) {
	emit := func(e Event) {
		e.RunID = runID
		e.Batches = len(plan.Batches)
		events <- e
	}
	coll := NewCollector(runID, results.Path(), c.parser, c.log, c.cancelled.Load, emit)

	// The context watcher must be gone before finish, or a late cancel
	// would hit the next run
	stop := make(chan struct{})
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		select {
		case <-ctx.Done():
			c.Cancel()
		case <-stop:
		}
	}()

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("test run aborted: %v", r)
			c.log.Error("%v", runErr)
		}
		close(stop)
		<-watching
		if err := c.supervisor.EndServer(); err != nil {
			c.log.Warn("Could not stop the server: %v", err)
		}

		summary := &domain.RunSummary{
			RunID:       runID,
			Counts:      coll.Counts(),
			Selected:    len(plan.Tests()) + len(plan.Unrunnable),
			Batches:     len(plan.Batches),
			Cancelled:   c.cancelled.Load(),
			Product:     opts.Product.Name,
			ResultsPath: results.Path(),
			Timestamp:   time.Now().Format(time.RFC3339),
			Elapsed:     time.Since(started),
		}
		if runErr != nil {
			summary.Error = runErr.Error()
		}
		events <- Event{
			Kind:     EventRunsComplete,
			RunID:    runID,
			Batches:  len(plan.Batches),
			Counts:   summary.Counts,
			Err:      runErr,
			Summary:  summary,
			Failures: coll.Failures(),
		}
		c.finish()
		close(events)
	}()

	coll.NotRunnable(plan.Unrunnable)

	if err := c.supervisor.StartServer(ServerRun{
		RunID:            runID,
		Results:          results,
		Continuous:       opts.Continuous,
		WorkingDirectory: opts.WorkingDirectory,
		ResolutionDirs:   opts.ResolutionDirs,
	}); err != nil {
		runErr = err
		c.log.Error("Could not start the server: %v", err)
		coll.NotRunnable(plan.Tests())
		return
	}

	for i, batch := range plan.Batches {
		if ctx.Err() != nil {
			c.Cancel()
		}
		if c.cancelled.Load() {
			var rest []domain.TestCase
			for _, b := range plan.Batches[i:] {
				rest = append(rest, b.Tests...)
			}
			coll.Cancel(rest)
			break
		}

		emit(Event{Kind: EventBatchStarted, Batch: batch.Index, Tests: batch.Tests, Counts: coll.Counts()})
		out, err := c.supervisor.RunBatch(ctx, batch, c.cancelled.Load, func(t domain.TestCase, r domain.TestResult) {
			if r.Status.IsFailed() {
				coll.TestFailed(batch.Index, t, r)
			}
		})
		if err != nil {
			c.log.Error("Batch %d: %v", batch.Index, err)
		}
		if out != nil && out.Aborted {
			c.Cancel()
		}
		if out != nil {
			for _, t := range out.TimedOutTests() {
				coll.TestTimedOut(batch.Index, t, c.timeout)
			}
		}
		var reported map[string]domain.TestResult
		if out != nil {
			reported = out.Results
		}
		coll.TestComplete(batch.Index, batch.Tests, reported)
	}
}

// Cancel asks the active run to stop. Tests not yet started become
// Cancelled; the running batch is asked to cancel at the next poll.
func (c *Controller) Cancel() {
	c.cancelled.Store(true)
	c.mu.Lock()
	if c.running {
		c.fire(triggerCancel)
	}
	c.mu.Unlock()
}

// Wait blocks until the active run, if any, has finished
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels an active run and waits for it to finish
func (c *Controller) Close() error {
	if c.Running() {
		c.Cancel()
	}
	c.Wait()
	return c.supervisor.EndServer()
}

func (c *Controller) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fire(triggerFinish)
	c.running = false
	if c.done != nil {
		close(c.done)
	}
}

// fire must be called with c.mu held
func (c *Controller) fire(trigger string) {
	if err := c.machine.Fire(trigger); err != nil {
		c.log.Debug("State %v ignores %s: %v", c.machine.MustState(), trigger, err)
	}
}
