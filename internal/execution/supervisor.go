package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"htr/internal/catalog"
	"htr/internal/domain"
	"htr/internal/journal"
	"htr/internal/storage"
	"htr/internal/ui"
)

// SupervisorOptions are the host handling settings
type SupervisorOptions struct {
	StateDir     string
	Timeout      time.Duration // Without any host event
	PollInterval time.Duration
	ExitGrace    time.Duration // Wait for a host told to exit before killing it
	Debug        bool          // Keep the channel directory after the run
}

// ServerRun is the per-run context handed to StartServer
type ServerRun struct {
	RunID            string
	Results          *storage.ResultsFile
	Continuous       bool
	WorkingDirectory string
	ResolutionDirs   []string
}

// ResultObserver is told about each result as it arrives
type ResultObserver func(test domain.TestCase, result domain.TestResult)

// BatchOutcome is what happened to a batch on the host
type BatchOutcome struct {
	Batch      domain.RunBatch
	Results    map[string]domain.TestResult
	InFlight   string // Started but no result yet
	AnyStarted bool
	Completed  bool
	TimedOut   bool
	Exited     bool // Host went away before completing
	Aborted    bool // Context cancelled
	CancelSent bool
	Started    time.Time
	Finished   time.Time
}

// TimedOutTests returns the tests blamed for a timeout: the in-flight test,
// or every test without a result when none was reported started.
func (o *BatchOutcome) TimedOutTests() []domain.TestCase {
	if !o.TimedOut {
		return nil
	}
	var out []domain.TestCase
	for _, t := range o.Batch.Tests {
		if _, ok := o.Results[t.ID]; ok {
			continue
		}
		if t.ID == o.InFlight || !o.AnyStarted {
			out = append(out, t)
		}
	}
	return out
}

// Supervisor owns the host process for a run
type Supervisor struct {
	launcher Launcher
	journal  *journal.Template
	log      *ui.Logger
	opts     SupervisorOptions

	run        ServerRun
	started    bool
	channelDir string
	host       Host
	product    domain.Product
}

// NewSupervisor creates a new Supervisor
func NewSupervisor(launcher Launcher, tmpl *journal.Template, log *ui.Logger, opts SupervisorOptions) *Supervisor {
	if tmpl == nil {
		tmpl = journal.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.ExitGrace <= 0 {
		opts.ExitGrace = 5 * time.Second
	}
	return &Supervisor{launcher: launcher, journal: tmpl, log: log, opts: opts}
}

// Setup validates a plan before anything is launched
func (s *Supervisor) Setup(batches []domain.RunBatch) error {
	if len(batches) == 0 {
		return ErrNoRunnableTests
	}
	checked := make(map[string]bool)
	for _, b := range batches {
		if checked[b.Product.Path] {
			continue
		}
		if _, err := ResolveHost(b.Product.Path); err != nil {
			return err
		}
		checked[b.Product.Path] = true
	}
	return nil
}

// StartServer prepares the side-channel directory for a run. Calling it again
// for the same run is a no-op.
func (s *Supervisor) StartServer(run ServerRun) error {
	if s.started && s.run.RunID == run.RunID {
		return nil
	}
	if s.started {
		if err := s.EndServer(); err != nil {
			return err
		}
	}

	dir := filepath.Join(RunsDir(s.opts.StateDir), run.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create channel dir: %w", err)
	}
	if err := writeActiveMarker(dir); err != nil {
		return fmt.Errorf("mark run active: %w", err)
	}
	s.run = run
	s.channelDir = dir
	s.started = true
	s.log.Debug("Server started for run %s in %s", run.RunID, dir)
	return nil
}

// EndServer stops any live host and removes the side channel. Safe to call
// more than once or without StartServer.
func (s *Supervisor) EndServer() error {
	s.stopHost()
	if !s.started {
		return nil
	}
	s.started = false

	var err error
	if s.opts.Debug {
		// Kept for inspection until htr cleanup
		if rmErr := removeActiveMarker(s.channelDir); rmErr != nil {
			err = fmt.Errorf("clear active mark: %w", rmErr)
		}
	} else if rmErr := os.RemoveAll(s.channelDir); rmErr != nil {
		err = fmt.Errorf("remove channel dir: %w", rmErr)
	}
	s.log.Debug("Server stopped for run %s", s.run.RunID)
	s.channelDir = ""
	s.run = ServerRun{}
	return err
}

// RunBatch executes one batch and writes its record to the results file.
// cancelled is polled; once it reports true the host is asked to cancel and
// the batch is left to complete or time out.
func (s *Supervisor) RunBatch(ctx context.Context, batch domain.RunBatch, cancelled func() bool, observe ResultObserver) (*BatchOutcome, error) {
	out := &BatchOutcome{
		Batch:   batch,
		Results: make(map[string]domain.TestResult),
		Started: time.Now(),
	}
	if !s.started {
		return out, fmt.Errorf("server not started")
	}

	host, err := s.acquire(ctx, batch.Product)
	if err != nil {
		return out, err
	}

	model := ""
	if batch.ModelPath != "" {
		model = catalog.ResolveModel(batch.ModelPath, s.run.WorkingDirectory, s.run.ResolutionDirs)
	}
	journalPath := filepath.Join(s.channelDir, journal.FileName(batch))
	if err := s.journal.Write(journalPath, journal.Data{
		RunID:            s.run.RunID,
		Batch:            batch.Index,
		Product:          batch.Product,
		Model:            model,
		WorkingDirectory: s.run.WorkingDirectory,
		ResultsPath:      s.resultsPath(),
		ResolutionDirs:   s.run.ResolutionDirs,
		Tests:            batch.Tests,
	}); err != nil {
		return out, err
	}

	ids := make([]string, len(batch.Tests))
	for i, t := range batch.Tests {
		ids[i] = t.ID
	}
	if err := host.Send(HostCommand{
		Command: CommandRun,
		RunID:   s.run.RunID,
		Batch:   batch.Index,
		Tests:   ids,
		Model:   model,
		Journal: journalPath,
	}); err != nil {
		s.killHost()
		out.Exited = true
		out.Finished = time.Now()
		return out, fmt.Errorf("send run command: %w", err)
	}

	s.await(ctx, host, out, cancelled, observe)
	out.Finished = time.Now()

	s.writeRecord(out)
	s.release(out)
	return out, nil
}

func (s *Supervisor) await(ctx context.Context, host Host, out *BatchOutcome, cancelled func() bool, observe ResultObserver) {
	tests := make(map[string]domain.TestCase, len(out.Batch.Tests))
	for _, t := range out.Batch.Tests {
		tests[t.ID] = t
	}

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	events := host.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				out.Exited = true
				if err := host.Err(); err != nil {
					s.log.Warn("Host exited during batch %d: %v", out.Batch.Index, err)
				} else {
					s.log.Warn("Host exited during batch %d", out.Batch.Index)
				}
				return
			}
			if ev.Batch != 0 && ev.Batch != out.Batch.Index {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.opts.Timeout)

			switch ev.Event {
			case HostStarted:
				if _, ok := tests[ev.Test]; ok {
					out.AnyStarted = true
					out.InFlight = ev.Test
				}
			case HostResult:
				test, ok := tests[ev.Test]
				if !ok {
					s.log.Debug("Ignoring result for unknown test %s", ev.Test)
					continue
				}
				status, err := domain.ParseTestStatus(ev.Status)
				if err != nil {
					s.log.Warn("Host reported %v for %s", err, ev.Test)
					continue
				}
				out.AnyStarted = true
				if out.InFlight == ev.Test {
					out.InFlight = ""
				}
				if _, dup := out.Results[ev.Test]; dup {
					continue
				}
				res := domain.TestResult{
					TestID:     ev.Test,
					Status:     status,
					Message:    ev.Message,
					StackTrace: ev.StackTrace,
					Duration:   time.Duration(ev.Duration * float64(time.Second)),
				}
				out.Results[ev.Test] = res
				if observe != nil {
					observe(test, res)
				}
			case HostComplete:
				out.Completed = true
				return
			}
		case <-timer.C:
			out.TimedOut = true
			s.log.Warn("Batch %d timed out after %s without progress", out.Batch.Index, s.opts.Timeout)
			return
		case <-ticker.C:
			if !out.CancelSent && cancelled != nil && cancelled() {
				if err := host.Send(HostCommand{Command: CommandCancel, RunID: s.run.RunID, Batch: out.Batch.Index}); err != nil {
					s.log.Debug("Cancel command not delivered: %v", err)
				}
				out.CancelSent = true
			}
		case <-ctx.Done():
			out.Aborted = true
			return
		}
	}
}

func (s *Supervisor) writeRecord(out *BatchOutcome) {
	if s.run.Results == nil {
		return
	}

	record := domain.TestRunRecord{
		ID:       s.run.RunID,
		Batch:    out.Batch.Index,
		Product:  out.Batch.Product.Name,
		Version:  out.Batch.Product.Version,
		Model:    out.Batch.ModelPath,
		Started:  out.Started.Format(time.RFC3339),
		Finished: out.Finished.Format(time.RFC3339),
	}
	timedOut := make(map[string]bool)
	for _, t := range out.TimedOutTests() {
		timedOut[t.ID] = true
	}

	for _, t := range out.Batch.Tests {
		c := domain.TestCaseRecord{
			ID:       t.ID,
			Name:     t.Name,
			Fixture:  t.Fixture,
			Assembly: t.Assembly,
		}
		if res, ok := out.Results[t.ID]; ok {
			c.Result = res.Status
			c.Duration = res.Duration.Seconds()
			if res.Message != "" || res.StackTrace != "" {
				c.Failure = &domain.FailureRecord{Message: res.Message, StackTrace: res.StackTrace}
			}
		} else if timedOut[t.ID] {
			c.Result = domain.StatusTimedOut
			c.Failure = &domain.FailureRecord{Message: timeoutMessage(s.opts.Timeout)}
		} else {
			// No result received
			continue
		}
		record.Cases = append(record.Cases, c)
	}

	if err := s.run.Results.Append(record); err != nil {
		s.log.Error("Could not write results for batch %d: %v", out.Batch.Index, err)
	}
}

func (s *Supervisor) resultsPath() string {
	if s.run.Results == nil {
		return ""
	}
	return s.run.Results.Path()
}

// acquire reuses the live host under continuous mode when the product is unchanged
func (s *Supervisor) acquire(ctx context.Context, product domain.Product) (Host, error) {
	if s.host != nil {
		if s.run.Continuous && s.product == product && alive(s.host) {
			return s.host, nil
		}
		s.stopHost()
	}

	host, err := s.launcher.Launch(ctx, LaunchSpec{
		Product:          product,
		WorkingDirectory: s.run.WorkingDirectory,
		ChannelDir:       s.channelDir,
		ResultsPath:      s.resultsPath(),
		ResolutionDirs:   s.run.ResolutionDirs,
		Debug:            s.opts.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("launch host: %w", err)
	}
	s.host = host
	s.product = product
	return host, nil
}

// release decides whether the host survives the batch
func (s *Supervisor) release(out *BatchOutcome) {
	switch {
	case out.TimedOut, out.Aborted:
		s.killHost()
	case out.Exited:
		s.host = nil
	case !s.run.Continuous:
		s.stopHost()
	}
}

// stopHost asks the host to exit and kills it after the grace period
func (s *Supervisor) stopHost() {
	if s.host == nil {
		return
	}
	host := s.host
	s.host = nil

	if !alive(host) {
		return
	}
	if err := host.Send(HostCommand{Command: CommandExit, RunID: s.run.RunID}); err != nil {
		_ = host.Kill()
		return
	}
	go drain(host)
	select {
	case <-host.Done():
	case <-time.After(s.opts.ExitGrace):
		s.log.Warn("Host did not exit within %s, killing it", s.opts.ExitGrace)
		_ = host.Kill()
	}
}

func (s *Supervisor) killHost() {
	if s.host == nil {
		return
	}
	if err := s.host.Kill(); err != nil {
		s.log.Debug("Kill host: %v", err)
	}
	s.host = nil
}

func alive(h Host) bool {
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}

// drain discards events of a host nobody reads from anymore
func drain(h Host) {
	for range h.Events() {
	}
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Test timed out after %s without progress", d)
}
