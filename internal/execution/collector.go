package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"htr/internal/catalog"
	"htr/internal/domain"
	"htr/internal/parser"
	"htr/internal/ui"
)

// Collector turns host outcomes into test statuses for one run.
// The first terminal status a test receives is final.
type Collector struct {
	runID       string
	resultsPath string
	parser      parser.Parser
	log         *ui.Logger
	cancelled   func() bool
	emit        func(Event)

	statuses map[string]domain.TestStatus
	failures []domain.TestFailure
}

// NewCollector creates a Collector that sends its events through emit
func NewCollector(runID, resultsPath string, p parser.Parser, log *ui.Logger, cancelled func() bool, emit func(Event)) *Collector {
	return &Collector{
		runID:       runID,
		resultsPath: resultsPath,
		parser:      p,
		log:         log,
		cancelled:   cancelled,
		emit:        emit,
		statuses:    make(map[string]domain.TestStatus),
	}
}

// TestFailed records a failing result as soon as the host reports it
func (c *Collector) TestFailed(batch int, test domain.TestCase, result domain.TestResult) {
	u, ok := c.set(test, result.Status, result.Message, result.StackTrace)
	if !ok {
		return
	}
	c.emit(Event{
		Kind:       EventTestFailed,
		Batch:      batch,
		Test:       &test,
		Message:    result.Message,
		StackTrace: result.StackTrace,
		Updates:    []catalog.StatusUpdate{u},
		Counts:     c.Counts(),
	})
}

// TestTimedOut marks a test that made no progress within the timeout
func (c *Collector) TestTimedOut(batch int, test domain.TestCase, timeout time.Duration) {
	u, ok := c.set(test, domain.StatusTimedOut, timeoutMessage(timeout), "")
	if !ok {
		return
	}
	c.emit(Event{
		Kind:    EventTestTimedOut,
		Batch:   batch,
		Test:    &test,
		Message: u.Message,
		Updates: []catalog.StatusUpdate{u},
		Counts:  c.Counts(),
	})
}

// TestComplete settles the tests of a finished batch. reported holds what
// the host sent for the batch; tests it lacks are looked up in the results
// file. Tests with no result become NotRunnable, or Cancelled once the run
// was cancelled.
func (c *Collector) TestComplete(batch int, tests []domain.TestCase, reported map[string]domain.TestResult) {
	outcomes := make(map[string]domain.TestResult, len(tests))
	var unreported []string
	for _, t := range tests {
		if res, ok := reported[t.ID]; ok && res.Status.IsTerminal() {
			outcomes[t.ID] = res
		} else if !c.statuses[t.ID].IsTerminal() {
			unreported = append(unreported, t.ID)
		}
	}
	if len(unreported) > 0 && c.resultsPath != "" {
		c.readResults(batch, unreported, outcomes)
	}

	missing := domain.StatusNotRunnable
	message := "No result was received for this test"
	if c.cancelled != nil && c.cancelled() {
		missing = domain.StatusCancelled
		message = "Test run was cancelled"
	}

	var updates []catalog.StatusUpdate
	for _, t := range tests {
		var u catalog.StatusUpdate
		var ok bool
		if res, found := outcomes[t.ID]; found && res.Status.IsTerminal() {
			u, ok = c.set(t, res.Status, res.Message, res.StackTrace)
		} else {
			u, ok = c.set(t, missing, message, "")
		}
		if ok {
			updates = append(updates, u)
		}
	}

	c.emit(Event{
		Kind:    EventTestComplete,
		Batch:   batch,
		Tests:   tests,
		Updates: updates,
		Counts:  c.Counts(),
	})
}

// readResults fills outcomes from the results file for the given tests
func (c *Collector) readResults(batch int, ids []string, outcomes map[string]domain.TestResult) {
	found, err := c.parser.Outcomes(c.resultsPath, c.runID, ids)
	if err != nil && !errors.Is(err, parser.ErrNoResults) {
		c.log.Warn("Could not read results for batch %d: %v", batch, err)
	}
	for id, res := range found {
		outcomes[id] = res
	}
}

// Cancel marks tests that were never started as Cancelled
func (c *Collector) Cancel(tests []domain.TestCase) {
	c.bulk(EventTestsCancelled, tests, domain.StatusCancelled, func(domain.TestCase) string {
		return "Test run was cancelled"
	})
}

// NotRunnable marks tests that cannot reach the host
func (c *Collector) NotRunnable(tests []domain.TestCase) {
	c.bulk(EventNotRunnable, tests, domain.StatusNotRunnable, func(t domain.TestCase) string {
		if t.ModelPath != "" && !t.ModelExists {
			return fmt.Sprintf("Model file not found: %s", t.ModelPath)
		}
		return "Test could not be run"
	})
}

func (c *Collector) bulk(kind EventKind, tests []domain.TestCase, status domain.TestStatus, message func(domain.TestCase) string) {
	if len(tests) == 0 {
		return
	}
	var updates []catalog.StatusUpdate
	for _, t := range tests {
		if u, ok := c.set(t, status, message(t), ""); ok {
			updates = append(updates, u)
		}
	}
	c.emit(Event{Kind: kind, Tests: tests, Updates: updates, Counts: c.Counts()})
}

// Status returns the collected status of a test
func (c *Collector) Status(id string) domain.TestStatus {
	return c.statuses[id]
}

// Counts tallies the collected statuses
func (c *Collector) Counts() domain.RunCounts {
	var counts domain.RunCounts
	for _, s := range c.statuses {
		counts.Add(s)
	}
	return counts
}

// Failures returns every failing test in the order it failed
func (c *Collector) Failures() []domain.TestFailure {
	return c.failures
}

func (c *Collector) set(test domain.TestCase, status domain.TestStatus, message, stackTrace string) (catalog.StatusUpdate, bool) {
	if cur := c.statuses[test.ID]; cur.IsTerminal() || !status.IsTerminal() {
		return catalog.StatusUpdate{}, false
	}
	c.statuses[test.ID] = status

	if status.IsFailed() {
		f := domain.TestFailure{
			TestID:    test.ID,
			TestName:  test.Name,
			Fixture:   test.Fixture,
			Assembly:  test.Assembly,
			ModelPath: test.ModelPath,
			Status:    status.String(),
			Message:   strings.TrimSpace(message),
		}
		for _, line := range strings.Split(stackTrace, "\n") {
			if strings.TrimSpace(line) != "" {
				f.StackTrace = append(f.StackTrace, strings.TrimRight(line, "\r"))
			}
		}
		c.failures = append(c.failures, f)
	}

	return catalog.StatusUpdate{
		TestID:     test.ID,
		Status:     status,
		Message:    message,
		StackTrace: stackTrace,
	}, true
}
