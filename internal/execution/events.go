package execution

import (
	"htr/internal/catalog"
	"htr/internal/domain"
)

// EventKind identifies a run event
type EventKind int

const (
	EventBatchStarted EventKind = iota + 1
	EventTestFailed
	EventTestTimedOut
	EventTestComplete
	EventTestsCancelled
	EventNotRunnable
	EventConfigurationError
	EventRunsComplete
)

func (k EventKind) String() string {
	switch k {
	case EventBatchStarted:
		return "BatchStarted"
	case EventTestFailed:
		return "TestFailed"
	case EventTestTimedOut:
		return "TestTimedOut"
	case EventTestComplete:
		return "TestComplete"
	case EventTestsCancelled:
		return "TestsCancelled"
	case EventNotRunnable:
		return "NotRunnable"
	case EventConfigurationError:
		return "ConfigurationError"
	case EventRunsComplete:
		return "RunsComplete"
	}
	return "Unknown"
}

// Event is one entry of a run's outcome stream.
// Consumers apply Updates to their catalog with catalog.Apply.
type Event struct {
	Kind    EventKind
	RunID   string
	Batch   int
	Batches int

	Test       *domain.TestCase // TestFailed, TestTimedOut
	Tests      []domain.TestCase
	Message    string
	StackTrace string
	Updates    []catalog.StatusUpdate

	// Counts are the run totals so far
	Counts domain.RunCounts
	Err    error

	// Set on RunsComplete
	Summary  *domain.RunSummary
	Failures []domain.TestFailure
}
