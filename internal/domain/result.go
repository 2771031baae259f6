package domain

import "time"

// TestResult is the outcome of one test as reported by the host
type TestResult struct {
	TestID     string
	Status     TestStatus
	Message    string
	StackTrace string
	Duration   time.Duration
}

// RunCounts are the aggregate counters of a run
type RunCounts struct {
	Passed  int `json:"passed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Add buckets a status into the counters
func (c *RunCounts) Add(s TestStatus) {
	switch {
	case s.IsPassed():
		c.Passed++
	case s.IsSkipped():
		c.Skipped++
	case s.IsFailed():
		c.Failed++
	}
}

// Total is the number of tests with a terminal status
func (c RunCounts) Total() int {
	return c.Passed + c.Skipped + c.Failed
}

// RunSummary contains metadata about a finished run
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Counts          RunCounts     `json:"counts"`
	Selected        int           `json:"selected"`
	Batches         int           `json:"batches"`
	Cancelled       bool          `json:"cancelled"`
	Duration        string        `json:"duration"`
	DurationSeconds float64       `json:"duration_seconds"`
	Product         string        `json:"product"`
	ResultsPath     string        `json:"results_path"`
	Timestamp       string        `json:"timestamp"`
	Error           string        `json:"error,omitempty"`
	Elapsed         time.Duration `json:"-"`
}

// RunSummaryOutput is the complete structure persisted after a run
type RunSummaryOutput struct {
	Meta    RunSummary    `json:"meta"`
	Details []TestFailure `json:"details"`
}
