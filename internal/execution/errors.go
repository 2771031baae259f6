package execution

import "errors"

var (
	// ErrRunInProgress is returned when a run is requested while another is active
	ErrRunInProgress = errors.New("a test run is already in progress")
	// ErrNoResultsPath is returned when no results file has been chosen
	ErrNoResultsPath = errors.New("no results path set")
	// ErrGroupByModelRequiresContinuous rejects grouping by model without a reusable host
	ErrGroupByModelRequiresContinuous = errors.New("group by model requires continuous mode")
	// ErrNoRunnableTests is returned when nothing is selected to run
	ErrNoRunnableTests = errors.New("no runnable tests selected")
	// ErrHostNotResolved is returned when the host executable cannot be found
	ErrHostNotResolved = errors.New("host executable not found")
	// ErrHostExited is returned when a command is sent to a host that is gone
	ErrHostExited = errors.New("host process has exited")
)
