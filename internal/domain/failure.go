package domain

// TestFailure represents a test that did not pass
type TestFailure struct {
	TestID     string   `json:"test_id"`
	TestName   string   `json:"test_name"`
	Fixture    string   `json:"fixture"`
	Assembly   string   `json:"assembly"`
	ModelPath  string   `json:"model_path,omitempty"`
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	StackTrace []string `json:"stack_trace"`
	Resolved   bool     `json:"resolved,omitempty"` // Track if the failure is marked as resolved
}
