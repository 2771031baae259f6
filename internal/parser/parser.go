package parser

import "htr/internal/domain"

// Parser reads test outcomes back from a results file
type Parser interface {
	Parse(path string) ([]domain.TestRunRecord, error)
	Outcomes(path, runID string, testIDs []string) (map[string]domain.TestResult, error)
}
