package storage

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"htr/internal/domain"
)

// ResultsFile is the append-only XML record of test outcomes.
// Each batch appends one <test-run> element.
type ResultsFile struct {
	path string
	mu   sync.Mutex
}

// NewResultsFile returns a ResultsFile at path
func NewResultsFile(path string) *ResultsFile {
	return &ResultsFile{path: path}
}

// Path returns the file location
func (r *ResultsFile) Path() string {
	return r.path
}

// Reset removes the file so the next run starts fresh
func (r *ResultsFile) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove results file: %w", err)
	}
	return nil
}

// Append writes a test run record at the end of the file
func (r *ResultsFile) Append(record domain.TestRunRecord) error {
	data, err := xml.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal test run: %w", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write results: %w", err)
	}
	return f.Close()
}
