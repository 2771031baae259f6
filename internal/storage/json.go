package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"htr/internal/domain"
)

// Save writes the run summary and its failures to the configured JSON file.
func (s *JSONStorage) Save(summary domain.RunSummary, failures []domain.TestFailure) error {
	summary.Duration = summary.Elapsed.String()
	summary.DurationSeconds = summary.Elapsed.Seconds()
	if summary.Timestamp == "" {
		summary.Timestamp = time.Now().Format(time.RFC3339)
	}

	return s.SaveOutput(&domain.RunSummaryOutput{
		Meta:    summary,
		Details: failures,
	})
}

// Load reads the last run summary from the configured JSON file.
func (s *JSONStorage) Load() (*domain.RunSummaryOutput, error) {
	path := s.cfg.GetSummaryPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary file: %w", err)
	}
	var output domain.RunSummaryOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &output, nil
}

// SaveOutput writes the full output to the configured JSON file.
func (s *JSONStorage) SaveOutput(output *domain.RunSummaryOutput) error {
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := s.cfg.GetSummaryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
