package storage

import (
	"htr/internal/config"
	"htr/internal/domain"
)

// Storage persists and loads the summary of the last run (e.g. for the faills viewer).
type Storage interface {
	Save(summary domain.RunSummary, failures []domain.TestFailure) error
	Load() (*domain.RunSummaryOutput, error)
	// SaveOutput writes the full output (e.g. after marking failures resolved).
	SaveOutput(output *domain.RunSummaryOutput) error
}

// JSONStorage stores the run summary in a JSON file under the state directory.
type JSONStorage struct {
	cfg *config.Config
}

// NewJSONStorage returns a Storage that reads/writes the config's summary path.
func NewJSONStorage(cfg *config.Config) *JSONStorage {
	return &JSONStorage{cfg: cfg}
}
