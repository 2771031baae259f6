package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RecentFiles remembers the most recently used session files, newest first
type RecentFiles struct {
	path string
	max  int
}

type recentDocument struct {
	Files []string `yaml:"files"`
}

// NewRecentFiles stores the list in path and keeps at most max entries
func NewRecentFiles(path string, max int) *RecentFiles {
	if max <= 0 {
		max = 3
	}
	return &RecentFiles{path: path, max: max}
}

// List returns the remembered files. A missing store is an empty list.
func (r *RecentFiles) List() ([]string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recent files: %w", err)
	}
	var doc recentDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse recent files %s: %w", r.path, err)
	}
	if len(doc.Files) > r.max {
		doc.Files = doc.Files[:r.max]
	}
	return doc.Files, nil
}

// Add moves file to the top of the list
func (r *RecentFiles) Add(file string) error {
	if abs, err := filepath.Abs(file); err == nil {
		file = abs
	}
	current, err := r.List()
	if err != nil {
		// A corrupt list is replaced rather than blocking a save
		current = nil
	}

	files := []string{file}
	for _, f := range current {
		if len(files) == r.max {
			break
		}
		if f != file {
			files = append(files, f)
		}
	}

	data, err := yaml.Marshal(recentDocument{Files: files})
	if err != nil {
		return fmt.Errorf("failed to marshal recent files: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create recent files directory: %w", err)
	}
	return os.WriteFile(r.path, data, 0644)
}
