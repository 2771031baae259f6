package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanner_Scan(t *testing.T) {
	// Create a temporary directory structure for testing
	tmpDir, err := os.MkdirTemp("", "htr-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	files := []string{
		"bin/Walls.tests.yaml",
		"bin/Floors.tests.yaml",
		"bin/nested/Roofs.tests.yaml",
		"obj/Stale.tests.yaml",
		".htr/Old.tests.yaml",
		"bin/Walls.dll",
	}
	for _, file := range files {
		fullPath := filepath.Join(tmpDir, file)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", file, err)
		}
		if err := os.WriteFile(fullPath, []byte("assembly: x"), 0644); err != nil {
			t.Fatalf("failed to create file %s: %v", file, err)
		}
	}

	scanner := NewScanner([]string{"obj"}, ".tests.yaml")

	t.Run("scans manifests correctly", func(t *testing.T) {
		results, err := scanner.Scan(tmpDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// obj is skipped, hidden dirs are skipped
		if len(results) != 3 {
			t.Errorf("expected 3 manifests, got %d: %v", len(results), results)
		}
	})

	t.Run("manifest file is returned as-is", func(t *testing.T) {
		manifest := filepath.Join(tmpDir, "bin", "Walls.tests.yaml")
		results, err := scanner.Scan(manifest)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 1 || results[0] != manifest {
			t.Errorf("expected [%s], got %v", manifest, results)
		}
	})

	t.Run("returns error for non-existent directory", func(t *testing.T) {
		_, err := scanner.Scan("/non/existent/path")
		if err == nil {
			t.Error("expected error for non-existent directory")
		}
	})

	t.Run("returns error for a file that is not a manifest", func(t *testing.T) {
		_, err := scanner.Scan(filepath.Join(tmpDir, "bin", "Walls.dll"))
		if err == nil {
			t.Error("expected error for non-manifest file")
		}
	})
}
