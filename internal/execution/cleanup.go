package execution

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// activeMarker sits in a run's channel directory while the run executes and
// holds the pid of the runner process
const activeMarker = "active.pid"

// RunsDir returns where run channel directories live under a state directory
func RunsDir(stateDir string) string {
	return filepath.Join(stateDir, "runs")
}

// CleanupResult lists what CleanupRuns did
type CleanupResult struct {
	Removed []string // Run IDs
	Kept    int      // Newer than the cutoff
}

// CleanupRuns removes run channel directories left behind under stateDir,
// typically by debug runs. With olderThan > 0 only directories last modified
// before now-olderThan are removed. Nothing is removed while any run is active.
func CleanupRuns(stateDir string, olderThan time.Duration, now time.Time) (*CleanupResult, error) {
	root := RunsDir(stateDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &CleanupResult{}, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var runs []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if pid, ok := activePid(filepath.Join(root, e.Name())); ok {
			return nil, fmt.Errorf("%w: run %s (pid %d)", ErrRunInProgress, e.Name(), pid)
		}
		runs = append(runs, e)
	}

	res := &CleanupResult{}
	cutoff := now.Add(-olderThan)
	for _, e := range runs {
		if olderThan > 0 {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				res.Kept++
				continue
			}
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return res, fmt.Errorf("remove run %s: %w", e.Name(), err)
		}
		res.Removed = append(res.Removed, e.Name())
	}
	sort.Strings(res.Removed)
	return res, nil
}

func writeActiveMarker(dir string) error {
	return os.WriteFile(filepath.Join(dir, activeMarker), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removeActiveMarker(dir string) error {
	if err := os.Remove(filepath.Join(dir, activeMarker)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// activePid reports the runner pid of a run directory whose runner is still alive.
// A marker left by a crashed runner does not count.
func activePid(dir string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(dir, activeMarker))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, os.ErrPermission)
}
