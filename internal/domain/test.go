package domain

import (
	"fmt"
	"strings"
)

// TestStatus is the outcome state of a single test
type TestStatus int

const (
	StatusNone TestStatus = iota
	StatusSuccess
	StatusFailure
	StatusError
	StatusInconclusive
	StatusIgnored
	StatusSkipped
	StatusCancelled
	StatusTimedOut
	StatusNotRunnable
)

var statusNames = [...]string{
	StatusNone:         "None",
	StatusSuccess:      "Success",
	StatusFailure:      "Failure",
	StatusError:        "Error",
	StatusInconclusive: "Inconclusive",
	StatusIgnored:      "Ignored",
	StatusSkipped:      "Skipped",
	StatusCancelled:    "Cancelled",
	StatusTimedOut:     "TimedOut",
	StatusNotRunnable:  "NotRunnable",
}

func (s TestStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("TestStatus(%d)", int(s))
	}
	return statusNames[s]
}

// IsTerminal reports whether the status is a final outcome
func (s TestStatus) IsTerminal() bool {
	return s != StatusNone
}

// IsPassed, IsSkipped and IsFailed bucket statuses for run-level counts.
func (s TestStatus) IsPassed() bool {
	return s == StatusSuccess
}

func (s TestStatus) IsSkipped() bool {
	switch s {
	case StatusIgnored, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

func (s TestStatus) IsFailed() bool {
	switch s {
	case StatusFailure, StatusError, StatusInconclusive, StatusTimedOut, StatusNotRunnable:
		return true
	}
	return false
}

// ParseTestStatus parses a status name (case insensitive). Common aliases
// reported by hosts ("passed", "failed", "timeout") are accepted.
func ParseTestStatus(s string) (TestStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for i, name := range statusNames {
		if strings.ToLower(name) == v {
			return TestStatus(i), nil
		}
	}
	switch v {
	case "passed", "pass", "ok":
		return StatusSuccess, nil
	case "failed", "fail":
		return StatusFailure, nil
	case "timeout", "timed_out":
		return StatusTimedOut, nil
	case "not_runnable", "notrun":
		return StatusNotRunnable, nil
	}
	return StatusNone, fmt.Errorf("unknown test status %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (s TestStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *TestStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTestStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Selection is the tri-state run flag of a node
type Selection int

const (
	SelectionUnset Selection = iota
	SelectionOn
	SelectionOff
)

func (s Selection) String() string {
	switch s {
	case SelectionOn:
		return "on"
	case SelectionOff:
		return "off"
	default:
		return "unset"
	}
}

// GroupingType controls how tests of an assembly are grouped
type GroupingType string

const (
	GroupByFixture  GroupingType = "fixture"
	GroupByCategory GroupingType = "category"
)

// ParseGroupingType parses a grouping type, defaulting to fixture
func ParseGroupingType(s string) (GroupingType, error) {
	switch GroupingType(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupByFixture:
		return GroupByFixture, nil
	case GroupByCategory:
		return GroupByCategory, nil
	}
	return "", fmt.Errorf("unknown grouping type %q (expected fixture or category)", s)
}

// TestNode is a single test in the catalog
type TestNode struct {
	ID         string // Qualified name: assembly::fixture.name
	Name       string
	Fixture    string
	Category   string
	Assembly   string
	ModelPath  string // Data file the test opens, empty when none is required
	ShouldRun  Selection
	Status     TestStatus
	Message    string
	StackTrace string

	// ModelExists is computed from ModelPath against the working directory
	ModelExists bool
}

// QualifiedName builds the catalog identity of a test
func QualifiedName(assembly, fixture, name string) string {
	return assembly + "::" + fixture + "." + name
}

// Runnable reports whether the node is selected to run
func (t *TestNode) Runnable() bool {
	return t.ShouldRun == SelectionOn
}

// Case returns an immutable snapshot of the node for execution
func (t *TestNode) Case() TestCase {
	return TestCase{
		ID:          t.ID,
		Name:        t.Name,
		Fixture:     t.Fixture,
		Category:    t.Category,
		Assembly:    t.Assembly,
		ModelPath:   t.ModelPath,
		ModelExists: t.ModelExists,
	}
}

// TestCase is the read-only view of a test handed to the run worker
type TestCase struct {
	ID          string
	Name        string
	Fixture     string
	Category    string
	Assembly    string
	ModelPath   string
	ModelExists bool
}

// Group is a fixture or category: an ordered set of tests
type Group struct {
	Name  string
	Tests []*TestNode
}

// Selection returns the derived tri-state of the group
func (g *Group) Selection() Selection {
	return deriveSelection(g.Tests)
}

// Assembly is a discovered test assembly
type Assembly struct {
	Name  string
	Path  string // On-disk assembly the manifest describes
	Tests []*TestNode
}

// Selection returns the derived tri-state of the assembly
func (a *Assembly) Selection() Selection {
	return deriveSelection(a.Tests)
}

// Groups returns the assembly's tests grouped by fixture or category,
// in order of first appearance.
func (a *Assembly) Groups(gt GroupingType) []*Group {
	var groups []*Group
	index := make(map[string]*Group)
	for _, t := range a.Tests {
		key := t.Fixture
		if gt == GroupByCategory {
			key = t.Category
		}
		g, ok := index[key]
		if !ok {
			g = &Group{Name: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.Tests = append(g.Tests, t)
	}
	return groups
}

func deriveSelection(tests []*TestNode) Selection {
	if len(tests) == 0 {
		return SelectionUnset
	}
	first := tests[0].ShouldRun
	for _, t := range tests[1:] {
		if t.ShouldRun != first {
			return SelectionUnset
		}
	}
	return first
}

// Product is an installed host application the tests run inside
type Product struct {
	Name    string `yaml:"name" koanf:"name"`
	Version string `yaml:"version" koanf:"version"`
	Path    string `yaml:"path" koanf:"path"` // Host executable
}

// RunBatch is a set of tests executed against one host instance
type RunBatch struct {
	Index            int
	Tests            []TestCase
	ModelPath        string // Shared data file, empty when none is required
	Product          Product
	WorkingDirectory string
}
