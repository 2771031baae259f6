// Package catalog holds the in-memory test tree (assembly → fixture/category → test)
// and the selection and status state of its nodes.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"htr/internal/discovery"
	"htr/internal/domain"
)

// StatusUpdate sets the outcome of one test
type StatusUpdate struct {
	TestID     string
	Status     domain.TestStatus
	Message    string
	StackTrace string
}

// Catalog is the test tree of a workspace
type Catalog struct {
	assemblies []*domain.Assembly
	index      map[string]*domain.TestNode
	grouping   domain.GroupingType
	filter     *discovery.Filter
}

// New creates a Catalog over discovered assemblies
func New(assemblies []*domain.Assembly, grouping domain.GroupingType) *Catalog {
	c := &Catalog{
		assemblies: assemblies,
		index:      make(map[string]*domain.TestNode),
		grouping:   grouping,
		filter:     discovery.NewFilter(),
	}
	for _, asm := range assemblies {
		for _, t := range asm.Tests {
			c.index[t.ID] = t
		}
	}
	return c
}

// Assemblies returns the assemblies in discovery order
func (c *Catalog) Assemblies() []*domain.Assembly {
	return c.assemblies
}

// Grouping returns the grouping type the catalog is displayed with
func (c *Catalog) Grouping() domain.GroupingType {
	return c.grouping
}

// SetGrouping changes how tests are grouped
func (c *Catalog) SetGrouping(gt domain.GroupingType) {
	c.grouping = gt
}

// Tests returns all tests in catalog order
func (c *Catalog) Tests() []*domain.TestNode {
	var out []*domain.TestNode
	for _, asm := range c.assemblies {
		for _, g := range asm.Groups(c.grouping) {
			out = append(out, g.Tests...)
		}
	}
	return out
}

// Runnable returns the selected tests in catalog order
func (c *Catalog) Runnable() []*domain.TestNode {
	var out []*domain.TestNode
	for _, t := range c.Tests() {
		if t.Runnable() {
			out = append(out, t)
		}
	}
	return out
}

// Find returns a test by its qualified name
func (c *Catalog) Find(id string) (*domain.TestNode, bool) {
	t, ok := c.index[id]
	return t, ok
}

// Select marks the given tests to run
func (c *Catalog) Select(ids ...string) error {
	for _, id := range ids {
		t, ok := c.index[id]
		if !ok {
			return fmt.Errorf("unknown test %q", id)
		}
		t.ShouldRun = domain.SelectionOn
	}
	return nil
}

// SelectAll sets the selection of every test
func (c *Catalog) SelectAll(sel domain.Selection) {
	for _, t := range c.index {
		t.ShouldRun = sel
	}
}

// SelectPattern selects tests whose name, fixture or qualified name matches the
// wildcard pattern and deselects the rest. An empty pattern selects everything.
// Returns the number of selected tests.
func (c *Catalog) SelectPattern(pattern string) int {
	var selected int
	for _, t := range c.Tests() {
		if pattern == "" || c.matches(t, pattern) {
			t.ShouldRun = domain.SelectionOn
			selected++
		} else {
			t.ShouldRun = domain.SelectionOff
		}
	}
	return selected
}

func (c *Catalog) matches(t *domain.TestNode, pattern string) bool {
	candidates := []string{t.Name, t.Fixture + "." + t.Name, t.ID}
	return len(c.filter.FilterByName(candidates, pattern)) > 0
}

// SetGroupSelection sets the selection of every test of a fixture or category
// (depending on the current grouping) within an assembly.
func (c *Catalog) SetGroupSelection(assembly, group string, sel domain.Selection) error {
	for _, asm := range c.assemblies {
		if asm.Name != assembly {
			continue
		}
		for _, g := range asm.Groups(c.grouping) {
			if g.Name == group {
				setAll(g.Tests, sel)
				return nil
			}
		}
		return fmt.Errorf("assembly %q has no %s %q", assembly, c.grouping, group)
	}
	return fmt.Errorf("unknown assembly %q", assembly)
}

// SetAssemblySelection sets the selection of every test in an assembly
func (c *Catalog) SetAssemblySelection(assembly string, sel domain.Selection) error {
	for _, asm := range c.assemblies {
		if asm.Name == assembly {
			setAll(asm.Tests, sel)
			return nil
		}
	}
	return fmt.Errorf("unknown assembly %q", assembly)
}

func setAll(tests []*domain.TestNode, sel domain.Selection) {
	for _, t := range tests {
		t.ShouldRun = sel
	}
}

// SelectedIDs returns the qualified names of the selected tests
func (c *Catalog) SelectedIDs() []string {
	var ids []string
	for _, t := range c.Runnable() {
		ids = append(ids, t.ID)
	}
	return ids
}

// RefreshModels recomputes ModelExists for every test. Relative model paths are
// looked up in the working directory, then in each resolution directory.
// Selected tests with a missing model are marked NotRunnable.
func (c *Catalog) RefreshModels(workingDir string, resolutionDirs []string) {
	for _, t := range c.index {
		t.ModelExists = modelExists(t.ModelPath, workingDir, resolutionDirs)
		if t.Runnable() && !t.ModelExists {
			t.Status = domain.StatusNotRunnable
		}
	}
}

// ResolveModel returns the on-disk path of a model, or the joined working
// directory path when it cannot be found.
func ResolveModel(model, workingDir string, resolutionDirs []string) string {
	if model == "" || filepath.IsAbs(model) {
		return model
	}
	for _, dir := range append([]string{workingDir}, resolutionDirs...) {
		p := filepath.Join(dir, model)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(workingDir, model)
}

func modelExists(model, workingDir string, resolutionDirs []string) bool {
	if model == "" {
		return true
	}
	_, err := os.Stat(ResolveModel(model, workingDir, resolutionDirs))
	return err == nil
}

// ResetStatuses clears the outcome of the selected tests ahead of a run.
// Tests whose model is missing stay NotRunnable.
func (c *Catalog) ResetStatuses() {
	for _, t := range c.Runnable() {
		if !t.ModelExists {
			t.Status = domain.StatusNotRunnable
			continue
		}
		t.Status = domain.StatusNone
		t.Message = ""
		t.StackTrace = ""
	}
}

// Apply writes status updates from a run into the tree. A selected test whose
// model is missing can never leave NotRunnable.
func (c *Catalog) Apply(updates ...StatusUpdate) {
	for _, u := range updates {
		t, ok := c.index[u.TestID]
		if !ok {
			continue
		}
		if t.Runnable() && !t.ModelExists && u.Status != domain.StatusNotRunnable {
			continue
		}
		t.Status = u.Status
		t.Message = u.Message
		t.StackTrace = u.StackTrace
	}
}

// Counts buckets the statuses of the selected tests
func (c *Catalog) Counts() domain.RunCounts {
	var counts domain.RunCounts
	for _, t := range c.Runnable() {
		counts.Add(t.Status)
	}
	return counts
}

// Summary describes the selection, e.g. "3 (out of 10)"
func (c *Catalog) Summary() string {
	return fmt.Sprintf("%d (out of %d)", len(c.Runnable()), len(c.index))
}

// Merge copies selection and last outcome from a previous catalog for tests
// that still exist. Used when the catalog is rediscovered.
func (c *Catalog) Merge(previous *Catalog) {
	if previous == nil {
		return
	}
	for id, t := range c.index {
		old, ok := previous.index[id]
		if !ok {
			continue
		}
		t.ShouldRun = old.ShouldRun
		t.Status = old.Status
		t.Message = old.Message
		t.StackTrace = old.StackTrace
	}
}
