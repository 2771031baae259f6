package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"htr/internal/domain"
)

// Formatter formats and displays output
type Formatter struct {
	out io.Writer

	cyan   *color.Color
	green  *color.Color
	red    *color.Color
	yellow *color.Color
	white  *color.Color
	gray   *color.Color
}

// NewFormatter creates a new Formatter writing to out (stdout when nil)
func NewFormatter(out io.Writer) *Formatter {
	if out == nil {
		out = os.Stdout
	}
	return &Formatter{
		out:    out,
		cyan:   color.New(color.FgCyan),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		white:  color.New(color.FgWhite),
		gray:   color.New(color.FgHiBlack),
	}
}

// CompletionLine is the one-line verdict of a run
func CompletionLine(counts domain.RunCounts) string {
	tally := fmt.Sprintf("%d passed, %d skipped, %d failed", counts.Passed, counts.Skipped, counts.Failed)
	switch {
	case counts.Failed > 0:
		return "ERROR: Test run completed with errors: " + tally
	case counts.Skipped > 0:
		return "WARNING: Test run completed with warnings: " + tally
	default:
		return "Test run completed successfully: " + tally
	}
}

// PrintCompletion prints the completion line in the color of its verdict
func (f *Formatter) PrintCompletion(counts domain.RunCounts) {
	line := CompletionLine(counts)
	switch {
	case counts.Failed > 0:
		f.red.Fprintln(f.out, line)
	case counts.Skipped > 0:
		f.yellow.Fprintln(f.out, line)
	default:
		f.green.Fprintln(f.out, line)
	}
}

// PrintSummary displays the statistics of a finished run followed by its failures
func (f *Formatter) PrintSummary(output *domain.RunSummaryOutput) {
	meta := output.Meta

	fmt.Fprint(f.out, "\n")
	f.cyan.Fprintln(f.out, "╔═══════════════════════════════════════════════════════════════╗")
	f.cyan.Fprintln(f.out, "║                    Test Execution Statistics                  ║")
	f.cyan.Fprintln(f.out, "╚═══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(f.out, "┌─────────────────────────────────┬─────────────────────────────┐")

	f.row("Selected Tests", f.white, fmt.Sprintf("%d", meta.Selected))
	f.row("Batches", f.white, fmt.Sprintf("%d", meta.Batches))
	f.row("Passed", f.green, fmt.Sprintf("%d", meta.Counts.Passed))
	f.row("Skipped", f.yellow, fmt.Sprintf("%d", meta.Counts.Skipped))
	f.row("Failed", f.red, fmt.Sprintf("%d", meta.Counts.Failed))
	f.row("Duration", f.white, fmt.Sprintf("%.2fs", meta.DurationSeconds))
	if meta.Product != "" {
		f.row("Product", f.white, meta.Product)
	}
	fmt.Fprintf(f.out, "│ %-31s │ ", "Timestamp")
	f.white.Fprintf(f.out, "%-27s │\n", meta.Timestamp)
	fmt.Fprintln(f.out, "└─────────────────────────────────┴─────────────────────────────┘")

	fmt.Fprintln(f.out)
	if meta.Cancelled {
		f.yellow.Fprintln(f.out, "Run was cancelled")
	}
	if meta.Error != "" {
		f.red.Fprintf(f.out, "ERROR: %s\n", meta.Error)
	}
	f.PrintCompletion(meta.Counts)
	if len(output.Details) > 0 {
		fmt.Fprintln(f.out)
		f.PrintFailedTestsTree(output.Details)
	}
}

func (f *Formatter) row(label string, c *color.Color, value string) {
	fmt.Fprintf(f.out, "│ %-31s │ ", label)
	c.Fprintf(f.out, "%-27s │\n", value)
	fmt.Fprintln(f.out, "├─────────────────────────────────┼─────────────────────────────┤")
}

// PrintFailedTestsTree prints failures grouped by assembly and fixture
func (f *Formatter) PrintFailedTestsTree(failures []domain.TestFailure) {
	tree := make(map[string]map[string][]domain.TestFailure)
	for _, failure := range failures {
		if tree[failure.Assembly] == nil {
			tree[failure.Assembly] = make(map[string][]domain.TestFailure)
		}
		tree[failure.Assembly][failure.Fixture] = append(tree[failure.Assembly][failure.Fixture], failure)
	}

	for _, asm := range sortedKeys(tree) {
		f.cyan.Fprintln(f.out, asm)
		fixtures := sortedKeys(tree[asm])
		for i, fixture := range fixtures {
			last := i == len(fixtures)-1
			f.yellow.Fprintf(f.out, "%s%s\n", branch(last), fixture)
			cases := tree[asm][fixture]
			for j, c := range cases {
				f.red.Fprintf(f.out, "%s%s%s [%s]\n", indent(last), branch(j == len(cases)-1), c.TestName, c.Status)
			}
		}
	}
}

// PrintCatalog prints the test tree with selection and last status.
// Only tests with Expanded set show their failure message.
func (f *Formatter) PrintCatalog(assemblies []*domain.Assembly, grouping domain.GroupingType) {
	var total, selected int
	for _, asm := range assemblies {
		total += len(asm.Tests)
		for _, t := range asm.Tests {
			if t.Runnable() {
				selected++
			}
		}
	}
	f.green.Fprintf(f.out, "Found %d test(s), %d selected:\n", total, selected)

	for i, asm := range assemblies {
		lastAsm := i == len(assemblies)-1
		f.cyan.Fprintf(f.out, "%s%s %s\n", branch(lastAsm), selectionMark(asm.Selection()), asm.Name)

		groups := asm.Groups(grouping)
		for j, g := range groups {
			lastGroup := j == len(groups)-1
			prefix := indent(lastAsm)
			f.yellow.Fprintf(f.out, "%s%s%s %s\n", prefix, branch(lastGroup), selectionMark(g.Selection()), g.Name)

			for k, t := range g.Tests {
				line := fmt.Sprintf("%s%s%s%s %s", prefix, indent(lastGroup), branch(k == len(g.Tests)-1), selectionMark(t.ShouldRun), t.Name)
				f.statusColor(t.Status).Fprintf(f.out, "%s%s\n", line, statusSuffix(t))
				if Expanded(t) && t.Message != "" {
					f.gray.Fprintf(f.out, "%s%s%s    %s\n", prefix, indent(lastGroup), indent(k == len(g.Tests)-1), firstLine(t.Message))
				}
			}
		}
	}
}

// Expanded reports whether a test should be shown opened up in a tree: it is
// selected and either failed or cannot find its model.
func Expanded(t *domain.TestNode) bool {
	if !t.Runnable() {
		return false
	}
	return t.Status.IsFailed() || (t.ModelPath != "" && !t.ModelExists)
}

func (f *Formatter) statusColor(s domain.TestStatus) *color.Color {
	switch {
	case s.IsPassed():
		return f.green
	case s.IsFailed():
		return f.red
	case s.IsSkipped():
		return f.yellow
	}
	return f.white
}

func statusSuffix(t *domain.TestNode) string {
	if t.Status == domain.StatusNone {
		return ""
	}
	return " [" + t.Status.String() + "]"
}

func selectionMark(s domain.Selection) string {
	switch s {
	case domain.SelectionOn:
		return "[x]"
	case domain.SelectionOff:
		return "[ ]"
	}
	return "[-]"
}

func branch(last bool) string {
	if last {
		return "└── "
	}
	return "├── "
}

func indent(last bool) string {
	if last {
		return "    "
	}
	return "│   "
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
