package ui

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"htr/internal/domain"
)

const maxStackLines = 10

// ErrorViewer displays the failures of the last run in an interactive TUI
type ErrorViewer struct {
	save func(*domain.RunSummaryOutput) error
}

// NewErrorViewer creates a new ErrorViewer. save persists resolved marks.
func NewErrorViewer(save func(*domain.RunSummaryOutput) error) *ErrorViewer {
	return &ErrorViewer{save: save}
}

// View opens the viewer over the failures of a run summary.
// Keys: ↑↓ navigate, R toggles resolved, H hides resolved, → details, ← back, Ctrl+C exits.
func (ev *ErrorViewer) View(results *domain.RunSummaryOutput) error {
	if len(results.Details) == 0 {
		color.Green("✓ No test failures found!")
		return nil
	}

	b := newFailureBrowser(results, ev.save)
	if err := b.app.SetRoot(b.layout(), true).SetFocus(b.list).Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

// failureBrowser holds the widgets of one viewer session. visible maps list
// rows to indexes in results.Details.
type failureBrowser struct {
	results *domain.RunSummaryOutput
	save    func(*domain.RunSummaryOutput) error

	app     *tview.Application
	list    *tview.List
	header  *tview.TextView
	stats   *tview.TextView
	details *tview.TextView

	visible      []int
	hideResolved bool
}

func newFailureBrowser(results *domain.RunSummaryOutput, save func(*domain.RunSummaryOutput) error) *failureBrowser {
	b := &failureBrowser{
		results: results,
		save:    save,
		app:     tview.NewApplication(),
		list:    tview.NewList().ShowSecondaryText(false).SetHighlightFullLine(true),
		header:  tview.NewTextView().SetTextAlign(tview.AlignCenter).SetDynamicColors(true),
		stats:   tview.NewTextView().SetDynamicColors(true).SetWrap(false),
		details: tview.NewTextView().SetDynamicColors(true).SetWrap(true).SetWordWrap(true),
	}

	b.list.SetMainTextColor(tview.Styles.PrimaryTextColor).
		SetSelectedTextColor(tcell.ColorWhite).
		SetSelectedBackgroundColor(tcell.ColorDarkCyan)
	b.list.SetChangedFunc(func(int, string, string, rune) { b.showCurrent() })
	b.list.SetInputCapture(b.onListKey)
	b.details.SetInputCapture(b.onDetailsKey)

	b.rebuild(0)
	return b
}

func (b *failureBrowser) layout() tview.Primitive {
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(b.stats, 3, 0, false).
		AddItem(tview.NewFlex().
			AddItem(b.details, 0, 1, false).
			AddItem(tview.NewBox(), 2, 0, false), 0, 1, false)

	body := tview.NewFlex().
		AddItem(b.list, 0, 1, true).
		AddItem(right, 0, 2, false)

	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(b.header, 1, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(body, 0, 1, true)
}

// rebuild refills the list and keeps the cursor on the failure at index
// keep in results.Details when it is still visible
func (b *failureBrowser) rebuild(keep int) {
	b.visible = b.visible[:0]
	b.list.Clear()
	cursor := 0
	for i, f := range b.results.Details {
		if b.hideResolved && f.Resolved {
			continue
		}
		if i == keep {
			cursor = len(b.visible)
		}
		b.visible = append(b.visible, i)
		b.list.AddItem(listItemText(f, i, f.Resolved), "", 0, nil)
	}
	if len(b.visible) > 0 {
		b.list.SetCurrentItem(cursor)
	}
	b.updateHeader()
	b.showCurrent()
}

func (b *failureBrowser) current() (int, bool) {
	row := b.list.GetCurrentItem()
	if row < 0 || row >= len(b.visible) {
		return 0, false
	}
	return b.visible[row], true
}

func (b *failureBrowser) showCurrent() {
	i, ok := b.current()
	if !ok {
		b.stats.SetText(runStats(b.results.Meta))
		b.details.SetText("[gray]All failures are resolved. Press H to show them.[white]")
		return
	}
	f := b.results.Details[i]
	b.stats.SetText(formatFailureStats(f, i+1) + runStats(b.results.Meta))
	b.details.SetText(formatFailureDetails(f))
	b.details.ScrollToBeginning()
}

func (b *failureBrowser) updateHeader() {
	unresolved := 0
	for _, f := range b.results.Details {
		if !f.Resolved {
			unresolved++
		}
	}
	hint := "[yellow]H[white] hide resolved"
	if b.hideResolved {
		hint = "[yellow]H[white] show resolved"
	}
	b.header.SetText(fmt.Sprintf(" Test Failures (%d total, %d unresolved) | ↑↓ navigate, [yellow]R[white] resolve, %s, → details, ← back, Ctrl+C exit ",
		len(b.results.Details), unresolved, hint))
}

// toggleResolved flips the resolved mark of the current failure and saves it
func (b *failureBrowser) toggleResolved() {
	i, ok := b.current()
	if !ok {
		return
	}
	b.results.Details[i].Resolved = !b.results.Details[i].Resolved
	row := b.list.GetCurrentItem()

	next := i
	if b.hideResolved && b.results.Details[i].Resolved && row+1 < len(b.visible) {
		next = b.visible[row+1]
	}
	b.rebuild(next)

	if b.save != nil {
		if err := b.save(b.results); err != nil {
			b.stats.SetText(fmt.Sprintf("[red]Could not save: %v[white]", err))
		}
	}
}

func (b *failureBrowser) onListKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEnter, tcell.KeyRight:
		b.app.SetFocus(b.details)
		return nil
	case tcell.KeyCtrlC:
		b.app.Stop()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'r', 'R':
			b.toggleResolved()
			return nil
		case 'h', 'H':
			keep, _ := b.current()
			b.hideResolved = !b.hideResolved
			b.rebuild(keep)
			return nil
		}
	}
	return event
}

func (b *failureBrowser) onDetailsKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyLeft, tcell.KeyEsc:
		b.app.SetFocus(b.list)
		return nil
	case tcell.KeyCtrlC:
		b.app.Stop()
		return nil
	}
	return event
}

func listItemText(failure domain.TestFailure, index int, resolved bool) string {
	testName := failure.TestName
	if testName == "" {
		testName = fmt.Sprintf("Test %d", index+1)
	}
	if resolved {
		return fmt.Sprintf("[gray]✓ [yellow]%d.[gray] %s[white]", index+1, testName)
	}
	return fmt.Sprintf("[yellow]%d.[white] %s", index+1, testName)
}

// formatFailureDetails renders one failure with tview color tags
func formatFailureDetails(failure domain.TestFailure) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[red]✗ Test: %s[white] [gray](%s)[white]\n\n", failure.TestName, failure.Status)

	w := tabwriter.NewWriter(&sb, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "[cyan]Assembly:\t%s[white]\n", failure.Assembly)
	fmt.Fprintf(w, "[cyan]Fixture:\t%s[white]\n", failure.Fixture)
	if failure.ModelPath != "" {
		fmt.Fprintf(w, "[yellow]Model:\t%s[white]\n", failure.ModelPath)
	}
	w.Flush()
	sb.WriteString("\n")

	if failure.Message != "" {
		fmt.Fprintf(&sb, "[yellow]Message:[white]\n%s\n\n", tview.Escape(failure.Message))
	}

	if n := len(failure.StackTrace); n > 0 {
		sb.WriteString("[yellow]Stack Trace:[white]\n")
		for _, line := range failure.StackTrace[:min(n, maxStackLines)] {
			fmt.Fprintf(&sb, "  %s\n", tview.Escape(line))
		}
		if n > maxStackLines {
			fmt.Fprintf(&sb, "  [gray]... and %d more lines[white]\n", n-maxStackLines)
		}
	}
	return sb.String()
}

// formatFailureStats formats the header line for a test failure
func formatFailureStats(failure domain.TestFailure, number int) string {
	id := failure.TestID
	if id == "" {
		id = fmt.Sprintf("Test %d", number)
	}
	return fmt.Sprintf("[cyan]test:[white] [yellow]%s[white]\n", id)
}

// runStats is the second stats line: which run the failures come from
func runStats(meta domain.RunSummary) string {
	var parts []string
	if meta.Product != "" {
		parts = append(parts, meta.Product)
	}
	if meta.Timestamp != "" {
		parts = append(parts, meta.Timestamp)
	}
	c := meta.Counts
	parts = append(parts, fmt.Sprintf("%d passed, %d skipped, %d failed", c.Passed, c.Skipped, c.Failed))
	return "[gray]" + strings.Join(parts, " | ") + "[white]"
}
