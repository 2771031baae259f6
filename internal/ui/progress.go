package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"htr/internal/domain"
)

// ProgressBar shows how many selected tests have an outcome
type ProgressBar struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewProgressBar creates a progress bar over count tests, drawn on stderr
func NewProgressBar(count int) *ProgressBar {
	return NewProgressBarTo(os.Stderr, count)
}

// NewProgressBarTo creates a progress bar drawn on out
func NewProgressBarTo(out io.Writer, count int) *ProgressBar {
	bar := progressbar.NewOptions(count,
		progressbar.OptionSetDescription(describe(domain.RunCounts{})),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(out),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)

	return &ProgressBar{bar: bar, out: out}
}

// Update moves the bar to the run totals
func (p *ProgressBar) Update(counts domain.RunCounts) {
	p.bar.Set(counts.Total())
	p.bar.Describe(describe(counts))
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() {
	p.bar.Finish()
}

func describe(counts domain.RunCounts) string {
	return color.CyanString("Running tests: ") +
		color.GreenString("[passed: %d", counts.Passed) +
		" | " +
		color.YellowString("skipped: %d", counts.Skipped) +
		" | " +
		color.RedString("failed: %d]", counts.Failed)
}
