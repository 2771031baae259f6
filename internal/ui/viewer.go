package ui

import "htr/internal/domain"

// Viewer displays the failures of a run
type Viewer interface {
	View(output *domain.RunSummaryOutput) error
}
