package domain

import "time"

// HistoryEntry is one recorded run in the history database
type HistoryEntry struct {
	RunID      string
	FinishedAt time.Time
	Passed     int
	Skipped    int
	Failed     int
	Cancelled  bool
	Product    string
	Duration   time.Duration
}
