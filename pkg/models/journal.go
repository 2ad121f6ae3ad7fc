package models

import "time"

// JournalEntry records one reconciliation attempt for a queued entry.
type JournalEntry struct {
	EntryID    string    `json:"entry_id"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// JournalQueryOpts filters journal queries.
type JournalQueryOpts struct {
	EntryID string
	Since   time.Time
	Limit   int
}

// JournalStat aggregates attempts per day.
type JournalStat struct {
	Day      string `json:"day"`
	Attempts int64  `json:"attempts"`
	Failures int64  `json:"failures"`
}
