package models

import "time"

// PendingEntry is a queued, not-yet-confirmed meal-entry write.
// An entry exists in the queue if and only if the corresponding write has not
// been confirmed by the remote API; confirmation deletes it.
type PendingEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	MealSlot    string    `json:"meal_slot"`
	Content     string    `json:"content"`
	WantSummary bool      `json:"want_summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Synced      bool      `json:"synced"`
}

// SubmitResult reports the outcome of a write-intent submission.
// Offline means the entry was queued locally instead of written remotely.
type SubmitResult struct {
	Success bool   `json:"success"`
	Offline bool   `json:"offline"`
	ID      string `json:"id,omitempty"`
}

// SyncResult reports one reconciliation run. Errors is keyed by entry id.
type SyncResult struct {
	SyncedCount int               `json:"synced_count"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// OK reports overall success: a run succeeded only if no entry failed.
func (r SyncResult) OK() bool {
	return len(r.Errors) == 0
}

// QueueStats reports durable queue state for UI badges and CLI output.
type QueueStats struct {
	Pending int       `json:"pending"`
	Oldest  time.Time `json:"oldest,omitempty"`
}
