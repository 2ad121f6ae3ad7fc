// Package syncer drains the pending-write queue against the remote API.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mealsync/mealsync/pkg/journal"
	"github.com/mealsync/mealsync/pkg/models"
	"github.com/mealsync/mealsync/pkg/queue"
)

// RemoteAPI is the slice of the MealMate API the reconciler needs.
type RemoteAPI interface {
	WriteEntry(ctx context.Context, entry models.PendingEntry) error
	GenerateSummary(ctx context.Context, userID, entryID string) error
}

// Reconciler replays queued writes once connectivity returns. Reconciliation
// is serialized globally so overlapping triggers cannot double-submit an
// entry.
type Reconciler struct {
	queue   queue.Queue
	remote  RemoteAPI
	journal *journal.Logger
	mu      sync.Mutex
}

// New creates a Reconciler. The journal may be nil.
func New(q queue.Queue, remote RemoteAPI, j *journal.Logger) *Reconciler {
	return &Reconciler{queue: q, remote: remote, journal: j}
}

// Reconcile drains the queue. Each entry is processed independently: a
// confirmed write deletes the entry, a failure records an error under the
// entry id and leaves the entry for the next trigger. Per-entry errors are
// returned structurally, never as the error value; the error return covers
// queue access only.
func (r *Reconciler) Reconcile(ctx context.Context) (models.SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := models.SyncResult{Errors: map[string]string{}}

	entries, err := r.queue.All(ctx)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		start := time.Now()
		writeErr := r.remote.WriteEntry(ctx, entry)

		if jErr := r.journal.Record(ctx, models.JournalEntry{
			EntryID:    entry.ID,
			OK:         writeErr == nil,
			Error:      errString(writeErr),
			DurationMs: time.Since(start).Milliseconds(),
		}); jErr != nil {
			log.Printf("journal write for %s failed: %v", entry.ID, jErr)
		}

		if writeErr != nil {
			log.Printf("sync of %s failed: %v", entry.ID, writeErr)
			result.Errors[entry.ID] = writeErr.Error()
			continue
		}

		if entry.WantSummary {
			// Best effort: a summary failure never rolls back the write.
			if err := r.remote.GenerateSummary(ctx, entry.UserID, entry.ID); err != nil {
				log.Printf("summary for %s failed: %v", entry.ID, err)
			}
		}

		if err := r.queue.Delete(ctx, entry.ID); err != nil {
			// The write is confirmed remotely; the idempotency key makes
			// the resubmission on the next trigger harmless.
			log.Printf("delete of synced entry %s failed: %v", entry.ID, err)
			result.Errors[entry.ID] = err.Error()
			continue
		}

		result.SyncedCount++
	}

	return result, nil
}

// SubmitOrQueue attempts an online write and falls back to the durable queue
// when the write fails, reporting the entry as offline-pending.
func (r *Reconciler) SubmitOrQueue(ctx context.Context, entry models.PendingEntry) (models.SubmitResult, error) {
	if entry.ID == "" {
		entry.ID = queue.NewEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	writeErr := r.remote.WriteEntry(ctx, entry)
	if writeErr == nil {
		if entry.WantSummary {
			if err := r.remote.GenerateSummary(ctx, entry.UserID, entry.ID); err != nil {
				log.Printf("summary for %s failed: %v", entry.ID, err)
			}
		}
		return models.SubmitResult{Success: true, ID: entry.ID}, nil
	}

	log.Printf("online write of %s failed, queueing: %v", entry.ID, writeErr)
	if _, err := r.queue.Enqueue(ctx, entry); err != nil {
		// Could not persist offline either; the caller must surface this,
		// the entry is lost otherwise.
		return models.SubmitResult{}, err
	}
	return models.SubmitResult{Success: false, Offline: true, ID: entry.ID}, nil
}

// PendingCount reports the number of queued entries for UI badges.
func (r *Reconciler) PendingCount(ctx context.Context) (int, error) {
	return r.queue.Count(ctx)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
