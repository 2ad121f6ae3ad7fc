// Package queue is the durable local store of pending meal-entry writes.
package queue

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mealsync/mealsync/pkg/models"
)

// ErrQueueFull is returned when the pending queue is at its configured limit.
var ErrQueueFull = errors.New("pending queue full")

// schemaVersion gates the on-disk layout. An incompatible store is dropped
// and recreated, not migrated field by field.
const schemaVersion = 2

// Queue holds not-yet-synchronized write intents.
type Queue interface {
	// Enqueue stores a pending entry and returns its id.
	Enqueue(ctx context.Context, entry models.PendingEntry) (string, error)
	// All returns every pending entry, oldest first.
	All(ctx context.Context) ([]models.PendingEntry, error)
	// Delete removes an entry after its remote write is confirmed.
	Delete(ctx context.Context, id string) error
	// Count returns the number of pending entries.
	Count(ctx context.Context) (int, error)
	// Stats returns pending count and oldest entry age for UI badges.
	Stats(ctx context.Context) (models.QueueStats, error)
	// Close releases resources.
	Close() error
}

// SQLiteQueue implements Queue with a SQLite database.
type SQLiteQueue struct {
	db         *sql.DB
	maxPending int
}

const createQueueTable = `
CREATE TABLE IF NOT EXISTS pending_entries (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	meal_slot    TEXT NOT NULL,
	content      TEXT NOT NULL,
	want_summary INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	synced       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_entries(created_at);
`

// New opens the queue database. If the on-disk schema version does not match
// the current one, the store is dropped and recreated.
func New(dbPath string, maxPending int) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}

	return &SQLiteQueue{db: db, maxPending: maxPending}, nil
}

func migrate(db *sql.DB) error {
	var onDisk int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&onDisk); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if onDisk != 0 && onDisk != schemaVersion {
		if _, err := db.Exec(`DROP TABLE IF EXISTS pending_entries`); err != nil {
			return fmt.Errorf("drop incompatible store: %w", err)
		}
	}

	if _, err := db.Exec(createQueueTable); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion))
	return err
}

// NewEntryID creates an id like entry_20260831_a3f9c2. The id doubles as the
// idempotency key sent with the remote write.
func NewEntryID() string {
	b := make([]byte, 3)
	rand.Read(b)
	return fmt.Sprintf("entry_%s_%s", time.Now().UTC().Format("20060102"), hex.EncodeToString(b))
}

// Enqueue stores a pending entry. Entries are immutable once queued.
func (q *SQLiteQueue) Enqueue(ctx context.Context, entry models.PendingEntry) (string, error) {
	if q.maxPending > 0 {
		count, err := q.Count(ctx)
		if err != nil {
			return "", err
		}
		if count >= q.maxPending {
			return "", ErrQueueFull
		}
	}

	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO pending_entries (id, user_id, meal_slot, content, want_summary, created_at, synced)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		entry.ID, entry.UserID, entry.MealSlot, entry.Content, boolToInt(entry.WantSummary), entry.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue entry: %w", err)
	}
	return entry.ID, nil
}

// All returns every pending entry, oldest first.
func (q *SQLiteQueue) All(ctx context.Context) ([]models.PendingEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, user_id, meal_slot, content, want_summary, created_at FROM pending_entries ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("read pending entries: %w", err)
	}
	defer rows.Close()

	var entries []models.PendingEntry
	for rows.Next() {
		var e models.PendingEntry
		var wantSummary int
		if err := rows.Scan(&e.ID, &e.UserID, &e.MealSlot, &e.Content, &wantSummary, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending entry: %w", err)
		}
		e.WantSummary = wantSummary != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a confirmed entry from the queue.
func (q *SQLiteQueue) Delete(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	return nil
}

// Count returns the number of pending entries.
func (q *SQLiteQueue) Count(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return count, nil
}

// Stats returns pending count and the oldest entry's creation time.
func (q *SQLiteQueue) Stats(ctx context.Context) (models.QueueStats, error) {
	count, err := q.Count(ctx)
	if err != nil {
		return models.QueueStats{}, err
	}
	stats := models.QueueStats{Pending: count}
	if count > 0 {
		var oldest time.Time
		if err := q.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM pending_entries`).Scan(&oldest); err != nil {
			return models.QueueStats{}, fmt.Errorf("queue stats: %w", err)
		}
		stats.Oldest = oldest
	}
	return stats, nil
}

// Close releases the database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
