// Package journal records reconciliation attempts in a SQLite log so failed
// syncs can be diagnosed per entry.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mealsync/mealsync/pkg/models"
)

// Logger writes and queries sync attempts.
type Logger struct {
	db            *sql.DB
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
}

const createJournalTable = `
CREATE TABLE IF NOT EXISTS sync_attempts (
	entry_id    TEXT NOT NULL,
	ok          INTEGER NOT NULL,
	error       TEXT,
	duration_ms INTEGER NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_attempts_entry ON sync_attempts(entry_id);
CREATE INDEX IF NOT EXISTS idx_attempts_created ON sync_attempts(created_at);
`

// New opens the journal database and starts the retention loop.
func New(dbPath string, retentionDays int) (*Logger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	if _, err := db.Exec(createJournalTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	l := &Logger{
		db:            db,
		retentionDays: retentionDays,
		done:          make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

// Record inserts one attempt. A nil Logger is a no-op so callers can run
// with the journal disabled.
func (l *Logger) Record(ctx context.Context, att models.JournalEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	createdAt := att.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sync_attempts (entry_id, ok, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		att.EntryID, boolToInt(att.OK), att.Error, att.DurationMs, createdAt,
	)
	return err
}

// Query returns attempts matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.JournalQueryOpts) ([]models.JournalEntry, error) {
	q := `SELECT entry_id, ok, error, duration_ms, created_at FROM sync_attempts WHERE 1=1`
	var args []any

	if opts.EntryID != "" {
		q += " AND entry_id = ?"
		args = append(args, opts.EntryID)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var ok int
		var errMsg sql.NullString
		if err := rows.Scan(&e.EntryID, &ok, &errMsg, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.OK = ok != 0
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns attempt counts grouped by day.
func (l *Logger) Stats(ctx context.Context) ([]models.JournalStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT date(created_at) as day, count(*), sum(CASE WHEN ok = 0 THEN 1 ELSE 0 END)
		 FROM sync_attempts GROUP BY day ORDER BY day DESC`)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	var stats []models.JournalStat
	for rows.Next() {
		var s models.JournalStat
		var day sql.NullString
		if err := rows.Scan(&day, &s.Attempts, &s.Failures); err != nil {
			return nil, fmt.Errorf("scan journal stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes attempts older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.retentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM sync_attempts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
