// Package sqlite stores cache partitions: named, versioned groupings of
// request/response pairs backed by a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mealsync/mealsync/pkg/models"
)

// Roles of the logical cache partitions. Exactly one partition per role is
// current at any time; its name is the role suffixed with the config version.
const (
	RoleShell  = "shell"
	RoleAPI    = "api"
	RoleImages = "images"
	RoleStatic = "static"
)

// Roles lists every logical partition role.
var Roles = []string{RoleShell, RoleAPI, RoleImages, RoleStatic}

// Store is the partitioned response cache.
type Store struct {
	db      *sql.DB
	version string
	hits    atomic.Int64
	misses  atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	partition   TEXT NOT NULL,
	request_key TEXT NOT NULL,
	status      INTEGER NOT NULL,
	headers     BLOB,
	body        BLOB NOT NULL,
	stored_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (partition, request_key)
);
CREATE INDEX IF NOT EXISTS idx_cache_partition ON cache_entries(partition);
`

// New opens the cache database for the given deploy version.
func New(dbPath, version string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db, version: version}, nil
}

// PartitionName returns the current partition name for a logical role.
func (s *Store) PartitionName(role string) string {
	return role + "-" + s.version
}

// Get looks up a request key in a role's current partition.
func (s *Store) Get(ctx context.Context, role, key string) (models.CachedResponse, bool, error) {
	var resp models.CachedResponse
	var headers []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT status, headers, body, stored_at FROM cache_entries WHERE partition = ? AND request_key = ?`,
		s.PartitionName(role), key,
	).Scan(&resp.Status, &headers, &resp.Body, &resp.StoredAt)

	if err == sql.ErrNoRows {
		s.misses.Add(1)
		return models.CachedResponse{}, false, nil
	}
	if err != nil {
		return models.CachedResponse{}, false, fmt.Errorf("cache get: %w", err)
	}

	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &resp.Header)
	}
	s.hits.Add(1)
	return resp, true, nil
}

// Put writes a response into a role's current partition, overwriting any
// previous entry for the key. Callers only store success-status responses.
func (s *Store) Put(ctx context.Context, role, key string, resp models.CachedResponse) error {
	var headers []byte
	if resp.Header != nil {
		headers, _ = json.Marshal(resp.Header)
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (partition, request_key, status, headers, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.PartitionName(role), key, resp.Status, headers, resp.Body, storedAt,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Partitions returns the distinct partition names present in the store.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT partition FROM cache_entries ORDER BY partition`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteStale removes every partition whose name does not belong to the
// current version's expected set. Returns the number of entries dropped.
func (s *Store) DeleteStale(ctx context.Context) (int64, error) {
	current := make([]string, len(Roles))
	args := make([]any, len(Roles))
	for i, role := range Roles {
		current[i] = "?"
		args[i] = s.PartitionName(role)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE partition NOT IN (`+strings.Join(current, ", ")+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale partitions: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns cache performance metrics.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}, nil
}

// Clear removes every cache entry across all partitions.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
