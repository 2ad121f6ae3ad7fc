package models

import "time"

// CachedResponse is one stored request/response pair in a cache partition.
type CachedResponse struct {
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header,omitempty"`
	Body     []byte              `json:"body"`
	StoredAt time.Time           `json:"stored_at"`
}

// CacheStats reports partition store performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
