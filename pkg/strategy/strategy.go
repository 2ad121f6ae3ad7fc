// Package strategy implements the caching algorithms applied to intercepted
// requests: cache-first, network-first, and stale-while-revalidate.
package strategy

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	cachepkg "github.com/mealsync/mealsync/pkg/cache/sqlite"
	"github.com/mealsync/mealsync/pkg/models"
)

// Source identifies where a result came from.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

// Request is one intercepted request as seen by a strategy.
type Request struct {
	// Key identifies the request within a partition.
	Key string
	// URL is the upstream URL to fetch on a miss or revalidation.
	URL string
	// Header is forwarded to the upstream.
	Header http.Header
}

// Result is a normalized response from cache or network.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
	Source string
}

// Engine runs the caching strategies against the partition store.
type Engine struct {
	store  *cachepkg.Store
	client *http.Client
}

// New creates an Engine. The client bounds every network fetch, so a hung
// upstream cannot stall a cache-first or network-first response forever.
func New(store *cachepkg.Store, client *http.Client) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Engine{store: store, client: client}
}

// CacheFirst returns a cached response when present and only touches the
// network on a miss. A network failure with no cached copy propagates.
func (e *Engine) CacheFirst(ctx context.Context, role string, req Request) (Result, error) {
	cached, ok, err := e.store.Get(ctx, role, req.Key)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return fromCached(cached), nil
	}

	resp, err := e.fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	e.storeIfCacheable(ctx, role, req.Key, resp)
	return fromNetwork(resp), nil
}

// NetworkFirst attempts the network and falls back to a stale cached copy on
// failure. The network attempt always precedes the cache read.
func (e *Engine) NetworkFirst(ctx context.Context, role string, req Request) (Result, error) {
	resp, netErr := e.fetch(ctx, req)
	if netErr == nil {
		e.storeIfCacheable(ctx, role, req.Key, resp)
		return fromNetwork(resp), nil
	}

	cached, ok, err := e.store.Get(ctx, role, req.Key)
	if err != nil {
		return Result{}, err
	}
	if ok {
		log.Printf("network failed for %s, serving stale cache: %v", req.Key, netErr)
		return fromCached(cached), nil
	}
	return Result{}, netErr
}

// StaleWhileRevalidate returns a cached copy immediately, refreshing the
// partition in the background. The caller never waits on the network when a
// cached copy exists. With no cached copy, the network result is awaited and
// stored.
func (e *Engine) StaleWhileRevalidate(ctx context.Context, role string, req Request) (Result, error) {
	cached, ok, err := e.store.Get(ctx, role, req.Key)
	if err != nil {
		return Result{}, err
	}

	if ok {
		go e.revalidate(role, req)
		return fromCached(cached), nil
	}

	resp, err := e.fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	e.storeIfCacheable(ctx, role, req.Key, resp)
	return fromNetwork(resp), nil
}

// revalidate refreshes a partition entry detached from the caller's context.
func (e *Engine) revalidate(role string, req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), e.client.Timeout)
	defer cancel()

	resp, err := e.fetch(ctx, req)
	if err != nil {
		log.Printf("revalidate %s failed: %v", req.Key, err)
		return
	}
	e.storeIfCacheable(ctx, role, req.Key, resp)
}

func (e *Engine) fetch(ctx context.Context, req Request) (models.CachedResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return models.CachedResponse{}, err
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return models.CachedResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CachedResponse{}, err
	}

	return models.CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// storeIfCacheable writes a response into the partition. Failed responses are
// never cached.
func (e *Engine) storeIfCacheable(ctx context.Context, role, key string, resp models.CachedResponse) {
	if resp.Status < 200 || resp.Status >= 300 {
		return
	}
	if err := e.store.Put(ctx, role, key, resp); err != nil {
		log.Printf("cache write for %s failed: %v", key, err)
	}
}

func fromCached(c models.CachedResponse) Result {
	return Result{Status: c.Status, Header: http.Header(c.Header), Body: c.Body, Source: SourceCache}
}

func fromNetwork(c models.CachedResponse) Result {
	return Result{Status: c.Status, Header: http.Header(c.Header), Body: c.Body, Source: SourceNetwork}
}
