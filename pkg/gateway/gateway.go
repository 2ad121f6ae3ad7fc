// Package gateway is the request interception layer: it fronts the hosted
// MealMate API, dispatches intercepted requests to caching strategies, queues
// offline writes, and owns the install/activate lifecycle.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	cachepkg "github.com/mealsync/mealsync/pkg/cache/sqlite"
	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/models"
	"github.com/mealsync/mealsync/pkg/router"
	"github.com/mealsync/mealsync/pkg/strategy"
	"github.com/mealsync/mealsync/pkg/syncer"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true, ".avif": true,
}

// Server is the mealsync edge gateway.
type Server struct {
	cfg        *config.Config
	store      *cachepkg.Store
	engine     *strategy.Engine
	rules      *router.Rules
	reconciler *syncer.Reconciler
	notifier   Notifier
	upstream   *url.URL
	client     *http.Client
	mux        *http.ServeMux

	installed atomic.Bool
	active    atomic.Bool
}

// New creates a gateway Server wired with all dependencies.
func New(cfg *config.Config, store *cachepkg.Store, engine *strategy.Engine, rules *router.Rules, rec *syncer.Reconciler, notifier Notifier) (*Server, error) {
	upstream, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		rules:      rules,
		reconciler: rec,
		notifier:   notifier,
		upstream:   upstream,
		client:     &http.Client{Timeout: cfg.Upstream.Timeout},
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/_gateway/sync", s.handleSync)
	s.mux.HandleFunc("/_gateway/pending", s.handlePending)
	s.mux.HandleFunc("/_gateway/message", s.handleMessage)
	s.mux.HandleFunc("/_gateway/push", s.handlePush)
	s.mux.HandleFunc("/_gateway/version", s.handleVersion)
	s.mux.HandleFunc("/", s.handleFetch)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Install precaches the app shell. Precache failure is never fatal: the bulk
// pass runs first, failed URLs are retried individually, and whatever still
// fails is logged and simply misses on first load.
func (s *Server) Install(ctx context.Context) {
	var failed []string
	for _, asset := range s.cfg.Shell.Assets {
		if err := s.precacheOne(ctx, asset); err != nil {
			failed = append(failed, asset)
		}
	}

	for _, asset := range failed {
		if err := s.precacheOne(ctx, asset); err != nil {
			log.Printf("precache of %s failed: %v", asset, err)
		}
	}

	s.installed.Store(true)
	log.Printf("install complete, %d shell assets attempted", len(s.cfg.Shell.Assets))
}

func (s *Server) precacheOne(ctx context.Context, asset string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Upstream.URL+asset, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	return s.store.Put(ctx, cachepkg.RoleShell, asset, models.CachedResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	})
}

// Activate deletes stale-version cache partitions and starts handling
// requests. Must complete before the server begins serving.
func (s *Server) Activate(ctx context.Context) error {
	dropped, err := s.store.DeleteStale(ctx)
	if err != nil {
		return fmt.Errorf("activate cleanup: %w", err)
	}
	if dropped > 0 {
		log.Printf("activation dropped %d stale cache entries", dropped)
	}
	s.active.Store(true)
	return nil
}

// ListenAndServe runs the gateway with graceful shutdown and the background
// sync loop that retries pending entries on the configured interval.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	go s.syncLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("mealsync gateway listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// syncLoop is the background-sync analog: while entries are pending, trigger
// a reconciliation every interval.
func (s *Server) syncLoop(ctx context.Context) {
	if s.cfg.Sync.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Sync.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.reconciler.PendingCount(ctx)
			if err != nil {
				log.Printf("pending count failed: %v", err)
				continue
			}
			if count == 0 {
				continue
			}
			log.Printf("%s: %d entries pending, reconciling", s.cfg.Sync.Tag, count)
			if _, err := s.TriggerSync(ctx); err != nil {
				log.Printf("%s failed: %v", s.cfg.Sync.Tag, err)
			}
		}
	}
}

// TriggerSync runs one reconciliation. Overlapping triggers are serialized by
// the reconciler so the same entry cannot be submitted twice.
func (s *Server) TriggerSync(ctx context.Context) (models.SyncResult, error) {
	return s.reconciler.Reconcile(ctx)
}

// handleFetch is the fetch dispatcher.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	// Cacheability filter: bypassed requests pass through untouched.
	if !s.active.Load() || s.bypassed(r) {
		s.passthrough(w, r)
		return
	}

	if r.Method == http.MethodGet && isNavigation(r) {
		s.handleNavigation(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == s.cfg.Upstream.EntryPath {
		s.handleEntrySubmit(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.passthrough(w, r)
		return
	}

	key := r.URL.RequestURI()
	req := strategy.Request{
		Key:    key,
		URL:    s.cfg.Upstream.URL + key,
		Header: r.Header,
	}

	switch {
	case strings.HasPrefix(r.URL.Path, s.cfg.Upstream.APIPrefix):
		switch s.rules.Classify(key) {
		case router.CacheFirst:
			s.serveStrategy(w, r, cachepkg.RoleAPI, req, s.engine.CacheFirst)
		case router.StaleWhileRevalidate:
			s.serveStrategy(w, r, cachepkg.RoleAPI, req, s.engine.StaleWhileRevalidate)
		case router.NetworkFirst:
			s.serveStrategy(w, r, cachepkg.RoleAPI, req, s.engine.NetworkFirst)
		default:
			s.passthrough(w, r)
		}
	case imageExts[strings.ToLower(path.Ext(r.URL.Path))]:
		s.serveStrategy(w, r, cachepkg.RoleImages, req, s.engine.CacheFirst)
	default:
		s.serveStrategy(w, r, cachepkg.RoleStatic, req, s.engine.StaleWhileRevalidate)
	}
}

type strategyFunc func(ctx context.Context, role string, req strategy.Request) (strategy.Result, error)

func (s *Server) serveStrategy(w http.ResponseWriter, r *http.Request, role string, req strategy.Request, fn strategyFunc) {
	result, err := fn(r.Context(), role, req)
	if err != nil {
		// Cache miss plus network failure: propagate, the page has its
		// own error UI.
		log.Printf("fetch of %s failed: %v", req.Key, err)
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}

	for k, vals := range result.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Mealsync-Source", result.Source)
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// handleNavigation serves page navigations: network first, cached app shell
// as the offline fallback, synthesized 503 when even the shell is missing.
func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()
	resp, err := s.fetchUpstream(r.Context(), key, r.Header)
	if err == nil {
		if r.URL.Path == s.cfg.Shell.Root && resp.Status >= 200 && resp.Status < 300 {
			if putErr := s.store.Put(r.Context(), cachepkg.RoleShell, s.cfg.Shell.Root, resp); putErr != nil {
				log.Printf("shell cache write failed: %v", putErr)
			}
		}
		writeCached(w, resp, strategy.SourceNetwork)
		return
	}

	shell, ok, cacheErr := s.store.Get(r.Context(), cachepkg.RoleShell, s.cfg.Shell.Root)
	if cacheErr != nil {
		log.Printf("shell cache read failed: %v", cacheErr)
	}
	if ok {
		log.Printf("navigation to %s offline, serving cached shell", key)
		writeCached(w, shell, strategy.SourceCache)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Retry-After", "30")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, offlinePage)
}

const offlinePage = `<!doctype html><html><head><title>Offline</title></head>
<body><h1>You are offline</h1><p>MealMate could not reach the network and no cached copy is available yet.</p></body></html>`

// handleEntrySubmit is the write-intent path: forward the meal entry online,
// queue it durably when the write fails.
func (s *Server) handleEntrySubmit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID      string `json:"user_id"`
		MealSlot    string `json:"meal_slot"`
		Content     string `json:"content"`
		WantSummary bool   `json:"want_summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid entry body")
		return
	}
	r.Body.Close()

	if in.UserID == "" || in.MealSlot == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id and meal_slot are required")
		return
	}

	result, err := s.reconciler.SubmitOrQueue(r.Context(), models.PendingEntry{
		UserID:      in.UserID,
		MealSlot:    in.MealSlot,
		Content:     in.Content,
		WantSummary: in.WantSummary,
	})
	if err != nil {
		// Could not write online or persist offline; the entry may be lost
		// and the client must be told.
		writeJSONError(w, http.StatusInternalServerError, "could not persist entry: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Offline {
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(result)
}

// HandleMessage dispatches a validated client command.
func (s *Server) HandleMessage(ctx context.Context, msg models.Message) (models.MessageReply, error) {
	switch msg.Kind {
	case models.MessageSkipWaiting:
		if !s.active.Load() {
			if err := s.Activate(ctx); err != nil {
				return models.MessageReply{}, err
			}
			log.Printf("skip waiting: promoted to active")
		}
		return models.MessageReply{Kind: models.MessageSkipWaiting}, nil
	case models.MessageGetVersion:
		return models.MessageReply{Kind: models.MessageGetVersion, Version: s.cfg.Version}, nil
	default:
		return models.MessageReply{}, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

// HandlePush parses a push payload and displays it through the notifier.
func (s *Server) HandlePush(payload []byte) error {
	n := models.ParseNotification(payload)
	return s.notifier.Notify(n)
}

// HandleNotificationClick focuses an open client when one exists, otherwise
// opens a new window at the target URL. A dismiss action does nothing.
func (s *Server) HandleNotificationClick(action, targetURL string) error {
	if action == "dismiss" {
		return nil
	}
	if s.notifier.FocusClient() {
		return nil
	}
	if targetURL == "" {
		targetURL = s.cfg.Shell.Root
	}
	return s.notifier.OpenWindow(targetURL)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result, err := s.TriggerSync(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	count, err := s.reconciler.PendingCount(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"pending": count})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read message")
		return
	}
	msg, err := models.ParseMessage(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.HandleMessage(r.Context(), msg)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := s.HandlePush(body); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": s.cfg.Version})
}

// bypassed reports whether a request is excluded from interception: dev
// tooling endpoints and anything that is not plain http(s).
func (s *Server) bypassed(r *http.Request) bool {
	if r.URL.Scheme != "" && r.URL.Scheme != "http" && r.URL.Scheme != "https" {
		return true
	}
	for _, prefix := range s.cfg.Bypass {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) passthrough(w http.ResponseWriter, r *http.Request) {
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = s.upstream.Scheme
			req.URL.Host = s.upstream.Host
			req.Host = s.upstream.Host
		},
	}
	proxy.ServeHTTP(w, r)
}

func (s *Server) fetchUpstream(ctx context.Context, key string, header http.Header) (models.CachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Upstream.URL+key, nil)
	if err != nil {
		return models.CachedResponse{}, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.CachedResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CachedResponse{}, err
	}
	return models.CachedResponse{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeCached(w http.ResponseWriter, resp models.CachedResponse, source string) {
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Mealsync-Source", source)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
