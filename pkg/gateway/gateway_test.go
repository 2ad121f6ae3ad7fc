package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mealsync/mealsync/pkg/api"
	cachepkg "github.com/mealsync/mealsync/pkg/cache/sqlite"
	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/models"
	"github.com/mealsync/mealsync/pkg/queue"
	"github.com/mealsync/mealsync/pkg/router"
	"github.com/mealsync/mealsync/pkg/strategy"
	"github.com/mealsync/mealsync/pkg/syncer"
)

type testGateway struct {
	srv   *Server
	cfg   *config.Config
	store *cachepkg.Store
	queue *queue.SQLiteQueue
}

func setupGateway(t *testing.T, upstreamURL string, notifier Notifier) *testGateway {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Upstream.URL = upstreamURL
	cfg.Upstream.Timeout = 2 * time.Second
	cfg.Sync.Interval = 0

	store, err := cachepkg.New(filepath.Join(dir, "cache.db"), cfg.Version)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	q, err := queue.New(filepath.Join(dir, "queue.db"), cfg.Queue.MaxPending)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = q.Close() })

	rules, err := router.New(cfg.Router)
	if err != nil {
		t.Fatal(err)
	}

	rec := syncer.New(q, api.New(cfg.Upstream), nil)
	engine := strategy.New(store, &http.Client{Timeout: cfg.Upstream.Timeout})

	srv, err := New(cfg, store, engine, rules, rec, notifier)
	if err != nil {
		t.Fatal(err)
	}
	return &testGateway{srv: srv, cfg: cfg, store: store, queue: q}
}

func (g *testGateway) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	g.srv.ServeHTTP(rec, req)
	return rec
}

func navRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html")
	return req
}

func TestInactiveServerPassesThrough(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("direct"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)

	for i := 0; i < 2; i++ {
		rec := g.do(t, httptest.NewRequest(http.MethodGet, "/api/meals", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Header().Get("X-Mealsync-Source") != "" {
			t.Error("inactive server must not intercept")
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 upstream calls before activation, got %d", calls.Load())
	}
}

func TestBypassedPathPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hmr"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := g.do(t, httptest.NewRequest(http.MethodGet, "/_next/webpack-hmr", nil))
	if rec.Header().Get("X-Mealsync-Source") != "" {
		t.Error("bypassed path must not be intercepted")
	}
	if rec.Body.String() != "hmr" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestNavigationOfflineServesCachedShell(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>home</html>"))
	}))

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Online navigation caches the shell as a side effect.
	rec := g.do(t, navRequest("/"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Mealsync-Source") != strategy.SourceNetwork {
		t.Errorf("expected network source, got %s", rec.Header().Get("X-Mealsync-Source"))
	}

	upstream.Close()

	// Offline navigation, even to a deep link, falls back to the shell.
	rec = g.do(t, navRequest("/meals/today"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 shell fallback, got %d", rec.Code)
	}
	if rec.Header().Get("X-Mealsync-Source") != strategy.SourceCache {
		t.Errorf("expected cache source, got %s", rec.Header().Get("X-Mealsync-Source"))
	}
	if rec.Body.String() != "<html>home</html>" {
		t.Errorf("unexpected shell body: %s", rec.Body.String())
	}
}

func TestNavigationOfflineNoShellSynthesizes503(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := g.do(t, navRequest("/"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("offline")) {
		t.Errorf("expected offline page, got %s", rec.Body.String())
	}
}

func TestImagesAreCacheFirst(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("png-bytes"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	first := g.do(t, httptest.NewRequest(http.MethodGet, "/icons/icon-192.png", nil))
	if first.Header().Get("X-Mealsync-Source") != strategy.SourceNetwork {
		t.Errorf("expected network on miss, got %s", first.Header().Get("X-Mealsync-Source"))
	}

	second := g.do(t, httptest.NewRequest(http.MethodGet, "/icons/icon-192.png", nil))
	if second.Header().Get("X-Mealsync-Source") != strategy.SourceCache {
		t.Errorf("expected cache on hit, got %s", second.Header().Get("X-Mealsync-Source"))
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestAPIRoutingFollowsRules(t *testing.T) {
	var mealsCalls, profileCalls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/meals":
			mealsCalls.Add(1)
		case "/api/profile":
			profileCalls.Add(1)
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	// /api/meals is cache-first: the second request never leaves the cache.
	g.do(t, httptest.NewRequest(http.MethodGet, "/api/meals", nil))
	g.do(t, httptest.NewRequest(http.MethodGet, "/api/meals", nil))
	if mealsCalls.Load() != 1 {
		t.Errorf("expected 1 upstream call for cache-first route, got %d", mealsCalls.Load())
	}

	// /api/profile matches only the network-first catch-all.
	g.do(t, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	g.do(t, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	if profileCalls.Load() != 2 {
		t.Errorf("expected 2 upstream calls for network-first route, got %d", profileCalls.Load())
	}
}

func TestEntrySubmitOnline(t *testing.T) {
	var gotKey atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/meal-log" {
			gotKey.Store(r.Header.Get("Idempotency-Key"))
		}
		w.Write([]byte("{}"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	body := bytes.NewBufferString(`{"user_id":"u1","meal_slot":"lunch","content":"ramen"}`)
	rec := g.do(t, httptest.NewRequest(http.MethodPost, "/api/meal-log", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result models.SubmitResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Offline {
		t.Errorf("expected online success, got %+v", result)
	}
	if key, _ := gotKey.Load().(string); key == "" || key != result.ID {
		t.Errorf("expected idempotency key %q on upstream write, got %q", result.ID, key)
	}

	count, _ := g.queue.Count(context.Background())
	if count != 0 {
		t.Errorf("online write must not queue, got %d pending", count)
	}
}

func TestEntrySubmitOfflineQueues(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	body := bytes.NewBufferString(`{"user_id":"u1","meal_slot":"dinner","content":"stew","want_summary":true}`)
	rec := g.do(t, httptest.NewRequest(http.MethodPost, "/api/meal-log", body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var result models.SubmitResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Success || !result.Offline {
		t.Errorf("expected offline result, got %+v", result)
	}

	entries, err := g.queue.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 queued entry, got %d", len(entries))
	}
	if entries[0].ID != result.ID || !entries[0].WantSummary {
		t.Errorf("queued entry mismatch: %+v", entries[0])
	}
}

func TestEntrySubmitValidation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, body := range []string{
		`{"meal_slot":"lunch","content":"x"}`,
		`{"user_id":"u1","content":"x"}`,
		`not json`,
	} {
		rec := g.do(t, httptest.NewRequest(http.MethodPost, "/api/meal-log", bytes.NewBufferString(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestSyncEndpointDrainsQueue(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	if err := g.srv.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := g.queue.Enqueue(ctx, models.PendingEntry{UserID: "u1", MealSlot: "lunch", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	rec := g.do(t, httptest.NewRequest(http.MethodPost, "/_gateway/sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var result models.SyncResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.SyncedCount != 1 || len(result.Errors) != 0 {
		t.Errorf("expected clean drain, got %+v", result)
	}

	pending := g.do(t, httptest.NewRequest(http.MethodGet, "/_gateway/pending", nil))
	var counts map[string]int
	if err := json.NewDecoder(pending.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	if counts["pending"] != 0 {
		t.Errorf("expected 0 pending, got %d", counts["pending"])
	}
}

func TestMessageGetVersion(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)

	body := bytes.NewBufferString(`{"kind":"get_version"}`)
	rec := g.do(t, httptest.NewRequest(http.MethodPost, "/_gateway/message", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var reply models.MessageReply
	if err := json.NewDecoder(rec.Body).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Version != g.cfg.Version {
		t.Errorf("expected version %s, got %s", g.cfg.Version, reply.Version)
	}
}

func TestMessageSkipWaitingActivates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)

	body := bytes.NewBufferString(`{"kind":"skip_waiting"}`)
	rec := g.do(t, httptest.NewRequest(http.MethodPost, "/_gateway/message", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// The server now intercepts instead of passing through.
	resp := g.do(t, httptest.NewRequest(http.MethodGet, "/api/meals", nil))
	if resp.Header().Get("X-Mealsync-Source") == "" {
		t.Error("expected interception after skip_waiting")
	}
}

func TestMessageUnknownKindRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)

	for _, body := range []string{`{"kind":"self_destruct"}`, `{}`, `not json`} {
		rec := g.do(t, httptest.NewRequest(http.MethodPost, "/_gateway/message", bytes.NewBufferString(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestInstallPrecachesShell(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset:" + r.URL.Path))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	ctx := context.Background()
	g.srv.Install(ctx)

	for _, asset := range g.cfg.Shell.Assets {
		cached, ok, err := g.store.Get(ctx, cachepkg.RoleShell, asset)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("asset %s not precached", asset)
			continue
		}
		if string(cached.Body) != "asset:"+asset {
			t.Errorf("asset %s: unexpected body %s", asset, cached.Body)
		}
	}
}

func TestInstallFailureIsNotFatal(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/manifest.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	g := setupGateway(t, upstream.URL, nil)
	ctx := context.Background()
	g.srv.Install(ctx)

	_, ok, err := g.store.Get(ctx, cachepkg.RoleShell, "/")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("healthy assets must still be precached when one fails")
	}
	_, ok, _ = g.store.Get(ctx, cachepkg.RoleShell, "/manifest.json")
	if ok {
		t.Error("failed asset must not be cached")
	}
}

type fakeNotifier struct {
	notifications []models.Notification
	opened        []string
	hasClient     bool
	focused       int
}

func (f *fakeNotifier) Notify(n models.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeNotifier) FocusClient() bool {
	if f.hasClient {
		f.focused++
		return true
	}
	return false
}

func (f *fakeNotifier) OpenWindow(url string) error {
	f.opened = append(f.opened, url)
	return nil
}

func TestPushDisplaysNotification(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	n := &fakeNotifier{}
	g := setupGateway(t, upstream.URL, n)

	body := bytes.NewBufferString(`{"title":"Lunch time","body":"Log your meal","url":"/meals/new"}`)
	rec := g.do(t, httptest.NewRequest(http.MethodPost, "/_gateway/push", body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(n.notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.notifications))
	}
	if n.notifications[0].Title != "Lunch time" || n.notifications[0].URL != "/meals/new" {
		t.Errorf("unexpected notification: %+v", n.notifications[0])
	}
}

func TestPushMalformedPayloadDefaults(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	n := &fakeNotifier{}
	g := setupGateway(t, upstream.URL, n)

	rec := g.do(t, httptest.NewRequest(http.MethodPost, "/_gateway/push", bytes.NewBufferString("not json")))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(n.notifications) != 1 {
		t.Fatalf("expected fallback notification, got %d", len(n.notifications))
	}
	if n.notifications[0].Title != "MealMate" {
		t.Errorf("expected default title, got %s", n.notifications[0].Title)
	}
}

func TestNotificationClick(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	// Existing client gets focused, no new window.
	n := &fakeNotifier{hasClient: true}
	g := setupGateway(t, upstream.URL, n)
	if err := g.srv.HandleNotificationClick("open", "/meals/new"); err != nil {
		t.Fatal(err)
	}
	if n.focused != 1 || len(n.opened) != 0 {
		t.Errorf("expected focus without open, got focused=%d opened=%v", n.focused, n.opened)
	}

	// No client: open a window at the target URL.
	n2 := &fakeNotifier{}
	g2 := setupGateway(t, upstream.URL, n2)
	if err := g2.srv.HandleNotificationClick("open", "/meals/new"); err != nil {
		t.Fatal(err)
	}
	if len(n2.opened) != 1 || n2.opened[0] != "/meals/new" {
		t.Errorf("expected window at /meals/new, got %v", n2.opened)
	}

	// Dismiss does nothing.
	n3 := &fakeNotifier{hasClient: true}
	g3 := setupGateway(t, upstream.URL, n3)
	if err := g3.srv.HandleNotificationClick("dismiss", "/meals/new"); err != nil {
		t.Fatal(err)
	}
	if n3.focused != 0 || len(n3.opened) != 0 {
		t.Error("dismiss must not focus or open")
	}
}
