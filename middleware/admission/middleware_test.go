package admission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/charmbracelet/log"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	clock     *testClock
	store     *infra.MemoryStore
	repo      *infra.MemoryBlacklistRepository
	blacklist application.BlacklistService
	pipeline  application.Pipeline
}

func newTestEnv(p domain.Policy) *testEnv {
	clk := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := infra.NewMemoryStore(infra.WithClock(clk.Now))
	repo := infra.NewMemoryBlacklistRepository()
	policies := domain.StaticPolicy(p)
	keys := domain.Keyspace{Prefix: "test:"}
	l := log.New(io.Discard)

	bl := application.BlacklistService{Repo: repo, Store: store, Keys: keys, Log: l, Now: clk.Now}
	return &testEnv{
		clock:     clk,
		store:     store,
		repo:      repo,
		blacklist: bl,
		pipeline: application.Pipeline{
			Whitelist:  application.DefaultWhitelist("/admin"),
			Blacklist:  bl,
			Interval:   application.IntervalGuard{Store: store, Policies: policies, Keys: keys, Log: l, Now: clk.Now},
			RateLimit:  application.RateLimiter{Store: store, Policies: policies, Keys: keys, Log: l},
			Violations: application.ViolationTracker{Store: store, Policies: policies, Keys: keys, Log: l, Now: clk.Now},
			Escalator: application.Escalator{
				Store: store, Keys: keys, Blacklist: bl, Log: l,
				Slots: infra.NewSemaphorePool(1), SlotTimeout: 50 * time.Millisecond,
			},
			Log: l,
		},
	}
}

func (e *testEnv) handler(opts Options, next http.Handler) http.Handler {
	opts.Pipeline = e.pipeline
	if opts.Log == nil {
		opts.Log = log.New(io.Discard)
	}
	return Middleware(opts)(next)
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func do(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://example"+path, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_BlacklistBodyIsExact(t *testing.T) {
	env := newTestEnv(domain.DefaultPolicy())
	if _, err := env.blacklist.Block(context.Background(), application.BlockRequest{IP: "10.0.0.1", Reason: "fraud"}); err != nil {
		t.Fatalf("block: %v", err)
	}

	calls := 0
	h := env.handler(Options{}, okHandler(&calls))
	w := do(h, http.MethodGet, "/api/items", "10.0.0.1:1234")

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if got := w.Body.String(); got != `{"code":403,"message":"Access denied","data":null}` {
		t.Fatalf("unexpected body %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	if calls != 0 {
		t.Fatalf("expected next handler not called, got %d", calls)
	}
}

func TestMiddleware_RateLimitResponse(t *testing.T) {
	p := domain.DefaultPolicy()
	p.Intervals = map[domain.Category]time.Duration{}
	env := newTestEnv(p)

	calls := 0
	h := env.handler(Options{AddRateLimitHeaders: true}, okHandler(&calls))

	for i := 0; i < 30; i++ {
		if w := do(h, http.MethodPost, "/api/login", "10.0.0.2:1111"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	env.clock.Advance(15 * time.Second)

	w := do(h, http.MethodPost, "/api/login", "10.0.0.2:1111")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "45" {
		t.Fatalf("expected Retry-After=45, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Category"); got != "login" {
		t.Fatalf("expected category header, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "30" {
		t.Fatalf("expected limit header 30, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Window"); got != "60" {
		t.Fatalf("expected window header 60, got %q", got)
	}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Reason       string `json:"reason"`
			Action       string `json:"action"`
			CurrentCount int64  `json:"current_count"`
			MaxRequests  int64  `json:"max_requests"`
			Window       int64  `json:"window"`
			RetryAfter   int64  `json:"retry_after"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != 429 || !strings.Contains(body.Message, "login") {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if body.Data.Reason != "rate_limit" || body.Data.CurrentCount != 30 || body.Data.MaxRequests != 30 ||
		body.Data.Window != 60 || body.Data.RetryAfter != 45 {
		t.Fatalf("unexpected data %+v", body.Data)
	}
	if calls != 30 {
		t.Fatalf("expected 30 upstream calls, got %d", calls)
	}
}

func TestMiddleware_IntervalResponse(t *testing.T) {
	env := newTestEnv(domain.DefaultPolicy())
	calls := 0
	h := env.handler(Options{}, okHandler(&calls))

	if w := do(h, http.MethodGet, "/api/ad/watch", "10.0.0.3:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	env.clock.Advance(2900 * time.Millisecond)

	w := do(h, http.MethodGet, "/api/ad/watch", "10.0.0.3:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After rounded up to 1, got %q", got)
	}

	var body struct {
		Data struct {
			Reason         string  `json:"reason"`
			MinInterval    float64 `json:"min_interval"`
			ActualInterval float64 `json:"actual_interval"`
			RetryAfter     float64 `json:"retry_after"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.Reason != "interval" || body.Data.MinInterval != 3 || body.Data.ActualInterval != 2.9 || body.Data.RetryAfter != 0.1 {
		t.Fatalf("unexpected data %+v", body.Data)
	}

	env.clock.Advance(200 * time.Millisecond)
	if w := do(h, http.MethodGet, "/api/ad/watch", "10.0.0.3:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after interval, got %d", w.Code)
	}
}

func TestMiddleware_AutoBanResponse(t *testing.T) {
	p := domain.DefaultPolicy()
	p.Rates[domain.CategoryDefault] = domain.RatePolicy{Max: 1, Window: time.Minute}
	p.Intervals = map[domain.Category]time.Duration{}
	env := newTestEnv(p)

	calls := 0
	h := env.handler(Options{}, okHandler(&calls))
	do(h, http.MethodGet, "/api/items", "10.0.0.4:1")
	for i := 0; i < 4; i++ {
		if w := do(h, http.MethodGet, "/api/items", "10.0.0.4:1"); w.Code != http.StatusTooManyRequests {
			t.Fatalf("violation %d: expected 429, got %d", i+1, w.Code)
		}
	}

	w := do(h, http.MethodGet, "/api/items", "10.0.0.4:1")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 ban, got %d", w.Code)
	}
	want := `{"code":403,"message":"Your IP has been banned for 24 hours due to repeated violations","data":{"reason":"auto_ban","ban_duration":"24h0m0s"}}`
	if got := w.Body.String(); got != want {
		t.Fatalf("unexpected body %q", got)
	}

	w = do(h, http.MethodGet, "/api/items", "10.0.0.4:1")
	if got := w.Body.String(); got != `{"code":403,"message":"Access denied","data":null}` {
		t.Fatalf("expected blacklist body after ban, got %q", got)
	}
}

func TestMiddleware_WhitelistPassesBlockedIP(t *testing.T) {
	env := newTestEnv(domain.DefaultPolicy())
	_, _ = env.blacklist.Block(context.Background(), application.BlockRequest{IP: "10.0.0.5"})

	calls := 0
	h := env.handler(Options{AddRateLimitHeaders: true}, okHandler(&calls))
	w := do(h, http.MethodGet, "/health", "10.0.0.5:1")
	if w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected whitelisted path to reach upstream, got %d (calls %d)", w.Code, calls)
	}
	if got := w.Header().Get("X-RateLimit-Category"); got != "" {
		t.Fatalf("expected no rate headers on whitelisted path, got %q", got)
	}
}

type panicKey struct{}

func TestMiddleware_FailsOpenOnPanic(t *testing.T) {
	env := newTestEnv(domain.DefaultPolicy())
	calls := 0
	h := env.handler(Options{KeyFn: func(*http.Request) string { panic(panicKey{}) }}, okHandler(&calls))

	if w := do(h, http.MethodGet, "/api/items", "10.0.0.6:1"); w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected fail-open, got %d (calls %d)", w.Code, calls)
	}
}

func TestMiddleware_RecordsStatsAndVerdicts(t *testing.T) {
	env := newTestEnv(domain.DefaultPolicy())
	stats := infra.NewMemoryStatsStore()

	var verdicts []domain.Verdict
	calls := 0
	h := env.handler(Options{
		Stats:     stats,
		OnVerdict: func(v domain.Verdict, _ time.Duration) { verdicts = append(verdicts, v) },
	}, okHandler(&calls))

	do(h, http.MethodGet, "/api/items", "10.0.0.7:1")
	do(h, http.MethodGet, "/api/items", "10.0.0.7:1")
	do(h, http.MethodGet, "/health", "10.0.0.7:1")

	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
	total := stats.Total()
	if total.Allowed != 1 || total.Denied != 1 {
		t.Fatalf("expected 1 allowed and 1 denied (whitelist not counted), got %+v", total)
	}
	if n := stats.ByStage()[domain.StageInterval]; n != 1 {
		t.Fatalf("expected one interval rejection, got %d", n)
	}
}
