package application

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/charmbracelet/log"
)

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
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

func quietLog() *log.Logger { return log.New(io.Discard) }

// downStore simula o cache fora do ar: toda operação falha.
type downStore struct{}

func (downStore) IncrBelow(context.Context, string, int64, time.Duration) (domain.CounterResult, error) {
	return domain.CounterResult{}, errStoreDown
}
func (downStore) Get(context.Context, string) (string, bool, error) { return "", false, errStoreDown }
func (downStore) SetTTL(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (downStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (downStore) Delete(context.Context, ...string) error { return errStoreDown }
func (downStore) PushCapped(context.Context, string, string, int64, time.Duration) error {
	return errStoreDown
}
func (downStore) Range(context.Context, string) ([]string, error)          { return nil, errStoreDown }
func (downStore) SetAdd(context.Context, string, ...string) error          { return errStoreDown }
func (downStore) SetRemove(context.Context, string, ...string) error       { return errStoreDown }
func (downStore) SetContains(context.Context, string, string) (bool, error) { return false, errStoreDown }
func (downStore) SetCard(context.Context, string) (int64, error)           { return 0, errStoreDown }
func (downStore) SetMembers(context.Context, string) ([]string, error)     { return nil, errStoreDown }
func (downStore) SetReplace(context.Context, string, []string) error       { return errStoreDown }

// countingStore conta quantas operações chegaram ao store.
type countingStore struct {
	domain.CounterStore
	mu    sync.Mutex
	calls int
}

func (s *countingStore) hit() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *countingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *countingStore) IncrBelow(ctx context.Context, key string, max int64, ttl time.Duration) (domain.CounterResult, error) {
	s.hit()
	return s.CounterStore.IncrBelow(ctx, key, max, ttl)
}

func (s *countingStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.hit()
	return s.CounterStore.Get(ctx, key)
}

func (s *countingStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	s.hit()
	return s.CounterStore.SetContains(ctx, key, member)
}

func (s *countingStore) PushCapped(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	s.hit()
	return s.CounterStore.PushCapped(ctx, key, value, maxLen, ttl)
}

func (s *countingStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	s.hit()
	return s.CounterStore.SetTTL(ctx, key, value, ttl)
}

// failingRepo simula o banco fora do ar.
type failingRepo struct {
	*infra.MemoryBlacklistRepository
}

var errDBDown = errors.New("database is down")

func (failingRepo) ListBlocked(context.Context, time.Time) ([]string, error) { return nil, errDBDown }
func (failingRepo) Save(context.Context, domain.BlacklistEntry) error       { return errDBDown }

type fixture struct {
	clock      *testClock
	store      domain.CounterStore
	repo       domain.BlacklistRepository
	policies   domain.PolicySource
	keys       domain.Keyspace
	blacklist  BlacklistService
	reconciler *Reconciler
	pipeline   Pipeline
	bans       []string
}

func newFixture(p domain.Policy) *fixture {
	return newFixtureWith(p, nil, infra.NewMemoryBlacklistRepository())
}

// newFixtureWith monta o pipeline completo; store nil = MemoryStore com o relógio de teste.
func newFixtureWith(p domain.Policy, store domain.CounterStore, repo domain.BlacklistRepository) *fixture {
	f := &fixture{
		clock:    newTestClock(),
		repo:     repo,
		policies: domain.StaticPolicy(p),
		keys:     domain.Keyspace{Prefix: "test:"},
	}
	if store == nil {
		store = infra.NewMemoryStore(infra.WithClock(f.clock.Now))
	}
	f.store = store

	l := quietLog()
	f.blacklist = BlacklistService{Repo: repo, Store: store, Keys: f.keys, Log: l, Now: f.clock.Now}
	f.reconciler = &Reconciler{Repo: repo, Store: store, Keys: f.keys, Log: l, Now: f.clock.Now}
	f.pipeline = Pipeline{
		Whitelist: DefaultWhitelist("/admin"),
		Blacklist: f.blacklist,
		Interval:  IntervalGuard{Store: store, Policies: f.policies, Keys: f.keys, Log: l, Now: f.clock.Now},
		RateLimit: RateLimiter{Store: store, Policies: f.policies, Keys: f.keys, Log: l},
		Violations: ViolationTracker{
			Store: store, Policies: f.policies, Keys: f.keys, Log: l, Now: f.clock.Now,
		},
		Escalator: Escalator{
			Store: store, Keys: f.keys, Blacklist: f.blacklist, Log: l,
			Slots: infra.NewSemaphorePool(2), SlotTimeout: 100 * time.Millisecond,
			OnBan: func(ip string) { f.bans = append(f.bans, ip) },
		},
		Log: l,
	}
	return f
}

func (f *fixture) evaluate(method, path, ip string) domain.Verdict {
	return f.pipeline.Evaluate(context.Background(), Request{Method: method, Path: path, IP: ip})
}
