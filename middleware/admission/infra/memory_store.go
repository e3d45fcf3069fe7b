package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryStore é uma implementação em memória de domain.CounterStore.
// Útil para testes e desenvolvimento.
//
// Respeita TTLs contra um relógio injetável, mas não é compartilhado entre
// processos: não usar em produção com mais de um worker.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	str       string
	list      []string
	set       map[string]struct{}
	expiresAt time.Time
}

type MemoryStoreOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup devolve a entrada viva ou nil. Exige s.mu.
func (s *MemoryStore) lookup(key string, now time.Time) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (s *MemoryStore) IncrBelow(_ context.Context, key string, max int64, ttl time.Duration) (domain.CounterResult, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		s.entries[key] = &memEntry{str: "1", expiresAt: expiry(now, ttl)}
		return domain.CounterResult{Count: 1, Allowed: true, TTL: ttl}, nil
	}

	cur, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return domain.CounterResult{}, err
	}
	if e.expiresAt.IsZero() {
		e.expiresAt = expiry(now, ttl)
	}
	remaining := e.expiresAt.Sub(now)
	if cur >= max {
		return domain.CounterResult{Count: cur, Allowed: false, TTL: remaining}, nil
	}
	cur++
	e.str = strconv.FormatInt(cur, 10)
	return domain.CounterResult{Count: cur, Allowed: true, TTL: remaining}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		return "", false, nil
	}
	return e.str, true, nil
}

func (s *MemoryStore) SetTTL(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{str: value, expiresAt: expiry(now, ttl)}
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(key, now) != nil {
		return false, nil
	}
	s.entries[key] = &memEntry{str: value, expiresAt: expiry(now, ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) PushCapped(_ context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		e = &memEntry{}
		s.entries[key] = e
	}
	e.list = append([]string{value}, e.list...)
	if maxLen > 0 && int64(len(e.list)) > maxLen {
		e.list = e.list[:maxLen]
	}
	e.expiresAt = expiry(now, ttl)
	return nil
}

func (s *MemoryStore) Range(_ context.Context, key string) ([]string, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		return nil, nil
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (s *MemoryStore) setEntry(key string, now time.Time) *memEntry {
	e := s.lookup(key, now)
	if e == nil {
		e = &memEntry{set: make(map[string]struct{})}
		s.entries[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	return e
}

func (s *MemoryStore) SetAdd(_ context.Context, key string, members ...string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.setEntry(key, now)
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SetRemove(_ context.Context, key string, members ...string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		return nil
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) SetContains(_ context.Context, key, member string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		return false, nil
	}
	_, ok := e.set[member]
	return ok, nil
}

func (s *MemoryStore) SetCard(_ context.Context, key string) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, now)
	if e == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) SetReplace(_ context.Context, key string, members []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	if len(members) == 0 {
		return nil
	}
	e := &memEntry{set: make(map[string]struct{}, len(members))}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	s.entries[key] = e
	return nil
}
