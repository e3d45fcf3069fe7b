package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryBlacklistRepository guarda a blacklist em memória.
// Útil para testes e para o servidor de exemplo.
type MemoryBlacklistRepository struct {
	mu      sync.Mutex
	entries map[string]domain.BlacklistEntry
}

func NewMemoryBlacklistRepository() *MemoryBlacklistRepository {
	return &MemoryBlacklistRepository{entries: make(map[string]domain.BlacklistEntry)}
}

func (r *MemoryBlacklistRepository) Get(_ context.Context, ip string) (domain.BlacklistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ip]
	if !ok {
		return domain.BlacklistEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (r *MemoryBlacklistRepository) Save(_ context.Context, e domain.BlacklistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[e.IP] = e
	return nil
}

func (r *MemoryBlacklistRepository) Deactivate(_ context.Context, ip string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ip]
	if !ok {
		return domain.ErrNotFound
	}
	e.Active = false
	r.entries[ip] = e
	return nil
}

func (r *MemoryBlacklistRepository) ListBlocked(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for ip, e := range r.entries {
		if e.Blocks(now) {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryBlacklistRepository) List(_ context.Context, f domain.ListFilter) ([]domain.BlacklistEntry, int64, error) {
	r.mu.Lock()
	all := make([]domain.BlacklistEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if f.Active != nil && e.Active != *f.Active {
			continue
		}
		all = append(all, e)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].BlockedAt.Equal(all[j].BlockedAt) {
			return all[i].IP < all[j].IP
		}
		return all[i].BlockedAt.After(all[j].BlockedAt)
	})

	total := int64(len(all))
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}
