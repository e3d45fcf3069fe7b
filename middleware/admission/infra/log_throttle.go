package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LogThrottle limita com quantas linhas de log cada IP pode aparecer.
//
// Um token-bucket (x/time/rate) por chave com burst 1 e recarga a cada `every`:
// durante um ataque, o mesmo IP gera no máximo um log por período.
// Entradas ociosas são removidas por um janitor.
type LogThrottle struct {
	mu           sync.Mutex
	entries      map[string]*throttleEntry
	every        time.Duration
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LogThrottleOption func(*LogThrottle)

func WithThrottleIdleTTL(d time.Duration) LogThrottleOption {
	return func(t *LogThrottle) { t.idleTTL = d }
}

func WithThrottleCleanupEvery(d time.Duration) LogThrottleOption {
	return func(t *LogThrottle) { t.cleanupEvery = d }
}

func WithThrottleClock(now func() time.Time) LogThrottleOption {
	return func(t *LogThrottle) { t.now = now }
}

// NewLogThrottle cria o throttle. every <= 0 desliga o limite (Allow sempre true).
func NewLogThrottle(every time.Duration, opts ...LogThrottleOption) *LogThrottle {
	t := &LogThrottle{
		entries:      make(map[string]*throttleEntry),
		every:        every,
		idleTTL:      2 * every,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *LogThrottle) Every() time.Duration { return t.every }

// Allow diz se a chave pode logar agora e consome o token.
func (t *LogThrottle) Allow(key string) bool {
	if t == nil || t.every <= 0 {
		return true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	ent, ok := t.entries[key]
	if !ok {
		ent = &throttleEntry{lim: rate.NewLimiter(rate.Every(t.every), 1)}
		t.entries[key] = ent
	}
	ent.lastSeen = now
	return ent.lim.AllowN(now, 1)
}

func (t *LogThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *LogThrottle) Cleanup() {
	cutoff := t.now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// Run limpa entradas ociosas periodicamente até o ctx encerrar.
func (t *LogThrottle) Run(ctx context.Context) error {
	if t.cleanupEvery <= 0 {
		<-ctx.Done()
		return nil
	}

	tk := time.NewTicker(t.cleanupEvery)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			t.Cleanup()
		}
	}
}
