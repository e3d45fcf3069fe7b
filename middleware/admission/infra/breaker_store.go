package infra

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
)

// BreakerStore envolve um domain.CounterStore em um circuit breaker.
//
// Com o cache fora do ar, depois de N falhas consecutivas as chamadas falham
// na hora (gobreaker.ErrOpenState) durante o cool-down, e o pipeline segue em
// fail-open sem pagar o timeout por requisição.
type BreakerStore struct {
	next    domain.CounterStore
	cb      *gobreaker.CircuitBreaker
	onError func(op string, err error)
}

type breakerConfig struct {
	name        string
	failures    uint32
	cooldown    time.Duration
	logger      *log.Logger
	onState     func(from, to gobreaker.State)
	onError     func(op string, err error)
	halfOpenMax uint32
}

type BreakerOption func(*breakerConfig)

func WithBreakerName(name string) BreakerOption {
	return func(c *breakerConfig) { c.name = name }
}

// WithBreakerFailures define quantas falhas consecutivas abrem o circuito.
func WithBreakerFailures(n uint32) BreakerOption {
	return func(c *breakerConfig) { c.failures = n }
}

func WithBreakerCooldown(d time.Duration) BreakerOption {
	return func(c *breakerConfig) { c.cooldown = d }
}

func WithBreakerLogger(l *log.Logger) BreakerOption {
	return func(c *breakerConfig) { c.logger = l }
}

func WithBreakerStateHook(fn func(from, to gobreaker.State)) BreakerOption {
	return func(c *breakerConfig) { c.onState = fn }
}

// WithStoreErrorHook é chamado a cada erro do store (inclusive circuito aberto).
func WithStoreErrorHook(fn func(op string, err error)) BreakerOption {
	return func(c *breakerConfig) { c.onError = fn }
}

func NewBreakerStore(next domain.CounterStore, opts ...BreakerOption) *BreakerStore {
	cfg := breakerConfig{
		name:        "counter-store",
		failures:    5,
		cooldown:    10 * time.Second,
		logger:      log.Default(),
		halfOpenMax: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.failures == 0 {
		cfg.failures = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.name,
		MaxRequests: cfg.halfOpenMax,
		Timeout:     cfg.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				cfg.logger.Error("circuit breaker opened", "breaker", name, "from", from.String(), "cooldown", cfg.cooldown)
			} else {
				cfg.logger.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
			if cfg.onState != nil {
				cfg.onState(from, to)
			}
		},
		// Cancelamento do chamador (cliente desconectou) não indica cache doente.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerStore{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker(settings),
		onError: cfg.onError,
	}
}

// State expõe o estado atual do circuito.
func (s *BreakerStore) State() gobreaker.State { return s.cb.State() }

func guard[T any](s *BreakerStore, op string, fn func() (T, error)) (T, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if s.onError != nil {
			s.onError(op, err)
		}
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func guardErr(s *BreakerStore, op string, fn func() error) error {
	_, err := guard(s, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *BreakerStore) IncrBelow(ctx context.Context, key string, max int64, ttl time.Duration) (domain.CounterResult, error) {
	return guard(s, "incr", func() (domain.CounterResult, error) {
		return s.next.IncrBelow(ctx, key, max, ttl)
	})
}

type getResult struct {
	value string
	found bool
}

func (s *BreakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	r, err := guard(s, "get", func() (getResult, error) {
		v, ok, err := s.next.Get(ctx, key)
		return getResult{value: v, found: ok}, err
	})
	return r.value, r.found, err
}

func (s *BreakerStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return guardErr(s, "set", func() error {
		return s.next.SetTTL(ctx, key, value, ttl)
	})
}

func (s *BreakerStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return guard(s, "setnx", func() (bool, error) {
		return s.next.SetIfAbsent(ctx, key, value, ttl)
	})
}

func (s *BreakerStore) Delete(ctx context.Context, keys ...string) error {
	return guardErr(s, "del", func() error {
		return s.next.Delete(ctx, keys...)
	})
}

func (s *BreakerStore) PushCapped(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	return guardErr(s, "push", func() error {
		return s.next.PushCapped(ctx, key, value, maxLen, ttl)
	})
}

func (s *BreakerStore) Range(ctx context.Context, key string) ([]string, error) {
	return guard(s, "range", func() ([]string, error) {
		return s.next.Range(ctx, key)
	})
}

func (s *BreakerStore) SetAdd(ctx context.Context, key string, members ...string) error {
	return guardErr(s, "sadd", func() error {
		return s.next.SetAdd(ctx, key, members...)
	})
}

func (s *BreakerStore) SetRemove(ctx context.Context, key string, members ...string) error {
	return guardErr(s, "srem", func() error {
		return s.next.SetRemove(ctx, key, members...)
	})
}

func (s *BreakerStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	return guard(s, "sismember", func() (bool, error) {
		return s.next.SetContains(ctx, key, member)
	})
}

func (s *BreakerStore) SetCard(ctx context.Context, key string) (int64, error) {
	return guard(s, "scard", func() (int64, error) {
		return s.next.SetCard(ctx, key)
	})
}

func (s *BreakerStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	return guard(s, "smembers", func() ([]string, error) {
		return s.next.SetMembers(ctx, key)
	})
}

func (s *BreakerStore) SetReplace(ctx context.Context, key string, members []string) error {
	return guardErr(s, "sreplace", func() error {
		return s.next.SetReplace(ctx, key, members)
	})
}
