package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeaseTTL    = 45 * time.Second
	leaseRetryDelay    = time.Second
	leaseRenewTimeout  = 5 * time.Second
	minLeaseRenewEvery = time.Second
)

var (
	leaseCounter atomic.Uint64

	renewLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// Leader executa uma função somente enquanto detém um lease no Redis
// (SET NX + renovação periódica via Lua).
type Leader struct {
	rdb    redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *log.Logger
	retry  time.Duration
}

type LeaderOption func(*Leader)

func WithLeaseTTL(d time.Duration) LeaderOption {
	return func(l *Leader) { l.ttl = d }
}

func WithLeaderLogger(logger *log.Logger) LeaderOption {
	return func(l *Leader) { l.logger = logger }
}

func WithLeaseRetry(d time.Duration) LeaderOption {
	return func(l *Leader) { l.retry = d }
}

func NewLeader(rdb redis.UniversalClient, key string, opts ...LeaderOption) *Leader {
	l := &Leader{
		rdb:    rdb,
		key:    key,
		ttl:    DefaultLeaseTTL,
		logger: log.Default(),
		retry:  leaseRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		l.ttl = DefaultLeaseTTL
	}
	if l.retry <= 0 {
		l.retry = leaseRetryDelay
	}
	return l
}

// Run adquire o lease e chama run com um contexto cancelado quando o lease é
// perdido ou o ctx pai encerra. Ao perder o lease volta a disputá-lo.
// Retorna somente quando ctx encerra.
func (l *Leader) Run(ctx context.Context, run func(context.Context)) error {
	if run == nil {
		return errors.New("leader: run function cannot be nil")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		session, err := l.acquire(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			l.logger.Warn("leader lease: failed to acquire", "key", l.key, "error", err)
			if !sleepCtx(ctx, l.retry) {
				return ctx.Err()
			}
			continue
		}

		l.logger.Debug("leader lease: acquired", "key", l.key)
		run(session.ctx)
		session.Close()
		l.logger.Debug("leader lease: released", "key", l.key)

		if !sleepCtx(ctx, l.retry) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type leaseSession struct {
	leader    *Leader
	value     string
	ctx       context.Context
	cancel    context.CancelFunc
	stopRenew chan struct{}
	closeOnce sync.Once
}

func (l *Leader) acquire(ctx context.Context) (*leaseSession, error) {
	value := leaseID()

	for {
		ok, err := l.rdb.SetNX(ctx, l.key, value, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		if ok {
			sessionCtx, cancel := context.WithCancel(ctx)
			s := &leaseSession{
				leader:    l,
				value:     value,
				ctx:       sessionCtx,
				cancel:    cancel,
				stopRenew: make(chan struct{}),
			}
			go s.renewLoop()
			return s, nil
		}

		if !sleepCtx(ctx, l.retry) {
			return nil, ctx.Err()
		}
	}
}

func (s *leaseSession) Close() {
	s.closeOnce.Do(func() {
		close(s.stopRenew)
		s.cancel()
		if err := s.release(); err != nil {
			s.leader.logger.Warn("leader lease: release failed", "key", s.leader.key, "error", err)
		}
	})
}

func (s *leaseSession) renewLoop() {
	interval := s.leader.ttl / 3
	if interval < minLeaseRenewEvery {
		interval = minLeaseRenewEvery
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopRenew:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.renew(); err != nil {
				s.leader.logger.Warn("leader lease: renewal failed", "key", s.leader.key, "error", err)
				s.cancel()
				return
			}
		}
	}
}

func (s *leaseSession) renew() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseRenewTimeout)
	defer cancel()

	res, err := renewLeaseScript.Run(ctx, s.leader.rdb, []string{s.leader.key}, s.value, s.leader.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return errors.New("lease lost")
	}
	return nil
}

func (s *leaseSession) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseRenewTimeout)
	defer cancel()

	err := releaseLeaseScript.Run(ctx, s.leader.rdb, []string{s.leader.key}, s.value).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func leaseID() string {
	host, _ := os.Hostname()
	n := leaseCounter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), n)
}
