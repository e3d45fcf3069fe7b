package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// incrBelowScript cria o contador com TTL na primeira requisição da janela e
// só incrementa enquanto o valor estiver abaixo do máximo. Um contador sem TTL
// (ex: escrito por outra versão) recebe a janela de volta.
//
// KEYS[1] = chave, ARGV[1] = max, ARGV[2] = janela em ms.
// Retorna {count, allowed(0|1), pttl}.
var incrBelowScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
local window = tonumber(ARGV[2])
if not cur then
	redis.call("SET", KEYS[1], 1, "PX", window)
	return {1, 1, window}
end
cur = tonumber(cur)
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], window)
	ttl = window
end
if cur >= tonumber(ARGV[1]) then
	return {cur, 0, ttl}
end
cur = redis.call("INCR", KEYS[1])
return {cur, 1, ttl}
`)

// RedisStore implementa domain.CounterStore sobre go-redis.
//
// Toda operação roda com um timeout curto próprio (opTimeout), além dos
// timeouts de dial/read/write do cliente.
type RedisStore struct {
	rdb       redis.UniversalClient
	opTimeout time.Duration
}

type RedisStoreOption func(*RedisStore)

func WithOpTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.opTimeout = d }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:       rdb,
		opTimeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.opTimeout)
}

func (s *RedisStore) IncrBelow(ctx context.Context, key string, max int64, ttl time.Duration) (domain.CounterResult, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	window := ttl.Milliseconds()
	if window <= 0 {
		window = 1
	}
	res, err := incrBelowScript.Run(ctx, s.rdb, []string{key}, max, window).Int64Slice()
	if err != nil {
		return domain.CounterResult{}, fmt.Errorf("incr %s: %w", key, err)
	}
	if len(res) != 3 {
		return domain.CounterResult{}, fmt.Errorf("incr %s: unexpected script reply %v", key, res)
	}
	return domain.CounterResult{
		Count:   res[0],
		Allowed: res[1] == 1,
		TTL:     time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) PushCapped(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		if maxLen > 0 {
			pipe.LTrim(ctx, key, 0, maxLen-1)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Range(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return s.rdb.LRange(ctx, key, 0, -1).Result()
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return s.rdb.SAdd(ctx, key, toArgs(members)...).Err()
}

func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return s.rdb.SRem(ctx, key, toArgs(members)...).Err()
}

func (s *RedisStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return s.rdb.SIsMember(ctx, key, member).Result()
}

func (s *RedisStore) SetCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return s.rdb.SCard(ctx, key).Result()
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return s.rdb.SMembers(ctx, key).Result()
}

// SetReplace usa MULTI/EXEC: leitores nunca observam o conjunto vazio no meio
// da troca.
func (s *RedisStore) SetReplace(ctx context.Context, key string, members []string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.SAdd(ctx, key, toArgs(members)...)
		}
		return nil
	})
	return err
}

func toArgs(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
