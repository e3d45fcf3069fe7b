package application

import (
	"context"
	"strconv"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
)

// minLastRequestTTL limita o crescimento das chaves last_request.
const minLastRequestTTL = time.Hour

// IntervalGuard exige um espaçamento mínimo entre requisições da mesma
// categoria para o mesmo IP.
//
// Check só lê; o instante é gravado por Record, chamado pelo Pipeline apenas
// quando a requisição passa por todos os estágios. Uma requisição barrada no
// rate limit não reinicia o relógio do intervalo.
type IntervalGuard struct {
	Store    domain.CounterStore
	Policies domain.PolicySource
	Keys     domain.Keyspace
	Log      *log.Logger
	Throttle Throttle
	Now      func() time.Time
}

func (g IntervalGuard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g IntervalGuard) Check(ctx context.Context, ip string, c domain.Category) domain.IntervalDecision {
	if g.Store == nil || g.Policies == nil {
		return domain.IntervalDecision{Decision: domain.Decision{Allowed: true}}
	}

	minInterval := g.Policies.Policy().IntervalFor(c)
	dec := domain.IntervalDecision{MinInterval: minInterval}
	if minInterval <= 0 {
		dec.Allowed = true
		return dec
	}

	raw, ok, err := g.Store.Get(ctx, g.Keys.LastRequest(ip, c))
	if err != nil {
		logStoreError(g.Log, g.Throttle, "interval", err, "category", c.String())
		dec.Allowed = true
		dec.Degraded = true
		return dec
	}
	if !ok {
		dec.Allowed = true
		return dec
	}

	us, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// valor ilegível: trata como sem registro
		dec.Allowed = true
		return dec
	}

	elapsed := g.now().Sub(time.UnixMicro(us))
	if elapsed < 0 {
		elapsed = 0
	}
	dec.Elapsed = elapsed
	if elapsed >= minInterval {
		dec.Allowed = true
		return dec
	}
	dec.RetryAfter = minInterval - elapsed
	return dec
}

// Record grava o instante da requisição aceita.
func (g IntervalGuard) Record(ctx context.Context, ip string, c domain.Category) {
	if g.Store == nil || g.Policies == nil {
		return
	}
	minInterval := g.Policies.Policy().IntervalFor(c)
	if minInterval <= 0 {
		return
	}
	ttl := minLastRequestTTL
	if minInterval > ttl {
		ttl = minInterval
	}

	val := strconv.FormatInt(g.now().UnixMicro(), 10)
	if err := g.Store.SetTTL(ctx, g.Keys.LastRequest(ip, c), val, ttl); err != nil {
		logStoreError(g.Log, g.Throttle, "last_request", err, "category", c.String())
	}
}
