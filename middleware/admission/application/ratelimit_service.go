package application

import (
	"context"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
)

// RateLimiter aplica a janela fixa por (IP, categoria).
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type RateLimiter struct {
	Store    domain.CounterStore
	Policies domain.PolicySource
	Keys     domain.Keyspace
	Log      *log.Logger
	Throttle Throttle
}

// Check incrementa o contador da janela corrente e decide.
// Na rejeição o contador não é incrementado e RetryAfter é o TTL restante.
func (s RateLimiter) Check(ctx context.Context, ip string, c domain.Category) domain.RateDecision {
	if s.Store == nil || s.Policies == nil {
		return domain.RateDecision{Decision: domain.Decision{Allowed: true}}
	}

	p := s.Policies.Policy().RateFor(c)
	dec := domain.RateDecision{Max: p.Max, Window: p.Window}
	if p.Max <= 0 {
		dec.Allowed = true
		return dec
	}

	res, err := s.Store.IncrBelow(ctx, s.Keys.RateLimit(ip, c), p.Max, p.Window)
	if err != nil {
		logStoreError(s.Log, s.Throttle, "rate_limit", err, "category", c.String())
		dec.Allowed = true
		dec.Degraded = true
		return dec
	}

	dec.Count = res.Count
	if res.Allowed {
		dec.Allowed = true
		return dec
	}

	dec.RetryAfter = res.TTL
	if dec.RetryAfter <= 0 {
		dec.RetryAfter = p.Window
	}
	return dec
}
