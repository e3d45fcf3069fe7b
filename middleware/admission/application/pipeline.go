package application

import (
	"context"
	"strings"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
)

// Request é o mínimo do HTTP que o pipeline precisa.
type Request struct {
	Method string
	Path   string
	// IP já canonicalizado; vazio vira domain.UnknownIP.
	IP string
}

// Whitelist libera caminhos por prefixo (health check, docs, admin).
type Whitelist struct {
	Prefixes []string
}

// DefaultWhitelist são os caminhos que nunca passam pela admissão.
func DefaultWhitelist(adminPrefix string) Whitelist {
	w := Whitelist{Prefixes: []string{"/health", "/docs", "/openapi.json", "/redoc"}}
	if adminPrefix != "" {
		w.Prefixes = append(w.Prefixes, adminPrefix)
	}
	return w
}

func (w Whitelist) Match(path string) bool {
	for _, p := range w.Prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// BlockChecker é o caminho rápido da blacklist (só o espelho no cache).
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) (blocked, degraded bool)
}

// Pipeline encadeia os estágios na ordem:
// whitelist → blacklist → intervalo → rate limit → (violação + auto-ban).
type Pipeline struct {
	Whitelist  Whitelist
	Blacklist  BlockChecker
	Interval   IntervalGuard
	RateLimit  RateLimiter
	Violations ViolationTracker
	Escalator  Escalator
	Log        *log.Logger
	// Throttle limita os logs de rejeição por IP.
	Throttle Throttle
}

// Evaluate decide a requisição. Nunca retorna erro nem propaga panic:
// qualquer falha interna vira allow (Degraded).
func (p Pipeline) Evaluate(ctx context.Context, req Request) (v domain.Verdict) {
	ip := req.IP
	if ip == "" {
		ip = domain.UnknownIP
	}
	cat := domain.ResolveCategory(req.Method, req.Path)
	v = domain.Verdict{Allowed: true, Stage: domain.StagePass, IP: ip, Category: cat}

	if p.Whitelist.Match(req.Path) {
		v.Stage = domain.StageWhitelist
		return v
	}

	defer func() {
		if r := recover(); r != nil {
			loggerOr(p.Log).Error("admission pipeline panic, failing open", "panic", r, "ip", ip, "path", req.Path)
			v = domain.Verdict{Allowed: true, Stage: domain.StagePass, IP: ip, Category: cat, Degraded: true}
		}
	}()

	if p.Blacklist != nil {
		blocked, degraded := p.Blacklist.IsBlocked(ctx, ip)
		v.Degraded = v.Degraded || degraded
		if blocked {
			v.Allowed = false
			v.Stage = domain.StageBlacklist
			p.logRejection(v, req)
			return v
		}
	}

	v.Interval = p.Interval.Check(ctx, ip, cat)
	v.Degraded = v.Degraded || v.Interval.Degraded
	if !v.Interval.Allowed {
		v.Allowed = false
		v.Stage = domain.StageInterval
		p.onViolation(ctx, &v, domain.ViolationInterval)
		p.logRejection(v, req)
		return v
	}

	v.Rate = p.RateLimit.Check(ctx, ip, cat)
	v.Degraded = v.Degraded || v.Rate.Degraded
	if !v.Rate.Allowed {
		v.Allowed = false
		v.Stage = domain.StageRateLimit
		p.onViolation(ctx, &v, domain.ViolationRateLimit)
		p.logRejection(v, req)
		return v
	}

	p.Interval.Record(ctx, ip, cat)
	return v
}

func (p Pipeline) onViolation(ctx context.Context, v *domain.Verdict, typ domain.ViolationType) {
	count, ok := p.Violations.Record(ctx, v.IP, typ)
	if !ok {
		v.Degraded = true
		return
	}
	if !p.Violations.ShouldEscalate(count) {
		return
	}

	ab := p.Violations.Policies.Policy().AutoBan
	if p.Escalator.Escalate(ctx, v.IP, count, ab) {
		v.Stage = domain.StageAutoBan
		v.BanDuration = ab.BanDuration
	}
}

func (p Pipeline) logRejection(v domain.Verdict, req Request) {
	if !allowLog(p.Throttle, v.IP) {
		return
	}
	loggerOr(p.Log).Warn("request rejected",
		"ip", v.IP,
		"stage", string(v.Stage),
		"category", v.Category.String(),
		"method", req.Method,
		"path", req.Path,
	)
}
