package admission

import (
	"context"
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
)

type Options struct {
	Pipeline application.Pipeline
	// KeyFn sobrescreve a extração do IP. Se nil, usa DefaultKeyFunc.
	KeyFn KeyFunc
	// IgnoreProxyHeaders desliga X-Forwarded-For/X-Real-IP. O padrão confia
	// nesses headers; ligar quando o serviço fica exposto sem um proxy que os
	// sobrescreva.
	IgnoreProxyHeaders bool
	// V6Prefix agrupa IPv6 por rede (ex: 64). 0 = endereço completo.
	V6Prefix            int
	AddRateLimitHeaders bool
	Stats               domain.StatsStore
	// OnVerdict é chamado para toda requisição avaliada (ex: métricas).
	OnVerdict func(v domain.Verdict, elapsed time.Duration)
	Log       *log.Logger
	Now       func() time.Time
}

// Middleware aplica o pipeline de admissão antes de next.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(!opts.IgnoreProxyHeaders, opts.V6Prefix)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = log.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := opts.Now()
			v := evaluate(r.Context(), opts, r)
			elapsed := opts.Now().Sub(start)

			if opts.OnVerdict != nil {
				opts.OnVerdict(v, elapsed)
			}
			if opts.Stats != nil && v.Stage != domain.StageWhitelist {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					IP:       v.IP,
					Stage:    v.Stage,
					Category: v.Category,
					Allowed:  v.Allowed,
					Method:   r.Method,
					Path:     r.URL.Path,
					At:       start,
				}); err != nil {
					opts.Log.Debug("stats record failed", "error", err)
				}
			}

			if opts.AddRateLimitHeaders && v.Stage != domain.StageWhitelist {
				w.Header().Set("X-RateLimit-Category", v.Category.String())
				if v.Rate.Max > 0 {
					w.Header().Set("X-RateLimit-Limit", formatInt(v.Rate.Max))
					w.Header().Set("X-RateLimit-Window", formatInt(int64(v.Rate.Window/time.Second)))
				}
			}

			if !v.Allowed {
				writeRejection(w, v)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// evaluate isola o pipeline: um panic aqui (inclusive na extração do IP)
// libera a requisição em vez de virar 500.
func evaluate(ctx context.Context, opts Options, r *http.Request) (v domain.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			opts.Log.Error("admission middleware panic, failing open", "panic", rec, "path", r.URL.Path)
			v = domain.Verdict{Allowed: true, Stage: domain.StagePass, IP: domain.UnknownIP, Degraded: true}
		}
	}()

	return opts.Pipeline.Evaluate(ctx, application.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		IP:     opts.KeyFn(r),
	})
}
