package infra

import (
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

const metricsNamespace = "admission"

// Metrics agrupa os coletores Prometheus do gateway.
// Os coletores são registrados no Registerer informado (não no global),
// para que testes e múltiplas instâncias não colidam.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	EvalDuration  prometheus.Histogram
	StoreErrors   *prometheus.CounterVec
	BreakerState  prometheus.Gauge
	MirrorSize    prometheus.Gauge
	ReconcileRuns *prometheus.CounterVec
	ReconcileTime prometheus.Histogram
	AutoBans      prometheus.Counter
	PolicyReloads *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decisions_total",
			Help:      "Admission verdicts by deciding stage and category.",
		}, []string{"stage", "category", "allowed"}),
		EvalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating the admission pipeline.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "store_errors_total",
			Help:      "Counter store failures by operation.",
		}, []string{"op"}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "store_breaker_state",
			Help:      "Counter store circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		MirrorSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "blacklist_mirror_size",
			Help:      "IPs in the cached blacklist mirror after the last reconcile.",
		}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_runs_total",
			Help:      "Blacklist reconcile cycles by result.",
		}, []string{"result"}),
		ReconcileTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Blacklist reconcile duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}),
		AutoBans: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auto_bans_total",
			Help:      "IPs escalated to the blacklist by repeated violations.",
		}),
		PolicyReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "policy_reloads_total",
			Help:      "Policy file reloads by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveVerdict(v domain.Verdict, elapsed time.Duration) {
	if m == nil {
		return
	}
	allowed := "false"
	if v.Allowed {
		allowed = "true"
	}
	m.Decisions.WithLabelValues(string(v.Stage), v.Category.String(), allowed).Inc()
	m.EvalDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) StoreError(op string, _ error) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) BreakerTransition(_, to gobreaker.State) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(to))
}

func (m *Metrics) ObserveReconcile(size int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ReconcileTime.Observe(elapsed.Seconds())
	if err != nil {
		m.ReconcileRuns.WithLabelValues("error").Inc()
		return
	}
	m.ReconcileRuns.WithLabelValues("ok").Inc()
	m.MirrorSize.Set(float64(size))
}

func (m *Metrics) AutoBan(string) {
	if m == nil {
		return
	}
	m.AutoBans.Inc()
}

func (m *Metrics) PolicyReload(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PolicyReloads.WithLabelValues("error").Inc()
		return
	}
	m.PolicyReloads.WithLabelValues("ok").Inc()
}
