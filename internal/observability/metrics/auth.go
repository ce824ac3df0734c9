package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result constants for metric labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Role fallback reasons.
const (
	FallbackTimeout = "timeout"
	FallbackError   = "error"
	FallbackEmpty   = "empty"
)

// Auth holds Prometheus metrics for sign-in, role resolution, session bootstrap and guarding.
// A nil *Auth is valid and records nothing.
type Auth struct {
	Operations        *prometheus.CounterVec
	RoleFallbacks     *prometheus.CounterVec
	RoleFetchDuration prometheus.Histogram
	BootstrapTimeouts prometheus.Counter
	GuardDecisions    *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
}

// New registers the auth metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Auth {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Auth{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_operations_total",
			Help: "Auth operations by operation, result and error kind",
		}, []string{"operation", "result", "kind"}),
		RoleFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_role_fallbacks_total",
			Help: "Role lookups that fell back to the email-derived type",
		}, []string{"reason"}),
		RoleFetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_role_fetch_duration_seconds",
			Help:    "Duration of role table reads, including timed out ones",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		BootstrapTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_session_bootstrap_timeouts_total",
			Help: "Session initializations that hit the bootstrap time box",
		}),
		GuardDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_guard_decisions_total",
			Help: "Route guard decisions by state",
		}, []string{"state"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "portal_active_session_stores",
			Help: "Session stores currently held in memory",
		}),
	}
}

// OperationMetric captures one auth operation outcome.
type OperationMetric struct {
	Operation string
	Result    string
	// Kind is the translated error kind for failures.
	Kind string
}

// ObserveOperation counts an auth operation outcome.
func (m *Auth) ObserveOperation(in OperationMetric) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(in.Operation, in.Result, in.Kind).Inc()
}

// ObserveRoleFetch records the duration of a role read and, if non-empty, the fallback reason.
func (m *Auth) ObserveRoleFetch(start time.Time, fallbackReason string) {
	if m == nil {
		return
	}
	m.RoleFetchDuration.Observe(time.Since(start).Seconds())
	if fallbackReason != "" {
		m.RoleFallbacks.WithLabelValues(fallbackReason).Inc()
	}
}

// IncBootstrapTimeout counts a bootstrap that hit its time box.
func (m *Auth) IncBootstrapTimeout() {
	if m == nil {
		return
	}
	m.BootstrapTimeouts.Inc()
}

// ObserveGuard counts a guard decision.
func (m *Auth) ObserveGuard(state string) {
	if m == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(state).Inc()
}

// SetActiveSessions records the number of live session stores.
func (m *Auth) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
