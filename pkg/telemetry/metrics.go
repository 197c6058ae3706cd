package telemetry

import (
	"net/http"

	"github.com/cuemby/nodeforge/pkg/audit"
	"github.com/cuemby/nodeforge/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the Prometheus-backed metrics sink. It satisfies engine.Metrics
// and exposes a handful of extra counters and gauges for quota and policy
// enforcement. Unlike a package-level prometheus.MustRegister(...) set of
// globals, Sink owns its own registry so a process (or a test) can
// construct more than one without a duplicate-registration panic.
type Sink struct {
	registry *prometheus.Registry

	executionsTotal      *prometheus.CounterVec
	executionDurationMS  *prometheus.HistogramVec
	activeSessions       prometheus.Gauge
	quotaRejectionsTotal *prometheus.CounterVec
	policyViolations     *prometheus.CounterVec
	sessionsCancelled    prometheus.Counter
}

// NewSink builds a Sink with a private registry and registers every metric
// with it.
func NewSink() *Sink {
	reg := prometheus.NewRegistry()

	s := &Sink{
		registry: reg,
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noderunner_executions_total",
			Help: "Total number of node executions by terminal status",
		}, []string{"status"}),
		executionDurationMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "noderunner_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 15000, 60000},
		}, []string{"node_type"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "noderunner_active_sessions",
			Help: "Number of executions currently admitted but not yet terminal",
		}),
		quotaRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noderunner_quota_rejections_total",
			Help: "Total number of executions rejected at admission for exceeding a quota",
		}, []string{"tenant_id"}),
		policyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noderunner_policy_violations_total",
			Help: "Total number of network policy violations recorded by the security auditor",
		}, []string{"type", "severity"}),
		sessionsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "noderunner_sessions_cancelled_total",
			Help: "Total number of executions cancelled before reaching a terminal state",
		}),
	}

	reg.MustRegister(
		s.executionsTotal,
		s.executionDurationMS,
		s.activeSessions,
		s.quotaRejectionsTotal,
		s.policyViolations,
		s.sessionsCancelled,
	)
	return s
}

// ExecutionStarted is part of engine.Metrics. The sink does not track
// per-execution start counters beyond the active-session gauge, which a
// caller refreshes via SetActiveSessions from engine.ActiveSessions().
func (s *Sink) ExecutionStarted(tenantID, nodeType string) {}

// ExecutionEnded is part of engine.Metrics.
func (s *Sink) ExecutionEnded(tenantID, nodeType string, state types.SessionState, durationMS int64) {
	s.executionsTotal.WithLabelValues(string(state)).Inc()
	s.executionDurationMS.WithLabelValues(nodeType).Observe(float64(durationMS))
}

// SessionCancelled is part of engine.Metrics.
func (s *Sink) SessionCancelled(executionID string) {
	s.sessionsCancelled.Inc()
}

// QuotaRejected is part of engine.Metrics.
func (s *Sink) QuotaRejected(tenantID string) {
	s.quotaRejectionsTotal.WithLabelValues(tenantID).Inc()
}

// SetActiveSessions sets the active-session gauge to n, the length of the
// engine's current ActiveSessions() snapshot.
func (s *Sink) SetActiveSessions(n int) {
	s.activeSessions.Set(float64(n))
}

// OnAuditViolation is assignable to audit.Auditor.OnViolation to drive
// policy_violations_total without pkg/audit importing this package.
func (s *Sink) OnAuditViolation(v audit.Violation) {
	s.policyViolations.WithLabelValues(v.Type, string(v.Severity)).Inc()
}

// Handler returns the Prometheus scrape handler for this sink's registry.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
