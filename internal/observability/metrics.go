// Package observability holds the Prometheus metrics and tracer setup of the
// qmpie server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qmpie"

// Turn outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeDisabled  = "disabled"
	OutcomeTruncated = "truncated"
	OutcomeError     = "error"
	OutcomeConflict  = "conflict"
)

// Metrics 服务端指标集合
// Metrics groups the server's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// turns counts answered turns.
	// Labels: endpoint (start, continue, final), outcome (ok, disabled, truncated, error, conflict)
	turns *prometheus.CounterVec

	// turnDuration measures the full turn including the model call.
	// Labels: endpoint
	turnDuration *prometheus.HistogramVec

	sessionsActive prometheus.Gauge

	// sessionsEvicted counts sessions dropped by the registry.
	// Labels: reason (capacity, idle, reset)
	sessionsEvicted *prometheus.CounterVec

	// phaseTransitions counts phase changes.
	// Labels: from, to
	phaseTransitions *prometheus.CounterVec

	phaseRegressions prometheus.Counter
	deliverables     prometheus.Counter
	promptTokens     prometheus.Histogram
}

// NewMetrics registers the collectors on reg. Passing nil uses a fresh
// registry, which keeps tests independent of the global one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		turnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn latency in seconds, model call included",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"endpoint"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory",
		}),
		sessionsEvicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions dropped from the registry by reason",
		}, []string{"reason"}),
		phaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Phase changes by origin and destination",
		}, []string{"from", "to"}),
		phaseRegressions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_regressions_total",
			Help:      "Backward phase changes",
		}),
		deliverables: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliverables_total",
			Help:      "Final questionnaires extracted from replies",
		}),
		promptTokens: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Estimated prompt size in tokens",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 8),
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(endpoint, outcome).Inc()
	m.turnDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) SessionEvicted(reason string) {
	if m == nil {
		return
	}
	m.sessionsEvicted.WithLabelValues(reason).Inc()
}

// PhaseChanged records a transition; equal phases are ignored.
func (m *Metrics) PhaseChanged(from, to string, regression bool) {
	if m == nil || from == to {
		return
	}
	m.phaseTransitions.WithLabelValues(from, to).Inc()
	if regression {
		m.phaseRegressions.Inc()
	}
}

func (m *Metrics) DeliverableExtracted() {
	if m == nil {
		return
	}
	m.deliverables.Inc()
}

func (m *Metrics) ObservePromptTokens(n int) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(n))
}
