package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline counters exported on /metrics. Every method is
// safe on a nil receiver so components can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generationRetries  *prometheus.CounterVec
	findings           *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	probes             *prometheus.CounterVec
	runDuration        prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secureflow_generations_total",
			Help: "Remediation generations by backend and outcome",
		}, []string{"backend", "outcome"}),
		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secureflow_generation_duration_seconds",
			Help:    "Duration of remediation generation including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"backend"}),
		generationRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secureflow_generation_retries_total",
			Help: "Retried generation attempts after transient errors",
		}, []string{"backend"}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secureflow_findings_total",
			Help: "Findings processed by category and outcome",
		}, []string{"category", "outcome"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secureflow_policy_transitions_total",
			Help: "Policy ledger status transitions by target status",
		}, []string{"status"}),
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secureflow_probe_attempts_total",
			Help: "Deployment probe attempts by tier and outcome",
		}, []string{"tier", "outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "secureflow_run_duration_seconds",
			Help:    "Wall time of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

func (m *Metrics) ObserveGeneration(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(backend, outcome).Inc()
	m.generationDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) GenerationRetry(backend string) {
	if m == nil {
		return
	}
	m.generationRetries.WithLabelValues(backend).Inc()
}

func (m *Metrics) FindingOutcome(category, outcome string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ProbeAttempt(tier, outcome string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}
