package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCount(t *testing.T) {
	m := NewMetrics()
	m.ObserveGeneration("capable", "success", time.Second)
	m.ObserveGeneration("capable", "success", time.Second)
	m.ObserveGeneration("fast", "failed", time.Second)
	m.FindingOutcome("dependency", "skipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues("capable", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("fast", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.findings.WithLabelValues("dependency", "skipped")))

	// second instance must not collide with the first
	other := NewMetrics()
	assert.Equal(t, 0.0, testutil.ToFloat64(other.generations.WithLabelValues("capable", "success")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveGeneration("capable", "success", time.Second)
	m.GenerationRetry("fast")
	m.FindingOutcome("static-code", "succeeded")
	m.Transition("fixed")
	m.ProbeAttempt("explicit", "reachable")
	m.ObserveRun(time.Minute)
}
