// Package telemetry exposes the running process over Prometheus metrics
// and a read-only WebSocket stream of live samples and orchestrator
// progress.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry (never the global default, so
// multiple instances in tests don't collide) and every gauge/counter this
// process exposes.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived   *prometheus.CounterVec
	FramesMalformed  prometheus.Counter
	QueueDepth       prometheus.Gauge
	QueueDropped     prometheus.Counter
	BreakerState     *prometheus.GaugeVec
	HealthSuccessRate *prometheus.GaugeVec
	OrchestratorIteration prometheus.Gauge
	OrchestratorMaxAFRError prometheus.Gauge
	AutotuneStateTransitions *prometheus.CounterVec
}

// New builds a Metrics instance with every series registered under the
// "dynotune" namespace.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynotune", Name: "klhdv_frames_received_total",
			Help: "Total KLHDV frames received, by key type.",
		}, []string{"key"}),
		FramesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynotune", Name: "klhdv_frames_malformed_total",
			Help: "Total KLHDV frames rejected as malformed.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dynotune", Name: "livequeue_depth",
			Help: "Number of sealed windows currently held in the live capture queue.",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynotune", Name: "livequeue_dropped_samples_total",
			Help: "Total samples dropped from the live capture queue due to ring eviction.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dynotune", Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
		}, []string{"name"}),
		HealthSuccessRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dynotune", Name: "health_success_rate",
			Help: "Health monitor rolling success rate in [0,1].",
		}, []string{"name"}),
		OrchestratorIteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dynotune", Name: "orchestrator_iteration",
			Help: "Current closed-loop orchestrator iteration number.",
		}),
		OrchestratorMaxAFRError: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dynotune", Name: "orchestrator_max_afr_error",
			Help: "Most recent iteration's maximum AFR error in AFR points.",
		}),
		AutotuneStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynotune", Name: "autotune_state_transitions_total",
			Help: "Total autotune session state transitions, by resulting state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.FramesReceived, m.FramesMalformed, m.QueueDepth, m.QueueDropped,
		m.BreakerState, m.HealthSuccessRate, m.OrchestratorIteration,
		m.OrchestratorMaxAFRError, m.AutotuneStateTransitions,
	)
	return m
}

// Handler returns the /metrics HTTP handler backed by this instance's
// private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BreakerStateValue maps a breaker state name to the gauge encoding used by
// BreakerState.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default: // closed
		return 0
	}
}
