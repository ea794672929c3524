// Package metrics exposes Prometheus collectors for the voice loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-ruvo/pkg/keypool"
)

const namespace = "ruvo"

// Metrics groups all collectors registered on one registry.
type Metrics struct {
	Registry *prometheus.Registry

	Turns          *prometheus.CounterVec
	TurnLatency    *prometheus.HistogramVec
	StateChanges   *prometheus.CounterVec
	KeyRequests    *prometheus.CounterVec
	KeyInvalidated prometheus.Counter
	PoolResets     prometheus.Counter
	Synthesis      *prometheus.CounterVec
	CaptureErrors  *prometheus.CounterVec
}

// New creates and registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed conversation turns by outcome.",
		}, []string{"outcome"}),
		TurnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_seconds",
			Help:      "Latency of each turn stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"stage"}),
		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Orchestrator state transitions by target state.",
		}, []string{"state"}),
		KeyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_requests_total",
			Help:      "Rotated requests by result.",
		}, []string{"result"}),
		KeyInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_invalidations_total",
			Help:      "Credentials marked invalid.",
		}),
		PoolResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_pool_resets_total",
			Help:      "Full pool resets after exhaustion.",
		}),
		Synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Speech synthesis attempts by provider and result.",
		}, []string{"provider", "result"}),
		CaptureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Speech capture errors by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.Turns,
		m.TurnLatency,
		m.StateChanges,
		m.KeyRequests,
		m.KeyInvalidated,
		m.PoolResets,
		m.Synthesis,
		m.CaptureErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// KeyObserver reports key pool events to the key collectors.
func (m *Metrics) KeyObserver() keypool.Observer {
	return keyObserver{m}
}

type keyObserver struct{ m *Metrics }

func (o keyObserver) KeyUsed(string) { o.m.KeyRequests.WithLabelValues("success").Inc() }

func (o keyObserver) KeyInvalidated(string) {
	o.m.KeyRequests.WithLabelValues("invalidated").Inc()
	o.m.KeyInvalidated.Inc()
}

func (o keyObserver) PoolReset() { o.m.PoolResets.Inc() }

// ObserveSynthesis matches tts.Chain.Observe.
func (m *Metrics) ObserveSynthesis(provider string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Synthesis.WithLabelValues(provider, result).Inc()
}
