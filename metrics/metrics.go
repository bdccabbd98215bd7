// Package metrics provides Prometheus metrics for conversations and the
// completion providers behind them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// TurnsTotal counts accepted user submissions.
	TurnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "frend_turns_total",
			Help: "User messages submitted",
		},
	)

	// TurnDuration records how long a full fan-out took, in seconds.
	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frend_turn_duration_seconds",
			Help:    "Fan-out duration",
			Buckets: LLMBuckets,
		},
	)

	// AgentTurnsTotal counts agent turns by outcome ("replied" or "skipped").
	AgentTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frend_agent_turns_total",
			Help: "Agent turns",
		},
		[]string{"outcome"},
	)

	// ProviderRequestsTotal counts requests sent to completion providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frend_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frend_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)
)

// Collectors lists every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TurnsTotal,
		TurnDuration,
		AgentTurnsTotal,
		ProviderRequestsTotal,
		ProviderLatency,
	}
}

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
