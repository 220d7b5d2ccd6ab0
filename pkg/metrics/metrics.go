// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnDuration tracks chat turn duration by transport and outcome.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Chat turn duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"transport", "status"},
	)

	// TurnsTotal tracks completed chat turns.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Total chat turns",
		},
		[]string{"transport", "status"},
	)

	// StreamDeltasTotal tracks streamed response fragments received.
	StreamDeltasTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stream_deltas_total",
			Help: "Total streamed response deltas received",
		},
	)

	// TransportFallbacksTotal tracks WebSocket to SSE fallbacks.
	TransportFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_transport_fallbacks_total",
			Help: "Total falls back from the primary to the fallback transport",
		},
	)

	// StreamsActive tracks currently open streaming channels.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_streams_active",
			Help: "Number of open streaming channels",
		},
	)

	// APIRequestsTotal tracks non-streaming backend calls.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_api_requests_total",
			Help: "Total non-streaming backend requests",
		},
		[]string{"op", "status"},
	)

	// CacheWritesTotal tracks persisted cache writes by key.
	CacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_cache_writes_total",
			Help: "Total persisted cache writes",
		},
		[]string{"key"},
	)
)

// RecordTurn records metrics for one chat turn.
func RecordTurn(transport, status string, seconds float64) {
	TurnDuration.WithLabelValues(transport, status).Observe(seconds)
	TurnsTotal.WithLabelValues(transport, status).Inc()
}

// IncrementStreams increments the active stream count.
func IncrementStreams() {
	StreamsActive.Inc()
}

// DecrementStreams decrements the active stream count.
func DecrementStreams() {
	StreamsActive.Dec()
}
