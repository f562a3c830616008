// Package metrics declares the Prometheus collectors of the docchat client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Realtime channel
	RealtimeState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_realtime_state",
			Help: "Realtime connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		},
	)

	RealtimeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_realtime_reconnects_total",
			Help: "Reconnect attempts scheduled after abnormal closures",
		},
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_realtime_events_total",
			Help: "Realtime events by direction and name",
		},
		[]string{"direction", "event"},
	)

	RealtimeFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_realtime_frames_dropped_total",
			Help: "Inbound frames dropped because they could not be parsed",
		},
	)

	// Gateway
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_gateway_requests_total",
			Help: "Gateway calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_gateway_request_duration_seconds",
			Help:    "Gateway call duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)

	// Transcript reconciliation
	TranscriptMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_transcript_merges_total",
			Help: "Transcript updates by source and result",
		},
		[]string{"source", "result"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
