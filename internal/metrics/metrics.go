// Package metrics holds the Prometheus instrumentation for the
// protocol stack: frame throughput, handshake duration, and per-channel
// error/circuit-breaker activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this process registers.
type Metrics struct {
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	BytesSent      *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec

	HandshakeDuration prometheus.Histogram
	HandshakeFailures prometheus.Counter

	ChannelErrors    *prometheus.CounterVec
	ChannelBreakerOpen *prometheus.CounterVec

	SessionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aacore_frames_sent_total",
				Help: "Total frames written to the USB transport, by channel",
			},
			[]string{"channel"},
		),
		FramesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aacore_frames_received_total",
				Help: "Total frames read from the USB transport, by channel",
			},
			[]string{"channel"},
		),
		BytesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aacore_bytes_sent_total",
				Help: "Total payload bytes written to the USB transport, by channel",
			},
			[]string{"channel"},
		),
		BytesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aacore_bytes_received_total",
				Help: "Total payload bytes read from the USB transport, by channel",
			},
			[]string{"channel"},
		),
		HandshakeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aacore_handshake_duration_seconds",
				Help:    "Wall-clock duration of the TLS handshake over the control channel",
				Buckets: prometheus.DefBuckets,
			},
		),
		HandshakeFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aacore_handshake_failures_total",
				Help: "Total TLS handshakes that failed or timed out",
			},
		),
		ChannelErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aacore_channel_errors_total",
				Help: "Total media-channel errors recorded by the circuit breaker",
			},
			[]string{"channel"},
		),
		ChannelBreakerOpen: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aacore_channel_breaker_open_total",
				Help: "Total times a channel's circuit breaker tripped open",
			},
			[]string{"channel"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "aacore_sessions_active",
				Help: "1 while a phone is connected and the control state machine is Serving, else 0",
			},
		),
	}
}

// Handler returns the HTTP handler that serves the registered metrics
// in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
