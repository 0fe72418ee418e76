/*
Package metrics exposes the gateway's Prometheus collectors.

Each Metrics value owns its own registry, so tests can create as many as they
like without colliding on the default registerer. The chat hub, the upload
path and the backend client report through small observer interfaces that
*Metrics satisfies.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtgateway"

// Metrics groups every collector the gateway exports.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections prometheus.Gauge
	framesReceived    *prometheus.CounterVec
	eventsBroadcast   *prometheus.CounterVec
	framesDelivered   prometheus.Counter
	prunedConnections prometheus.Counter
	backendCalls      *prometheus.CounterVec
	backendLatency    *prometheus.HistogramVec
	uploadsFinalized  *prometheus.CounterVec
}

// New builds the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_connections",
			Help:      "WebSocket sessions currently open.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frames_received_total",
			Help:      "Inbound WebSocket frames by type.",
		}, []string{"type"}),
		eventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_broadcasts_total",
			Help:      "Room broadcasts by event type.",
		}, []string{"type"}),
		framesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_frames_delivered_total",
			Help:      "Frames queued to room members across all broadcasts.",
		}),
		prunedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_pruned_connections_total",
			Help:      "Connections removed because a send failed or timed out.",
		}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend calls by service, operation and outcome.",
		}, []string{"service", "op", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Backend call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "op"}),
		uploadsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_finalized_total",
			Help:      "Finalized uploads by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeConnections,
		m.framesReceived,
		m.eventsBroadcast,
		m.framesDelivered,
		m.prunedConnections,
		m.backendCalls,
		m.backendLatency,
		m.uploadsFinalized,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ConnectionOpened() { m.activeConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.activeConnections.Dec() }

func (m *Metrics) FrameReceived(kind string) {
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventBroadcast(kind string, recipients int) {
	m.eventsBroadcast.WithLabelValues(kind).Inc()
	m.framesDelivered.Add(float64(recipients))
}

func (m *Metrics) ConnectionsPruned(n int) {
	m.prunedConnections.Add(float64(n))
}

func (m *Metrics) UploadFinalized(ok bool) {
	m.uploadsFinalized.WithLabelValues(outcome(ok)).Inc()
}

// ObserveBackendCall records one backend call.
func (m *Metrics) ObserveBackendCall(service, op string, d time.Duration, err error) {
	m.backendCalls.WithLabelValues(service, op, outcome(err == nil)).Inc()
	m.backendLatency.WithLabelValues(service, op).Observe(d.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
