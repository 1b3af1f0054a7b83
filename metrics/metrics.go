// Package metrics exposes Prometheus collectors for the server and client
// engines. Every method is safe to call on a nil *Metrics, which is how the
// engines run when no metrics are configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Close reasons recorded in the connections_closed_total "reason" label.
const (
	ReasonPeerClosed    = "peer_closed"
	ReasonTransport     = "transport_error"
	ReasonProtocol      = "protocol_error"
	ReasonLocal         = "local_close"
	ReasonConnectFailed = "connect_failed"
)

// Metrics holds the engine collectors.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsOpened prometheus.Counter
	connectionsClosed *prometheus.CounterVec
	connectsRejected  prometheus.Counter
	framesReceived    prometheus.Counter
	framesSent        prometheus.Counter
	bytesRead         prometheus.Counter
	bytesWritten      prometheus.Counter
	protocolErrors    prometheus.Counter
}

// New registers the engine collectors with registry.
//
// Parameters:
//   - registry: Where to register; nil selects prometheus.DefaultRegisterer
//   - namespace: Metric namespace (e.g. "jsonlnet")
//   - subsystem: Metric subsystem (e.g. "server" or "client")
//
// Returns:
//   - The registered Metrics
func New(registry prometheus.Registerer, namespace, subsystem string) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_active",
			Help:      "Connections currently tracked by the engine",
		}),
		connectionsOpened: counter("connections_opened_total", "Connections accepted or initiated"),
		connectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_closed_total",
			Help:      "Connections closed, by reason",
		}, []string{"reason"}),
		connectsRejected: counter("connections_rejected_total", "Accepted sockets closed because the id range was exhausted"),
		framesReceived:   counter("frames_received_total", "Messages decoded from peers"),
		framesSent:       counter("frames_sent_total", "Messages queued for peers"),
		bytesRead:        counter("bytes_read_total", "Bytes read from sockets"),
		bytesWritten:     counter("bytes_written_total", "Bytes written to sockets"),
		protocolErrors:   counter("protocol_errors_total", "Frames that failed to decode"),
	}
}

// ConnectionOpened records a new tracked connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}

	m.connectionsOpened.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a connection leaving the engine.
func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}

	m.connectionsClosed.WithLabelValues(reason).Inc()
	m.connectionsActive.Dec()
}

// ConnectionRejected records an accepted socket that could not be tracked.
func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}

	m.connectsRejected.Inc()
}

// FrameReceived records one decoded inbound message.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}

	m.framesReceived.Inc()
}

// FrameSent records one message queued for transmission.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}

	m.framesSent.Inc()
}

// Transferred records socket byte counts from one I/O round.
func (m *Metrics) Transferred(read, written int) {
	if m == nil {
		return
	}

	if read > 0 {
		m.bytesRead.Add(float64(read))
	}

	if written > 0 {
		m.bytesWritten.Add(float64(written))
	}
}

// ProtocolError records a frame that failed to decode.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}

	m.protocolErrors.Inc()
}
