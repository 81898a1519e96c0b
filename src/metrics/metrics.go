package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Drop reasons used as the "reason" label of PacketsDropped.
const (
	ReasonMalformed       = "malformed"
	ReasonInvalidChannel  = "invalid_channel"
	ReasonUnknownListener = "unknown_listener"
	ReasonNotSubscribed   = "not_subscribed"
	ReasonUnknownEvent    = "unknown_event"
	ReasonMiddleware      = "middleware"
	ReasonBufferFull      = "buffer_full"
)

// Metrics holds the socket collectors.
type Metrics struct {
	// ConnectedClients tracks active connections.
	ConnectedClients prometheus.Gauge

	// Subscriptions tracks live channel subscriptions across all clients.
	Subscriptions prometheus.Gauge

	// HandshakeFailures counts connections rejected before becoming active.
	HandshakeFailures prometheus.Counter

	// PacketsReceived counts decoded inbound packets by kind (control, channel, event).
	PacketsReceived *prometheus.CounterVec

	// PacketsDropped counts inbound and outbound packets discarded, by reason.
	PacketsDropped *prometheus.CounterVec

	// SubscribeRequests counts subscribe attempts by result.
	SubscribeRequests *prometheus.CounterVec

	// Broadcasts counts broadcast calls.
	Broadcasts prometheus.Counter

	// Disconnects counts connection teardowns by reason.
	Disconnects *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_connected_clients",
			Help: "Number of active WebSocket connections",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_channel_subscriptions",
			Help: "Number of live channel subscriptions across all connections",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_handshake_failures_total",
			Help: "Connections rejected during the handshake",
		}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socket_packets_received_total",
			Help: "Inbound packets by kind",
		}, []string{"kind"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socket_packets_dropped_total",
			Help: "Packets discarded by reason",
		}, []string{"reason"}),
		SubscribeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socket_subscribe_requests_total",
			Help: "Channel subscribe requests by result",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_broadcasts_total",
			Help: "Channel broadcasts issued",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socket_disconnects_total",
			Help: "Connection teardowns by reason",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectedClients,
			m.Subscriptions,
			m.HandshakeFailures,
			m.PacketsReceived,
			m.PacketsDropped,
			m.SubscribeRequests,
			m.Broadcasts,
			m.Disconnects,
		)
	}
	return m
}

// Dropped records a discarded packet.
func (m *Metrics) Dropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// Received records a decoded inbound packet.
func (m *Metrics) Received(kind string) {
	m.PacketsReceived.WithLabelValues(kind).Inc()
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format on a
// fasthttp server.
func Handler(reg prometheus.Gatherer) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
