package realtime

import "github.com/prometheus/client_golang/prometheus"

// metrics are created unregistered so a hub can be used on its own;
// InitApp registers them with the application's registry.
type metrics struct {
	connections prometheus.Gauge
	messages    *prometheus.CounterVec
	dropped     prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mealbuddy_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealbuddy_websocket_messages_total",
			Help: "Total number of WebSocket messages by event",
		}, []string{"event", "direction"}), // direction: "inbound" or "outbound"
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealbuddy_websocket_messages_dropped_total",
			Help: "Outbound messages dropped because a client was too slow",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.connections, m.messages, m.dropped}
}
