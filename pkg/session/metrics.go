package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// Metrics exposes session counters to a prometheus registry. A nil
// *Metrics is valid and records nothing, so instrumenting is opt-in.
type Metrics struct {
	connected         prometheus.Gauge
	reconnectAttempts prometheus.Counter
	commandsSent      *prometheus.CounterVec
	eventsReceived    *prometheus.CounterVec
}

// NewMetrics registers the session metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wavelink_sessions_connected",
			Help: "Sessions currently holding a live transport.",
		}),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavelink_session_reconnect_attempts_total",
			Help: "Reconnect attempts made after unexpected transport drops.",
		}),
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavelink_session_commands_sent_total",
			Help: "Outbound commands handed to the transport, by command name.",
		}, []string{"command"}),
		eventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavelink_session_events_received_total",
			Help: "Inbound server events forwarded to subscribers, by event name.",
		}, []string{"event"}),
	}
}

func (m *Metrics) recordConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Inc()
	} else {
		m.connected.Dec()
	}
}

func (m *Metrics) recordReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) recordCommand(name protocol.CommandName) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(string(name)).Inc()
}

func (m *Metrics) recordEvent(name protocol.EventName) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(string(name)).Inc()
}
