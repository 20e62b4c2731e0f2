package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the realtime collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Connections   *prometheus.GaugeVec
	Events        *prometheus.CounterVec
	Delivered     *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	PresenceUsers prometheus.Gauge
	Handshakes    *prometheus.CounterVec
}

// Event results used as the "result" label.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultLimited  = "rate_limited"
	resultPanic    = "panic"
)

// NewMetrics registers the realtime collectors on reg (a fresh registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pos_rt_connections",
			Help: "Live realtime connections by transport",
		}, []string{"transport"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_rt_inbound_events_total",
			Help: "Inbound envelopes by type and result",
		}, []string{"type", "result"}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_rt_outbound_delivered_total",
			Help: "Envelopes queued to connections by type",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_rt_outbound_dropped_total",
			Help: "Envelopes dropped because a connection queue was full, by type",
		}, []string{"type"}),
		PresenceUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "pos_rt_presence_entries",
			Help: "Presence entries across all tenants",
		}),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_rt_handshakes_total",
			Help: "Connection handshakes by transport and result",
		}, []string{"transport", "result"}),
	}
}

func (m *Metrics) connOpened(transport string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(transport).Inc()
	m.Handshakes.WithLabelValues(transport, resultOK).Inc()
}

func (m *Metrics) connClosed(transport string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(transport).Dec()
}

func (m *Metrics) handshakeRejected(transport string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(transport, resultRejected).Inc()
}

func (m *Metrics) event(typ, result string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) fanout(typ string, delivered, dropped int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.Delivered.WithLabelValues(typ).Add(float64(delivered))
	}
	if dropped > 0 {
		m.Dropped.WithLabelValues(typ).Add(float64(dropped))
	}
}

func (m *Metrics) presenceDelta(d int) {
	if m == nil || d == 0 {
		return
	}
	m.PresenceUsers.Add(float64(d))
}
