package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketfeed"

// Metrics holds all collectors.
type Metrics struct {
	status       *prometheus.GaugeVec
	reconnects   prometheus.Counter
	messages     *prometheus.CounterVec
	polls        *prometheus.CounterVec
	probes       *prometheus.CounterVec
	storeMarkets prometheus.Gauge
	sinkFlushes  *prometheus.CounterVec
}

// New creates collectors and registers them with reg.
// A nil reg registers nothing (useful for tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Current connection status (1 for the active status).",
		}, []string{"status"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after abnormal closes.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "WebSocket messages by routing result.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Polling fetches by result.",
		}, []string{"result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_total",
			Help:      "Backend availability probes by result.",
		}, []string{"result"}),
		storeMarkets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_markets",
			Help:      "Markets held in the shared store.",
		}),
		sinkFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_flush_total",
			Help:      "Sink flushes by sink and result.",
		}, []string{"sink", "result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.status,
			m.reconnects,
			m.messages,
			m.polls,
			m.probes,
			m.storeMarkets,
			m.sinkFlushes,
		)
	}

	return m
}

// SetStatus marks current as the active status among all.
func (m *Metrics) SetStatus(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.status.WithLabelValues(s).Set(v)
	}
}

// IncReconnect counts a scheduled reconnect.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncMessage counts a routed message ("applied", "ignored", "malformed").
func (m *Metrics) IncMessage(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

// IncPoll counts a polling fetch ("ok", "error").
func (m *Metrics) IncPoll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

// IncProbe counts an availability probe ("available", "unavailable", "cached").
func (m *Metrics) IncProbe(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

// SetStoreSize records the store size.
func (m *Metrics) SetStoreSize(n int) {
	if m == nil {
		return
	}
	m.storeMarkets.Set(float64(n))
}

// IncSinkFlush counts a sink flush ("ok", "error").
func (m *Metrics) IncSinkFlush(sink, result string) {
	if m == nil {
		return
	}
	m.sinkFlushes.WithLabelValues(sink, result).Inc()
}
