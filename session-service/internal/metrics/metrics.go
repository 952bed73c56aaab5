package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the session service collectors. It implements
// hub.Observer.
type Metrics struct {
	// EventsTotal counts inbound events by type and outcome
	EventsTotal *prometheus.CounterVec

	// EventDuration tracks handler latency by event type
	EventDuration *prometheus.HistogramVec

	// ActiveSessions is the number of connected websocket sessions
	ActiveSessions prometheus.Gauge

	// Deliveries counts frames queued to local sessions
	Deliveries prometheus.Counter

	// DroppedTotal counts frames that could not be delivered, by reason
	DroppedTotal *prometheus.CounterVec

	// AuthFailures counts refused upgrades by failure kind
	AuthFailures *prometheus.CounterVec

	// RelayMessages counts cross-node envelopes by direction
	RelayMessages *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_events_total",
				Help: "Total number of inbound session events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_event_duration_seconds",
				Help:    "Time spent handling inbound session events",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "session_active_sessions",
				Help: "Number of connected websocket sessions",
			},
		),
		Deliveries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_deliveries_total",
				Help: "Total number of frames queued to local sessions",
			},
		),
		DroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_dropped_total",
				Help: "Total number of undeliverable frames by reason",
			},
			[]string{"reason"},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_auth_failures_total",
				Help: "Total number of refused connection attempts by failure kind",
			},
			[]string{"kind"},
		),
		RelayMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_relay_messages_total",
				Help: "Total number of cross-node envelopes by direction",
			},
			[]string{"direction"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EventDuration,
		m.ActiveSessions,
		m.Deliveries,
		m.DroppedTotal,
		m.AuthFailures,
		m.RelayMessages,
	)
	return m
}

// ObserveEvent records one handled event.
func (m *Metrics) ObserveEvent(eventType, outcome string, took time.Duration) {
	m.EventsTotal.WithLabelValues(eventType, outcome).Inc()
	m.EventDuration.WithLabelValues(eventType).Observe(took.Seconds())
}

func (m *Metrics) AuthFailed(kind string) {
	m.AuthFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Relayed(direction string) {
	m.RelayMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Dec()
}

func (m *Metrics) Delivered(n int) {
	if n > 0 {
		m.Deliveries.Add(float64(n))
	}
}

func (m *Metrics) Dropped(reason string) {
	m.DroppedTotal.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
