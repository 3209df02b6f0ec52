package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the streaming client.
// A nil *Metrics is valid and records nothing, so the core packages
// can run without a registry wired in.
type Metrics struct {
	FramesReceived  *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	Reconnects      prometheus.Counter
	TokensAppended  prometheus.Counter
	ConnectionState prometheus.Gauge

	startTime time.Time
}

// New creates a metrics collector registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_frames_received_total",
				Help: "Total inbound frames by event type",
			},
			[]string{"type"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_frames_dropped_total",
				Help: "Inbound frames dropped by reason",
			},
			[]string{"reason"},
		),
		Reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_reconnects_total",
				Help: "Total automatic reconnect attempts",
			},
		),
		TokensAppended: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_tokens_appended_total",
				Help: "Total token fragments appended to messages",
			},
		),
		ConnectionState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistant_connection_state",
				Help: "Channel state (0=disconnected, 1=connecting, 2=connected)",
			},
		),
	}
}

// ObserveFrame records one inbound frame of the given type.
func (m *Metrics) ObserveFrame(eventType string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(eventType).Inc()
}

// ObserveDrop records a dropped frame.
func (m *Metrics) ObserveDrop(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// ObserveReconnect records one reconnect attempt.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// ObserveToken records one appended token fragment.
func (m *Metrics) ObserveToken() {
	if m == nil {
		return
	}
	m.TokensAppended.Inc()
}

// SetConnectionState records the channel state as a gauge value.
func (m *Metrics) SetConnectionState(state float64) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(state)
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}
