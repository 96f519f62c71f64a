// Package metrics provides Prometheus metrics for the bridge server.
// Labels never carry session or response ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

var (
	// SessionsActive tracks currently running bridge sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ema_bridge_sessions_active",
		Help: "Current number of running bridge sessions.",
	})

	// SessionsTotal counts finished sessions by the cause that ended them.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ema_bridge_sessions_total",
		Help: "Total number of finished bridge sessions, by end cause.",
	}, []string{"cause"})

	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ema_bridge_session_duration_seconds",
		Help:    "Lifetime of bridge sessions.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// EventsTotal counts routed events by direction and wire type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ema_bridge_events_total",
		Help: "Total number of events routed through the bridge, by direction and type.",
	}, []string{"direction", "type"})

	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ema_bridge_decode_errors_total",
		Help: "Total number of inbound frames dropped because they could not be decoded.",
	})

	// DroppedFramesTotal counts inbound frames dropped before reaching the model.
	DroppedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ema_bridge_dropped_frames_total",
		Help: "Total number of inbound frames dropped, by reason.",
	}, []string{"reason"})

	BargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ema_bridge_barge_ins_total",
		Help: "Total number of model turns interrupted by user input.",
	})

	// ToolCallsTotal counts tool invocations by tool and outcome.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ema_bridge_tool_calls_total",
		Help: "Total number of tool calls, by tool and outcome (ok/error/unknown/stop).",
	}, []string{"tool", "outcome"})
)

func RecordEvent(direction, eventType string) {
	EventsTotal.WithLabelValues(direction, eventType).Inc()
}

func RecordDroppedFrame(reason string) {
	DroppedFramesTotal.WithLabelValues(reason).Inc()
}

// RecordToolCall labels calls to unregistered tools as "unregistered" so a
// misbehaving model cannot grow the label set.
func RecordToolCall(tool, outcome string, registered bool) {
	if !registered {
		tool = "unregistered"
	}
	ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// SessionStarted returns a function that records the session's end.
func SessionStarted() func(cause string, seconds float64) {
	SessionsActive.Inc()
	return func(cause string, seconds float64) {
		SessionsActive.Dec()
		SessionsTotal.WithLabelValues(cause).Inc()
		SessionDuration.Observe(seconds)
	}
}
