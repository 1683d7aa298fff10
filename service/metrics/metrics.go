package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is the numeric transport state (0 disconnected .. 3 reconnecting).
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Subsystem: "transport",
			Name:      "connection_state",
			Help:      "Current transport connection state",
		},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made after an unexpected close",
		},
	)

	StaleConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "transport",
			Name:      "stale_connections_total",
			Help:      "Connections declared stale by the health check",
		},
	)

	OutboundQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Subsystem: "transport",
			Name:      "outbound_queued",
			Help:      "Commands waiting for the next connection",
		},
	)

	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "transport",
			Name:      "publish_total",
			Help:      "Outbound publishes by result",
		},
		[]string{"result"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "dispatcher",
			Name:      "events_total",
			Help:      "Inbound events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	HistoryLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "history",
			Name:      "loads_total",
			Help:      "History page loads by outcome",
		},
		[]string{"outcome"},
	)
)

func RecordPublish(result string) {
	PublishTotal.WithLabelValues(result).Inc()
}

func RecordEvent(kind, outcome string) {
	EventsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordHistoryLoad(outcome string) {
	HistoryLoads.WithLabelValues(outcome).Inc()
}
