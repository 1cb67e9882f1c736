// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatmatch"

// Metrics groups the server's collectors.
type Metrics struct {
	Registrations   prometheus.Counter
	Matches         prometheus.Counter
	MatchMisses     prometheus.Counter
	MessagesRelayed *prometheus.CounterVec
	TypingRelayed   prometheus.Counter
	Disconnects     *prometheus.CounterVec
	ActiveRooms     prometheus.Gauge
	WaitingSessions prometheus.Gauge
	Connections     prometheus.Gauge
	RejectedConns   prometheus.Counter
	DroppedEvents   prometheus.Counter
	Translations    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "user_info events processed.",
		}),
		Matches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Rooms created by a successful match.",
		}),
		MatchMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_misses_total",
			Help:      "Match attempts that left the requester waiting.",
		}),
		MessagesRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Chat messages relayed, by kind.",
		}, []string{"kind"}),
		TypingRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_relayed_total",
			Help:      "Typing events relayed to a partner.",
		}),
		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Disconnects handled, by the session's state at the time.",
		}, []string{"state"}),
		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Live two-party rooms.",
		}),
		WaitingSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_sessions",
			Help:      "Registered sessions without a partner.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
		RejectedConns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rejected_total",
			Help:      "WebSocket connections refused by rate limit or capacity.",
		}),
		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_events_total",
			Help:      "Outbound events dropped because a client's buffer was full.",
		}),
		Translations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Translation requests, by result.",
		}, []string{"result"}),
	}
}
