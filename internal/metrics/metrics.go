// Package metrics holds the Prometheus instruments shared across components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SavesTotal counts write attempts by outcome: accepted, conflict, error.
	SavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notehub",
		Subsystem: "control",
		Name:      "saves_total",
		Help:      "Write attempts through the concurrency controller by outcome.",
	}, []string{"outcome"})

	// NotModifiedTotal counts reads short-circuited by a matching tag.
	NotModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "notehub",
		Subsystem: "control",
		Name:      "not_modified_total",
		Help:      "Conditional reads answered from the caller's own tag.",
	})

	// EventsPublished counts broadcast events by kind.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notehub",
		Subsystem: "relay",
		Name:      "events_published_total",
		Help:      "Events published to rooms by kind.",
	}, []string{"kind"})

	// DroppedSends counts deliveries skipped because a session was slow.
	DroppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "notehub",
		Subsystem: "relay",
		Name:      "dropped_sends_total",
		Help:      "Per-session deliveries dropped because the send buffer was full.",
	})

	// OpenSessions tracks currently connected sessions.
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "notehub",
		Subsystem: "hub",
		Name:      "open_sessions",
		Help:      "Currently connected WebSocket sessions.",
	})

	// ActiveRooms tracks rooms with at least one member.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "notehub",
		Subsystem: "room",
		Name:      "active_rooms",
		Help:      "Rooms with at least one joined session.",
	})
)
