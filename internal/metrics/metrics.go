// Package metrics defines the Prometheus collectors for the relay.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "covisit"

var (
	// ActiveSessions tracks live session entries in the registry.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "number of sessions with at least one connected member",
	})

	// Connections tracks connected clients by role.
	Connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "connected websocket clients by role",
	}, []string{"role"})

	// EventsRelayed counts sync events fanned out to a room, by event type.
	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_relayed_total",
		Help:      "sync events relayed to room members",
	}, []string{"event"})

	// EventsDropped counts silently dropped messages by reason.
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "inbound messages dropped before relay",
	}, []string{"reason"})

	// AccessRequests counts POST /request-access calls by result.
	AccessRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_requests_total",
		Help:      "consent prompt requests by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ActiveSessions,
		Connections,
		EventsRelayed,
		EventsDropped,
		AccessRequests,
	)
}
