package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the game coordination server.
//
// Naming convention: namespace_subsystem_name
// - namespace: partyhub (application-level grouping)
// - subsystem: websocket, room, match, game, chat (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, rooms, queued requests)
// - Counter: cumulative events (messages processed, errors)
// - Histogram: latency distributions (processing time, tick duration)

var (
	// ActiveConnections tracks the current number of live sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partyhub",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// WebsocketEvents tracks inbound envelopes processed, by type and status.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partyhub",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound envelopes processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks handler latency per envelope type.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "partyhub",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing inbound envelopes",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// ActiveRooms tracks the current number of rooms by lifecycle state.
	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "partyhub",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms by state",
	}, []string{"state"})

	// RoomPlayers tracks the number of members in each room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "partyhub",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_id"})

	// QueuedMatchRequests tracks waiting matchmaking requests per game type.
	QueuedMatchRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "partyhub",
		Subsystem: "match",
		Name:      "queued_requests",
		Help:      "Match requests currently waiting per game type",
	}, []string{"game_type"})

	// RunningGames tracks live game instances per game type.
	RunningGames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "partyhub",
		Subsystem: "game",
		Name:      "instances_running",
		Help:      "Game instances currently running per game type",
	}, []string{"game_type"})

	// TickDuration tracks per-room tick cost per game type.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "partyhub",
		Subsystem: "game",
		Name:      "tick_seconds",
		Help:      "Time spent in one tick of a tick-scheduled game",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05},
	}, []string{"game_type"})

	// ChatMessages counts accepted and rejected chat messages.
	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partyhub",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Chat messages by outcome",
	}, []string{"outcome"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
