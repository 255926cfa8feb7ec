// Package server wires the services together: it mounts the HTTP
// surface, registers every message handler on the gateway router, and
// owns the cross-service flows (login, disconnect, matchmaking, game
// start) that no single service can run alone.
package server

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/sync/errgroup"

	"github.com/partyhub/server/internal/v1/auth"
	"github.com/partyhub/server/internal/v1/chat"
	"github.com/partyhub/server/internal/v1/config"
	"github.com/partyhub/server/internal/v1/game"
	"github.com/partyhub/server/internal/v1/game/gomoku"
	"github.com/partyhub/server/internal/v1/game/monopoly"
	"github.com/partyhub/server/internal/v1/game/racing"
	"github.com/partyhub/server/internal/v1/game/shooter"
	"github.com/partyhub/server/internal/v1/game/werewolf"
	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/health"
	"github.com/partyhub/server/internal/v1/match"
	"github.com/partyhub/server/internal/v1/protocol"
	"github.com/partyhub/server/internal/v1/room"
	"github.com/partyhub/server/internal/v1/user"
)

// startGraceDelay is how long a matched room sits before auto-start, so
// every member sees match_found before game_start.
const startGraceDelay = 3 * time.Second

// Server holds every wired service.
type Server struct {
	cfg *config.Config

	registry *gateway.Registry
	router   *gateway.Router
	auth     *auth.Service
	presence *user.Service
	rooms    *room.Manager
	matches  *match.Service
	chat     *chat.Service
	catalog  *game.Catalog
	runner   *game.Runner

	wsLimiter *limiter.Limiter
}

// New builds the full service graph from validated configuration.
func New(cfg *config.Config) (*Server, error) {
	catalog := game.NewCatalog(int(cfg.GameTickRate))
	gomoku.Register(catalog)
	monopoly.Register(catalog)
	werewolf.Register(catalog)
	shooter.Register(catalog)
	racing.Register(catalog)
	if cfg.GameCatalogFile != "" {
		if err := catalog.ApplyOverrides(cfg.GameCatalogFile); err != nil {
			return nil, err
		}
	}

	store := auth.NewMemoryStore()
	registry := gateway.NewRegistry(cfg.MaxConnections)

	s := &Server{
		cfg:      cfg,
		registry: registry,
		router:   gateway.NewRouter(),
		auth:     auth.NewService(store, cfg.JWTSecret, cfg.JWTExpireHours, cfg.JWTAlgorithm),
		presence: user.NewService(store, registry),
		catalog:  catalog,
	}
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsConnect)
	if err != nil {
		return nil, err
	}
	s.wsLimiter = limiter.New(memory.NewStore(), wsRate)

	s.rooms = room.NewManager(catalog.Limits, registry, cfg.MaxRooms)
	s.matches = match.NewService(catalog.Limits, s.rooms, registry, cfg.MatchTimeout, s.onMatched)
	s.chat = chat.NewService(cfg.RateLimitChat, chat.DefaultFilter(), s, registry)
	s.runner = game.NewRunner(catalog, s.rooms, registry, store, s.presence)

	s.registerHandlers()
	return s, nil
}

// Routes mounts the WebSocket endpoint, metrics, and health probes.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ws", s.ServeWs)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := health.NewHandler(map[string]health.Check{
		"connections": s.checkConnectionHeadroom,
		"rooms":       s.checkRoomHeadroom,
	})
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
}

// RunBackground starts the periodic workers and blocks until ctx ends.
func (s *Server) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.registry.RunReaper(ctx, s.cfg.HeartbeatInterval, s.cfg.HeartbeatTimeout)
		return nil
	})
	g.Go(func() error {
		s.matches.RunCoalescer(ctx, s.cfg.MatchCheckInterval)
		return nil
	})
	g.Go(func() error {
		s.rooms.RunJanitor(ctx, time.Minute, s.cfg.RoomIdleTimeout)
		return nil
	})
	return g.Wait()
}

// Shutdown closes every live session.
func (s *Server) Shutdown() {
	s.registry.Shutdown()
}

// CanAccess implements chat.Membership. Lobby is open to everyone;
// room_ and team_ channels require a seat in the underlying room.
func (s *Server) CanAccess(userID, channel string) bool {
	switch {
	case channel == "lobby":
		return true
	case strings.HasPrefix(channel, "room_"):
		return s.inRoomChannel(userID, strings.TrimPrefix(channel, "room_"))
	case strings.HasPrefix(channel, "team_"):
		// team_<roomID>[_<team>] piggybacks on room membership.
		rest := strings.TrimPrefix(channel, "team_")
		roomID, _, _ := strings.Cut(rest, "_")
		return s.inRoomChannel(userID, roomID)
	}
	return false
}

func (s *Server) inRoomChannel(userID, roomID string) bool {
	r, ok := s.rooms.Get(roomID)
	return ok && r.Has(userID)
}

func (s *Server) checkConnectionHeadroom() string {
	if s.registry.SessionCount() >= s.cfg.MaxConnections {
		return "at capacity"
	}
	return "healthy"
}

func (s *Server) checkRoomHeadroom() string {
	if s.rooms.RoomCount() >= s.cfg.MaxRooms {
		return "at capacity"
	}
	return "healthy"
}

// registerHandlers binds every inbound message type to its handler.
func (s *Server) registerHandlers() {
	s.router.Handle(protocol.TypeHeartbeat, s.handleHeartbeat)
	s.router.Handle(protocol.TypeLogin, s.handleLogin)
	s.router.Handle(protocol.TypeTokenLogin, s.handleTokenLogin)
	s.router.Handle(protocol.TypeRegister, s.handleRegister)
	s.router.Handle(protocol.TypeLogout, s.handleLogout)
	s.router.Handle(protocol.TypeGetFriends, s.handleGetFriends)
	s.router.Handle(protocol.TypeGetRooms, s.handleGetRooms)
	s.router.Handle(protocol.TypeCreateRoom, s.handleCreateRoom)
	s.router.Handle(protocol.TypeJoinRoom, s.handleJoinRoom)
	s.router.Handle(protocol.TypeLeaveRoom, s.handleLeaveRoom)
	s.router.Handle(protocol.TypeSetReady, s.handleSetReady)
	s.router.Handle(protocol.TypeStartGame, s.handleStartGame)
	s.router.Handle(protocol.TypeQuickMatch, s.handleQuickMatch)
	s.router.Handle(protocol.TypeCancelMatch, s.handleCancelMatch)
	s.router.Handle(protocol.TypeGameAction, s.handleGameAction)
	s.router.Handle(protocol.TypeChatMessage, s.handleChatMessage)
}

// reply marshals and queues one frame on the session.
func (s *Server) reply(sess *gateway.Session, out *protocol.Outbound) {
	if data, err := out.Marshal(); err == nil {
		sess.SendRaw(data)
	}
}
