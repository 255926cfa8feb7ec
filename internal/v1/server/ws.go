package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/protocol"
)

// ServeWs upgrades GET /ws to a WebSocket session and runs its pumps.
// The handler blocks for the session's lifetime, like any long-poll.
func (s *Server) ServeWs(c *gin.Context) {
	ctx := c.Request.Context()

	limitCtx, err := s.wsLimiter.Get(ctx, "ws:"+c.ClientIP())
	if err == nil && limitCtx.Reached {
		logging.Warn(ctx, "ws connect rate limited", zap.String("ip", c.ClientIP()))
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "ws upgrade failed", zap.Error(err))
		return
	}

	sess, err := s.registry.Register(conn, s.onSessionClose)
	if err != nil {
		// Full house: say so on the wire before hanging up.
		msg := websocket.FormatCloseMessage(protocol.CodeAtCapacity, "server at capacity")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
		return
	}

	go sess.WriteLoop()
	s.reply(sess, protocol.NewOutbound(protocol.TypeWelcome, map[string]any{
		"session_id":         sess.ID,
		"heartbeat_interval": int(s.cfg.HeartbeatInterval.Seconds()),
	}))

	sess.ReadLoop(s.router)
}

// checkOrigin allows configured origins, or everything in development.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.DevelopmentMode || s.cfg.AllowedOrigins == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range strings.Split(s.cfg.AllowedOrigins, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

// onSessionClose is the single disconnect path: it runs once per session
// after the read pump exits, whatever caused the exit.
func (s *Server) onSessionClose(sess *gateway.Session) {
	userID := sess.UserID()
	if userID != "" {
		s.teardownUser(sess, userID)
	}
	s.registry.Unregister(sess)
}

// teardownUser unwinds a logged-in user's state. A replaced session
// never reaches here with a user id, so only a real disconnect forfeits.
func (s *Server) teardownUser(sess *gateway.Session, userID string) {
	ctx := context.Background()
	_ = s.matches.Cancel(userID)

	if r, ok := s.rooms.RoomOf(userID); ok {
		if s.runner.Running(r.ID) {
			// Mid-game drop: keep the seat, let the game decide the forfeit.
			s.rooms.SetConnected(r.ID, userID, false)
			s.runner.HandleDisconnect(r.ID, userID)
		} else {
			if err := s.rooms.Leave(r.ID, userID); err != nil {
				logging.Warn(ctx, "leaving room on disconnect failed",
					zap.String("room_id", r.ID), zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	s.presence.Detach(userID)
	s.registry.UnbindUser(sess)
	logging.Info(ctx, "user disconnected", zap.String("user_id", userID))
}
