package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/match"
	"github.com/partyhub/server/internal/v1/protocol"
)

func (s *Server) handleQuickMatch(_ context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		GameType string `json:"game_type"`
	}
	if err := env.Bind(&req); err != nil || req.GameType == "" {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad quick_match payload"))
		return
	}

	userID := sess.UserID()
	if _, inRoom := s.rooms.RoomOf(userID); inRoom {
		s.reply(sess, protocol.NewOutbound(protocol.TypeMatchError, map[string]any{
			"message": "leave your room before queueing",
		}))
		return
	}

	rating := 0
	displayName := userID
	if u, ok := s.auth.Store().GetByID(userID); ok {
		rating = u.Rating
		displayName = u.DisplayName
	}

	if err := s.matches.Enqueue(userID, displayName, rating, req.GameType); err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeMatchError, map[string]any{
			"message": err.Error(),
		}))
		return
	}

	s.reply(sess, protocol.NewOutbound(protocol.TypeMatchQueued, map[string]any{
		"game_type": req.GameType,
	}))
}

func (s *Server) handleCancelMatch(_ context.Context, sess *gateway.Session, _ *protocol.Envelope) {
	if err := s.matches.Cancel(sess.UserID()); err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeMatchError, map[string]any{
			"message": err.Error(),
		}))
		return
	}
	s.reply(sess, protocol.NewOutbound(protocol.TypeMatchCancelled, nil))
}

// onMatched seats every matched session, announces match_found, and
// schedules the auto-start after the grace delay.
func (s *Server) onMatched(m match.Matched) {
	found := protocol.NewOutbound(protocol.TypeMatchFound, map[string]any{
		"room": m.Room.Info(),
	})

	for _, userID := range m.Members {
		sess, online := s.registry.SessionForUser(userID)
		if !online {
			continue
		}
		s.seatSession(sess, m.Room, userID)
		s.reply(sess, found)
	}

	roomID := m.Room.ID
	time.AfterFunc(startGraceDelay, func() { s.autoStart(roomID) })
}

// autoStart fires a matched room's game once the grace delay passes. The
// room may have emptied or started by hand in the meantime; both are fine.
func (s *Server) autoStart(roomID string) {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}

	if _, err := s.rooms.BeginStart(roomID, r.HostID()); err != nil {
		logging.Warn(context.Background(), "auto-start skipped",
			zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if err := s.runner.Launch(r); err != nil {
		logging.Error(context.Background(), "auto-start launch failed",
			zap.String("room_id", roomID), zap.Error(err))
		s.rooms.Close(roomID, "launch_failed")
	}
}

func (s *Server) handleGameAction(_ context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		Action string `json:"action"`
	}
	if err := env.Bind(&req); err != nil || req.Action == "" {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad game_action payload"))
		return
	}

	userID := sess.UserID()
	r, ok := s.rooms.RoomOf(userID)
	if !ok {
		s.reply(sess, protocol.NewOutbound(protocol.TypeGameActionResponse, map[string]any{
			"action":  req.Action,
			"success": false,
			"error":   "not in a room",
		}))
		return
	}

	data := env.Fields()
	delete(data, "action")

	if err := s.runner.HandleAction(r.ID, userID, req.Action, data); err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeGameActionResponse, map[string]any{
			"action":  req.Action,
			"success": false,
			"error":   err.Error(),
		}))
	}
}

func (s *Server) handleChatMessage(ctx context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		Channel string `json:"channel"`
		Content string `json:"content"`
		// Text is a legacy alias for content kept for older clients.
		Text string `json:"text"`
	}
	if err := env.Bind(&req); err != nil {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad chat_message payload"))
		return
	}
	content := req.Content
	if content == "" {
		content = req.Text
	}

	userID := sess.UserID()
	if _, err := s.chat.Send(ctx, userID, s.displayName(userID), req.Channel, content); err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeChatError, map[string]any{
			"channel": req.Channel,
			"reason":  err.Error(),
		}))
	}
}

// displayName resolves a user's display name, falling back to the id.
func (s *Server) displayName(userID string) string {
	if u, ok := s.auth.Store().GetByID(userID); ok {
		return u.DisplayName
	}
	return userID
}
