package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/auth"
	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/protocol"
	"github.com/partyhub/server/internal/v1/user"
)

func (s *Server) handleHeartbeat(_ context.Context, sess *gateway.Session, _ *protocol.Envelope) {
	sess.Touch()
	s.reply(sess, protocol.NewOutbound(protocol.TypeHeartbeatAck, map[string]any{
		"server_time": time.Now().UnixMilli(),
	}))
}

func (s *Server) handleLogin(ctx context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		Name          string `json:"name"`
		Password      string `json:"password"`
		Platform      string `json:"platform"`
		ClientVersion string `json:"client_version"`
	}
	if err := env.Bind(&req); err != nil {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad login payload"))
		return
	}

	u, token, err := s.auth.Login(req.Name, req.Password)
	if err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeLoginResponse, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	s.completeLogin(ctx, sess, u, token, req.Platform, req.ClientVersion)
}

func (s *Server) handleTokenLogin(ctx context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		Token         string `json:"token"`
		Platform      string `json:"platform"`
		ClientVersion string `json:"client_version"`
	}
	if err := env.Bind(&req); err != nil || req.Token == "" {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad token_login payload"))
		return
	}

	u, err := s.auth.TokenLogin(req.Token)
	if err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeLoginResponse, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	s.completeLogin(ctx, sess, u, req.Token, req.Platform, req.ClientVersion)
}

// completeLogin is the shared tail of both login paths: bind the session,
// announce presence, subscribe the lobby, reply, and resume any game the
// user was in.
func (s *Server) completeLogin(ctx context.Context, sess *gateway.Session, u *auth.User,
	token, platform, clientVersion string) {
	s.registry.BindUser(sess, u.ID)
	s.presence.Attach(u.ID, platform, clientVersion)

	s.registry.Subscribe("lobby", sess)

	s.reply(sess, protocol.NewOutbound(protocol.TypeLoginResponse, map[string]any{
		"success":    true,
		"token":      token,
		"expires_in": s.auth.ExpirySeconds(),
		"user": map[string]any{
			"user_id":      u.ID,
			"name":         u.Name,
			"display_name": u.DisplayName,
			"avatar":       u.Avatar,
			"level":        u.Level,
			"exp":          u.Exp,
			"coins":        u.Coins,
			"rating":       u.Rating,
			"games_played": u.GamesPlayed,
			"games_won":    u.GamesWon,
		},
	}))

	s.chat.ReplayTo(sess, "lobby")
	s.reply(sess, protocol.NewOutbound(protocol.TypeRoomList, map[string]any{
		"rooms": s.rooms.List("", false),
	}))

	s.resumeIfSeated(sess, u.ID)
	logging.Info(ctx, "user logged in",
		zap.String("user_id", u.ID), zap.String("session_id", sess.ID))
}

// resumeIfSeated reattaches a reconnecting user to their room and game:
// room_resume first, then game_start and private state.
func (s *Server) resumeIfSeated(sess *gateway.Session, userID string) {
	r, ok := s.rooms.RoomOf(userID)
	if !ok {
		return
	}

	s.registry.JoinRoom(r.ID, sess)
	s.registry.Subscribe("room_"+r.ID, sess)
	s.rooms.SetConnected(r.ID, userID, true)

	s.reply(sess, protocol.NewOutbound(protocol.TypeRoomResume, map[string]any{
		"room": r.Info(),
	}))

	if s.runner.Running(r.ID) {
		s.presence.SetStatus(userID, user.StatusInGame, r.ID, r.GameType)
		s.runner.Resume(sess, r.ID, userID)
	} else {
		s.presence.SetStatus(userID, user.StatusInRoom, r.ID, "")
	}
}

func (s *Server) handleRegister(ctx context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		Name        string `json:"name"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := env.Bind(&req); err != nil {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad register payload"))
		return
	}

	u, err := s.auth.Register(req.Name, req.Password, req.DisplayName)
	if err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeRegisterResponse, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	logging.Info(ctx, "user registered", zap.String("user_id", u.ID), zap.String("name", u.Name))
	s.reply(sess, protocol.NewOutbound(protocol.TypeRegisterResponse, map[string]any{
		"success": true,
		"user_id": u.ID,
	}))
}

// handleLogout unwinds the user but keeps the transport open, so the
// client can log in again on the same socket.
func (s *Server) handleLogout(_ context.Context, sess *gateway.Session, _ *protocol.Envelope) {
	userID := sess.UserID()
	s.teardownUser(sess, userID)
	s.registry.UnsubscribeAll(sess)

	s.reply(sess, protocol.NewOutbound(protocol.TypeNotification, map[string]any{
		"message": "logged out",
	}))
}

func (s *Server) handleGetFriends(_ context.Context, sess *gateway.Session, _ *protocol.Envelope) {
	s.reply(sess, protocol.NewOutbound(protocol.TypeFriendList, map[string]any{
		"friends": s.presence.FriendList(sess.UserID()),
	}))
}
