package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/protocol"
	"github.com/partyhub/server/internal/v1/room"
	"github.com/partyhub/server/internal/v1/user"
)

func (s *Server) handleGetRooms(_ context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		GameType       string `json:"game_type"`
		IncludePlaying bool   `json:"include_playing"`
	}
	_ = env.Bind(&req)

	s.reply(sess, protocol.NewOutbound(protocol.TypeRoomList, map[string]any{
		"rooms": s.rooms.List(req.GameType, req.IncludePlaying),
	}))
}

func (s *Server) handleCreateRoom(_ context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		GameType   string `json:"game_type"`
		Name       string `json:"name"`
		MaxPlayers int    `json:"max_players"`
		Private    bool   `json:"private"`
		Password   string `json:"password"`
	}
	if err := env.Bind(&req); err != nil {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad create_room payload"))
		return
	}

	userID := sess.UserID()
	r, err := s.rooms.Create(room.CreateParams{
		HostID:          userID,
		HostDisplayName: s.displayName(userID),
		GameType:        req.GameType,
		Name:            req.Name,
		MaxPlayers:      req.MaxPlayers,
		Private:         req.Private,
		Password:        req.Password,
	})
	if err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeCreateRoomResponse, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	s.seatSession(sess, r, userID)
	s.reply(sess, protocol.NewOutbound(protocol.TypeCreateRoomResponse, map[string]any{
		"success": true,
		"room":    r.Info(),
	}))
}

func (s *Server) handleJoinRoom(_ context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		RoomID   string `json:"room_id"`
		Password string `json:"password"`
	}
	if err := env.Bind(&req); err != nil || req.RoomID == "" {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad join_room payload"))
		return
	}

	userID := sess.UserID()
	r, err := s.rooms.Join(req.RoomID, userID, s.displayName(userID), req.Password)
	if err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeJoinRoomResponse, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	s.seatSession(sess, r, userID)
	s.reply(sess, protocol.NewOutbound(protocol.TypeJoinRoomResponse, map[string]any{
		"success": true,
		"room":    r.Info(),
	}))
}

// seatSession attaches a freshly seated user's session to the room's
// fan-out group and chat channel.
func (s *Server) seatSession(sess *gateway.Session, r *room.Room, userID string) {
	s.registry.JoinRoom(r.ID, sess)
	s.registry.Subscribe("room_"+r.ID, sess)
	s.chat.ReplayTo(sess, "room_"+r.ID)
	s.presence.SetStatus(userID, user.StatusInRoom, r.ID, "")
}

func (s *Server) handleLeaveRoom(ctx context.Context, sess *gateway.Session, _ *protocol.Envelope) {
	userID := sess.UserID()
	r, ok := s.rooms.RoomOf(userID)
	if !ok {
		s.reply(sess, protocol.NewOutbound(protocol.TypeLeaveRoomResponse, map[string]any{
			"success": false,
			"error":   room.ErrNotInRoom.Error(),
		}))
		return
	}

	// Walking out mid-game forfeits first.
	if s.runner.Running(r.ID) {
		s.runner.HandleDisconnect(r.ID, userID)
	}

	if err := s.rooms.Leave(r.ID, userID); err != nil {
		logging.Warn(ctx, "leave_room failed",
			zap.String("room_id", r.ID), zap.String("user_id", userID), zap.Error(err))
		s.reply(sess, protocol.NewOutbound(protocol.TypeLeaveRoomResponse, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	s.registry.LeaveRoom(r.ID, sess)
	s.registry.Unsubscribe("room_"+r.ID, sess)
	s.presence.SetStatus(userID, user.StatusOnline, "", "")

	s.reply(sess, protocol.NewOutbound(protocol.TypeLeaveRoomResponse, map[string]any{
		"success": true,
	}))
}

func (s *Server) handleSetReady(_ context.Context, sess *gateway.Session, env *protocol.Envelope) {
	var req struct {
		Ready bool `json:"ready"`
	}
	if err := env.Bind(&req); err != nil {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeMalformedJSON, "bad set_ready payload"))
		return
	}

	userID := sess.UserID()
	r, ok := s.rooms.RoomOf(userID)
	if !ok {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeInternalError, room.ErrNotInRoom.Error()))
		return
	}
	if err := s.rooms.SetReady(r.ID, userID, req.Ready); err != nil {
		s.reply(sess, protocol.ErrorFrame(protocol.CodeInternalError, err.Error()))
	}
}

func (s *Server) handleStartGame(ctx context.Context, sess *gateway.Session, _ *protocol.Envelope) {
	userID := sess.UserID()
	r, ok := s.rooms.RoomOf(userID)
	if !ok {
		s.reply(sess, protocol.NewOutbound(protocol.TypeStartGameResponse, map[string]any{
			"success": false,
			"error":   room.ErrNotInRoom.Error(),
		}))
		return
	}

	if _, err := s.rooms.BeginStart(r.ID, userID); err != nil {
		s.reply(sess, protocol.NewOutbound(protocol.TypeStartGameResponse, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	s.reply(sess, protocol.NewOutbound(protocol.TypeStartGameResponse, map[string]any{
		"success": true,
	}))

	if err := s.runner.Launch(r); err != nil {
		logging.Error(ctx, "launching game failed",
			zap.String("room_id", r.ID), zap.String("game_type", r.GameType), zap.Error(err))
		// A starting room only goes forward to playing or away entirely.
		s.rooms.Close(r.ID, "launch_failed")
	}
}
