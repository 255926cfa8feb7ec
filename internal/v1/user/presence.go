// Package user tracks presence: which users are online, what they are
// doing, and who gets told when that changes.
package user

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/auth"
	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/protocol"
)

// Status is a presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusInRoom  Status = "in_room"
	StatusInGame  Status = "in_game"
	StatusAway    Status = "away"
	StatusOffline Status = "offline" // fan-out only, never stored
)

// Presence is the per-login record attached to a session. Its lifetime
// equals the session's.
type Presence struct {
	UserID        string `json:"user_id"`
	Status        Status `json:"status"`
	CurrentRoom   string `json:"current_room,omitempty"`
	CurrentGame   string `json:"current_game,omitempty"`
	Platform      string `json:"platform,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
}

// Service owns the presence table and friend-status fan-out.
type Service struct {
	mu       sync.RWMutex
	presence map[string]*Presence

	store    auth.Store
	registry *gateway.Registry
}

// NewService builds a presence service over the user store and registry.
func NewService(store auth.Store, registry *gateway.Registry) *Service {
	return &Service{
		presence: make(map[string]*Presence),
		store:    store,
		registry: registry,
	}
}

// Attach records a fresh login. Status starts online; callers move it to
// in_room/in_game immediately after when the login is a reconnect.
func (s *Service) Attach(userID, platform, clientVersion string) *Presence {
	p := &Presence{
		UserID:        userID,
		Status:        StatusOnline,
		Platform:      platform,
		ClientVersion: clientVersion,
	}

	s.mu.Lock()
	s.presence[userID] = p
	s.mu.Unlock()

	s.fanOutStatus(userID, StatusOnline)
	return p
}

// Detach drops the presence record and tells friends the user went offline.
func (s *Service) Detach(userID string) {
	s.mu.Lock()
	_, had := s.presence[userID]
	delete(s.presence, userID)
	s.mu.Unlock()

	if had {
		s.fanOutStatus(userID, StatusOffline)
	}
}

// SetStatus transitions the user's presence and fans the change out.
func (s *Service) SetStatus(userID string, status Status, roomID, gameType string) {
	s.mu.Lock()
	p, ok := s.presence[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.Status = status
	p.CurrentRoom = roomID
	p.CurrentGame = gameType
	s.mu.Unlock()

	s.fanOutStatus(userID, status)
}

// Get returns a copy of the user's presence record.
func (s *Service) Get(userID string) (Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presence[userID]
	if !ok {
		return Presence{}, false
	}
	return *p, true
}

// FriendEntry is one row of a friend_list response.
type FriendEntry struct {
	auth.PublicProfile
	Status Status `json:"status"`
}

// FriendList resolves the user's friends with their live status.
func (s *Service) FriendList(userID string) []FriendEntry {
	u, ok := s.store.GetByID(userID)
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FriendEntry, 0, len(u.Friends))
	for _, fid := range u.Friends {
		friend, ok := s.store.GetByID(fid)
		if !ok {
			continue
		}
		entry := FriendEntry{PublicProfile: friend.Public(), Status: StatusOffline}
		if p, online := s.presence[fid]; online {
			entry.Status = p.Status
		}
		out = append(out, entry)
	}
	return out
}

// fanOutStatus notifies each online friend of the user's new status.
func (s *Service) fanOutStatus(userID string, status Status) {
	u, ok := s.store.GetByID(userID)
	if !ok {
		logging.Warn(context.Background(), "presence fan-out for unknown user",
			zap.String("user_id", userID))
		return
	}

	frame := protocol.NewOutbound(protocol.TypeFriendStatus, map[string]any{
		"user_id": userID,
		"status":  string(status),
	})
	for _, fid := range u.Friends {
		s.mu.RLock()
		_, online := s.presence[fid]
		s.mu.RUnlock()
		if online {
			s.registry.SendToUser(fid, frame)
		}
	}
}
