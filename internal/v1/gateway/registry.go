package gateway

import (
	"context"
	"errors"
	"time"

	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/metrics"
	"github.com/partyhub/server/internal/v1/protocol"
)

// ErrAtCapacity is returned by Register when the connection cap is hit.
// The caller rejects the transport with close code 1013.
var ErrAtCapacity = errors.New("server at connection capacity")

// Registry tracks open sessions and the user, room, and channel fan-out
// sets. It is the sole writer of those mappings; one mutex guards all of
// them. Sends snapshot the recipient set under the lock and write after
// releasing it, so a slow transport never stalls the registry.
type Registry struct {
	mu              sync.Mutex
	sessions        map[string]*Session
	userSessions    map[string]string // user id -> session id (unique)
	roomSessions    map[string]set.Set[string]
	channelSessions map[string]set.Set[string]
	maxConnections  int
}

// NewRegistry builds an empty registry with the given connection cap.
func NewRegistry(maxConnections int) *Registry {
	return &Registry{
		sessions:        make(map[string]*Session),
		userSessions:    make(map[string]string),
		roomSessions:    make(map[string]set.Set[string]),
		channelSessions: make(map[string]set.Set[string]),
		maxConnections:  maxConnections,
	}
}

// Register wraps a transport in a fresh Session and inserts it.
func (r *Registry) Register(conn Conn, onClose func(*Session)) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxConnections {
		return nil, ErrAtCapacity
	}

	s := newSession(conn)
	s.onClose = onClose
	r.sessions[s.ID] = s
	metrics.IncConnection()
	return s, nil
}

// BindUser attaches a user identity to the session. If the user already
// has a live session elsewhere, that session is told it was replaced and
// its transport is closed with code 1001.
func (r *Registry) BindUser(s *Session, userID string) {
	r.mu.Lock()
	prior, hadPrior := r.lookupUserSessionLocked(userID)
	if hadPrior && prior.ID == s.ID {
		r.mu.Unlock()
		return
	}
	r.userSessions[userID] = s.ID
	s.bindUser(userID)
	r.mu.Unlock()

	if hadPrior {
		logging.Info(context.Background(), "replacing prior session for user",
			zap.String("user_id", userID), zap.String("prior_session", prior.ID))
		r.sendToSession(prior, protocol.ErrorFrame(protocol.CodeSessionReplaced, "logged in elsewhere"))
		prior.clearUser()
		prior.CloseWithCode(protocol.CodeSessionReplaced, "logged in elsewhere")
	}
}

// UnbindUser clears the session's user mapping if it still owns it.
func (r *Registry) UnbindUser(s *Session) {
	userID := s.UserID()
	if userID == "" {
		return
	}

	r.mu.Lock()
	if r.userSessions[userID] == s.ID {
		delete(r.userSessions, userID)
	}
	r.mu.Unlock()
	s.clearUser()
}

// Unregister removes the session from every mapping. The transport is
// assumed closed or closing.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, s.ID)
	if uid := s.UserID(); uid != "" && r.userSessions[uid] == s.ID {
		delete(r.userSessions, uid)
	}
	for roomID, members := range r.roomSessions {
		members.Delete(s.ID)
		if members.Len() == 0 {
			delete(r.roomSessions, roomID)
		}
	}
	for channel, members := range r.channelSessions {
		members.Delete(s.ID)
		if members.Len() == 0 {
			delete(r.channelSessions, channel)
		}
	}
}

// JoinRoom adds the session to a room's connection group.
func (r *Registry) JoinRoom(roomID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roomSessions[roomID]
	if !ok {
		members = set.New[string]()
		r.roomSessions[roomID] = members
	}
	members.Insert(s.ID)
}

// LeaveRoom removes the session from a room's connection group.
func (r *Registry) LeaveRoom(roomID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.roomSessions[roomID]; ok {
		members.Delete(s.ID)
		if members.Len() == 0 {
			delete(r.roomSessions, roomID)
		}
	}
}

// DropRoom removes a room's whole connection group.
func (r *Registry) DropRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roomSessions, roomID)
}

// Subscribe adds the session to a named channel.
func (r *Registry) Subscribe(channel string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channelSessions[channel]
	if !ok {
		members = set.New[string]()
		r.channelSessions[channel] = members
	}
	members.Insert(s.ID)
}

// Unsubscribe removes the session from a named channel.
func (r *Registry) Unsubscribe(channel string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.channelSessions[channel]; ok {
		members.Delete(s.ID)
		if members.Len() == 0 {
			delete(r.channelSessions, channel)
		}
	}
}

// UnsubscribeAll removes the session from every channel.
func (r *Registry) UnsubscribeAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channel, members := range r.channelSessions {
		members.Delete(s.ID)
		if members.Len() == 0 {
			delete(r.channelSessions, channel)
		}
	}
}

// SessionForUser returns the live session bound to the user, if any.
func (r *Registry) SessionForUser(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupUserSessionLocked(userID)
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SendToUser serializes once and writes to the user's session, if online.
func (r *Registry) SendToUser(userID string, out *protocol.Outbound) bool {
	r.mu.Lock()
	s, ok := r.lookupUserSessionLocked(userID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.sendToSession(s, out)
}

// SendToRoom fans the frame out to every session in the room's group.
func (r *Registry) SendToRoom(roomID string, out *protocol.Outbound) {
	r.fanOut(r.snapshotRoom(roomID), out)
}

// SendToChannel fans the frame out to every channel subscriber.
func (r *Registry) SendToChannel(channel string, out *protocol.Outbound) {
	r.fanOut(r.snapshotChannel(channel), out)
}

// Broadcast fans the frame out to every authenticated session.
func (r *Registry) Broadcast(out *protocol.Outbound) {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.userSessions))
	for _, sid := range r.userSessions {
		if s, ok := r.sessions[sid]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	r.fanOut(targets, out)
}

// Reap closes sessions whose last heartbeat is older than timeout.
// Closing the transport triggers each session's normal disconnect flow.
func (r *Registry) Reap(timeout time.Duration) int {
	r.mu.Lock()
	stale := make([]*Session, 0)
	cutoff := time.Now().Add(-timeout)
	for _, s := range r.sessions {
		if s.LastHeartbeat().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		logging.Info(context.Background(), "reaping session after heartbeat timeout",
			zap.String("session_id", s.ID), zap.String("user_id", s.UserID()))
		s.Close()
	}
	return len(stale)
}

// RunReaper sweeps for stale sessions until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(timeout)
		}
	}
}

// Shutdown closes every live session with a going-away frame.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.CloseWithCode(1001, "server shutting down")
	}
}

func (r *Registry) lookupUserSessionLocked(userID string) (*Session, bool) {
	sid, ok := r.userSessions[userID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[sid]
	return s, ok
}

func (r *Registry) snapshotRoom(roomID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roomSessions[roomID]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, members.Len())
	for _, sid := range members.UnsortedList() {
		if s, ok := r.sessions[sid]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) snapshotChannel(channel string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channelSessions[channel]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, members.Len())
	for _, sid := range members.UnsortedList() {
		if s, ok := r.sessions[sid]; ok {
			out = append(out, s)
		}
	}
	return out
}

// fanOut serializes once and writes to each recipient. Per-session
// failures are logged inside SendRaw and never abort the loop.
func (r *Registry) fanOut(targets []*Session, out *protocol.Outbound) {
	if len(targets) == 0 {
		return
	}
	data, err := out.Marshal()
	if err != nil {
		logging.Error(context.Background(), "marshal outbound frame",
			zap.String("type", out.Type), zap.Error(err))
		return
	}
	for _, s := range targets {
		s.SendRaw(data)
	}
}

func (r *Registry) sendToSession(s *Session, out *protocol.Outbound) bool {
	data, err := out.Marshal()
	if err != nil {
		logging.Error(context.Background(), "marshal outbound frame",
			zap.String("type", out.Type), zap.Error(err))
		return false
	}
	s.SendRaw(data)
	return true
}
