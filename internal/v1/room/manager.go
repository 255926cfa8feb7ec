package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/metrics"
	"github.com/partyhub/server/internal/v1/protocol"
)

// LobbyChannel is the registry channel carrying room_list broadcasts.
const LobbyChannel = "lobby"

// Error taxonomy for room operations. Handlers map these onto
// {success:false, error:<message>} responses.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrWrongPassword    = errors.New("wrong password")
	ErrAlreadyInRoom    = errors.New("already in a room")
	ErrNotInRoom        = errors.New("not in this room")
	ErrNotHost          = errors.New("only the host can do that")
	ErrBadState         = errors.New("room is not in the right state")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrNotAllReady      = errors.New("not all players are ready")
	ErrUnknownGame      = errors.New("unknown game type")
	ErrTooManyRooms     = errors.New("room limit reached")
)

// Limits are the seat bounds a game type imposes on its rooms.
type Limits struct {
	MinPlayers int
	MaxPlayers int
}

// LimitsFunc resolves the seat bounds for a game type. The game catalog
// provides the production implementation.
type LimitsFunc func(gameType string) (Limits, bool)

// Manager owns all rooms and the user-to-room index.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	userRoom map[string]string // user id -> room id

	limits   LimitsFunc
	registry *gateway.Registry
	maxRooms int
}

// NewManager builds an empty room manager.
func NewManager(limits LimitsFunc, registry *gateway.Registry, maxRooms int) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		userRoom: make(map[string]string),
		limits:   limits,
		registry: registry,
		maxRooms: maxRooms,
	}
}

// CreateParams are the caller-supplied knobs for a new room.
type CreateParams struct {
	HostID          string
	HostDisplayName string
	GameType        string
	Name            string
	MaxPlayers      int
	Private         bool
	Password        string
}

// Create opens a room with the caller as host. MaxPlayers is clamped to
// the game type's bounds; zero means the game's maximum.
func (m *Manager) Create(p CreateParams) (*Room, error) {
	limits, ok := m.limits(p.GameType)
	if !ok {
		return nil, ErrUnknownGame
	}

	maxPlayers := p.MaxPlayers
	if maxPlayers == 0 || maxPlayers > limits.MaxPlayers {
		maxPlayers = limits.MaxPlayers
	}
	if maxPlayers < limits.MinPlayers {
		maxPlayers = limits.MinPlayers
	}

	name := p.Name
	if name == "" {
		name = p.HostDisplayName + "'s room"
	}

	now := time.Now()
	r := &Room{
		ID:           uuid.NewString(),
		Name:         name,
		GameType:     p.GameType,
		state:        StateWaiting,
		hostID:       p.HostID,
		MinPlayers:   limits.MinPlayers,
		MaxPlayers:   maxPlayers,
		Private:      p.Private,
		password:     p.Password,
		players:      make(map[string]*Player),
		createdAt:    now,
		lastActivity: now,
	}
	// The host is always ready; set_ready is a no-op for them.
	r.players[p.HostID] = &Player{
		UserID:      p.HostID,
		DisplayName: p.HostDisplayName,
		Slot:        0,
		Ready:       true,
		Connected:   true,
		IsHost:      true,
		joinedAt:    now,
	}

	m.mu.Lock()
	if len(m.rooms) >= m.maxRooms {
		m.mu.Unlock()
		return nil, ErrTooManyRooms
	}
	if _, inRoom := m.userRoom[p.HostID]; inRoom {
		m.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	m.rooms[r.ID] = r
	m.userRoom[p.HostID] = r.ID
	m.mu.Unlock()

	metrics.ActiveRooms.WithLabelValues(string(StateWaiting)).Inc()
	metrics.RoomPlayers.WithLabelValues(r.ID).Set(1)
	logging.Info(context.Background(), "room created",
		zap.String("room_id", r.ID), zap.String("game_type", r.GameType),
		zap.String("host_id", p.HostID))

	m.broadcastLobby()
	return r, nil
}

// Get returns the room with the given id.
func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// RoomOf returns the room the user is currently seated in.
func (m *Manager) RoomOf(userID string) (*Room, bool) {
	m.mu.RLock()
	roomID, ok := m.userRoom[userID]
	if !ok {
		m.mu.RUnlock()
		return nil, false
	}
	r, ok := m.rooms[roomID]
	m.mu.RUnlock()
	return r, ok
}

// List snapshots rooms for the lobby. gameType filters when non-empty;
// private rooms are omitted; playing rooms are included only when asked.
func (m *Manager) List(gameType string, includePlaying bool) []Info {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		info := r.Info()
		if info.Private {
			continue
		}
		if gameType != "" && info.GameType != gameType {
			continue
		}
		if !includePlaying && info.State != StateWaiting {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Join seats the user in the room.
func (m *Manager) Join(roomID, userID, displayName, password string) (*Room, error) {
	m.mu.Lock()
	if _, inRoom := m.userRoom[userID]; inRoom {
		m.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRoomNotFound
	}

	r.mu.Lock()
	switch {
	case r.state != StateWaiting:
		r.mu.Unlock()
		m.mu.Unlock()
		return nil, ErrBadState
	case len(r.players) >= r.MaxPlayers:
		r.mu.Unlock()
		m.mu.Unlock()
		return nil, ErrRoomFull
	case r.password != "" && r.password != password:
		r.mu.Unlock()
		m.mu.Unlock()
		return nil, ErrWrongPassword
	}

	slot := r.freeSlotLocked()
	r.players[userID] = &Player{
		UserID:      userID,
		DisplayName: displayName,
		Slot:        slot,
		Team:        slot % 2,
		Connected:   true,
		joinedAt:    time.Now(),
	}
	r.touchLocked()
	count := len(r.players)
	r.mu.Unlock()

	m.userRoom[userID] = roomID
	m.mu.Unlock()

	metrics.RoomPlayers.WithLabelValues(roomID).Set(float64(count))
	m.emitRoomUpdate(r, "player_joined", map[string]any{"user_id": userID})
	m.broadcastLobby()
	return r, nil
}

// Leave unseats the user. The host seat transfers to the earliest
// remaining player; an emptied room closes.
func (m *Manager) Leave(roomID, userID string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrRoomNotFound
	}

	r.mu.Lock()
	if _, seated := r.players[userID]; !seated {
		r.mu.Unlock()
		m.mu.Unlock()
		return ErrNotInRoom
	}
	wasHost := r.hostID == userID
	delete(r.players, userID)
	delete(m.userRoom, userID)
	r.touchLocked()

	var newHostID string
	if wasHost {
		if next := r.earliestPlayerLocked(); next != nil {
			next.IsHost = true
			next.Ready = true
			r.hostID = next.UserID
			newHostID = next.UserID
		}
	}

	empty := len(r.players) == 0
	count := len(r.players)
	if empty {
		prior := r.state
		r.state = StateClosed
		delete(m.rooms, roomID)
		metrics.ActiveRooms.WithLabelValues(string(prior)).Dec()
		metrics.RoomPlayers.DeleteLabelValues(roomID)
	}
	r.mu.Unlock()
	m.mu.Unlock()

	if empty {
		m.registry.DropRoom(roomID)
		logging.Info(context.Background(), "room closed, last player left",
			zap.String("room_id", roomID))
	} else {
		metrics.RoomPlayers.WithLabelValues(roomID).Set(float64(count))
		m.emitRoomUpdate(r, "player_left", map[string]any{"user_id": userID})
		if newHostID != "" {
			m.emitRoomUpdate(r, "host_changed", map[string]any{"user_id": newHostID})
		}
	}

	m.broadcastLobby()
	return nil
}

// SetReady flips the user's ready flag. A no-op for the host, whose
// seat is always ready.
func (m *Manager) SetReady(roomID, userID string, ready bool) error {
	r, ok := m.Get(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	p, seated := r.players[userID]
	if !seated {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	if r.state != StateWaiting {
		r.mu.Unlock()
		return ErrBadState
	}
	if userID == r.hostID {
		r.mu.Unlock()
		return nil
	}
	p.Ready = ready
	r.touchLocked()
	r.mu.Unlock()

	m.emitRoomUpdate(r, "player_ready", map[string]any{"user_id": userID, "ready": ready})
	return nil
}

// SetConnected marks the user's seat connected or not. Used during play,
// where a disconnect keeps the seat for the forfeit flow.
func (m *Manager) SetConnected(roomID, userID string, connected bool) {
	r, ok := m.Get(roomID)
	if !ok {
		return
	}

	r.mu.Lock()
	p, seated := r.players[userID]
	if !seated {
		r.mu.Unlock()
		return
	}
	p.Connected = connected
	r.touchLocked()
	r.mu.Unlock()

	action := "player_disconnected"
	if connected {
		action = "player_reconnected"
	}
	m.emitRoomUpdate(r, action, map[string]any{"user_id": userID})
}

// BeginStart validates a host's start request and moves the room to
// starting. The game runtime flips it to playing once the instance is up.
func (m *Manager) BeginStart(roomID, userID string) (*Room, error) {
	r, ok := m.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	r.mu.Lock()
	switch {
	case r.hostID != userID:
		r.mu.Unlock()
		return nil, ErrNotHost
	case r.state != StateWaiting:
		r.mu.Unlock()
		return nil, ErrBadState
	case len(r.players) < r.MinPlayers:
		r.mu.Unlock()
		return nil, ErrNotEnoughPlayers
	}
	for _, p := range r.players {
		if !p.Ready && p.UserID != r.hostID {
			r.mu.Unlock()
			return nil, ErrNotAllReady
		}
	}

	// Rebalance teams over the seats actually playing; slot gaps from
	// earlier departures would otherwise skew the round-robin deal.
	for i, p := range r.playersBySlotLocked() {
		p.Team = i % 2
	}

	m.transitionLocked(r, StateStarting)
	r.touchLocked()
	r.mu.Unlock()

	m.emitRoomUpdate(r, "game_starting", nil)
	return r, nil
}

// MarkPlaying moves a starting room to playing.
func (m *Manager) MarkPlaying(roomID string) {
	r, ok := m.Get(roomID)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.state == StateStarting {
		m.transitionLocked(r, StatePlaying)
		r.touchLocked()
	}
	r.mu.Unlock()

	m.broadcastLobby()
}

// EndGame returns a playing room to waiting for a rematch. Every seat
// survives, disconnected ones included, so a reconnecting player still
// finds their room and gets room_resume; the idle janitor or an explicit
// leave vacates abandoned seats later.
func (m *Manager) EndGame(roomID string) {
	r, ok := m.Get(roomID)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.state != StatePlaying && r.state != StateStarting {
		r.mu.Unlock()
		return
	}
	for id, p := range r.players {
		p.Ready = id == r.hostID
	}
	m.transitionLocked(r, StateWaiting)
	r.touchLocked()
	r.mu.Unlock()

	m.emitRoomUpdate(r, "game_ended", nil)
	m.broadcastLobby()
}

// RecordScores stamps each seat's score from the round that just ended.
func (m *Manager) RecordScores(roomID string, scores map[string]int) {
	r, ok := m.Get(roomID)
	if !ok {
		return
	}

	r.mu.Lock()
	for id, p := range r.players {
		if score, scored := scores[id]; scored {
			p.Score = score
		}
	}
	r.mu.Unlock()
}

// Close force-closes a room from any state, evicting every seat. Used
// when the runtime fails to initialize a starting room.
func (m *Manager) Close(roomID, reason string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	r.mu.Lock()
	m.transitionLocked(r, StateClosed)
	for id := range r.players {
		delete(m.userRoom, id)
	}
	r.mu.Unlock()
	delete(m.rooms, roomID)
	metrics.RoomPlayers.DeleteLabelValues(roomID)
	m.mu.Unlock()

	m.emitRoomUpdate(r, "room_closed", map[string]any{"reason": reason})
	m.registry.DropRoom(roomID)
	logging.Info(context.Background(), "room closed",
		zap.String("room_id", roomID), zap.String("reason", reason))
	m.broadcastLobby()
}

// EmitUpdate broadcasts a room_update with the given action to the room.
func (m *Manager) EmitUpdate(r *Room, action string, extra map[string]any) {
	m.emitRoomUpdate(r, action, extra)
}

// ReapIdle closes waiting rooms with no activity for longer than timeout.
func (m *Manager) ReapIdle(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	m.mu.Lock()
	idle := make([]*Room, 0)
	for _, r := range m.rooms {
		r.mu.RLock()
		if r.state == StateWaiting && r.lastActivity.Before(cutoff) {
			idle = append(idle, r)
		}
		r.mu.RUnlock()
	}
	for _, r := range idle {
		r.mu.Lock()
		m.transitionLocked(r, StateClosed)
		for id := range r.players {
			delete(m.userRoom, id)
		}
		r.mu.Unlock()
		delete(m.rooms, r.ID)
		metrics.RoomPlayers.DeleteLabelValues(r.ID)
	}
	m.mu.Unlock()

	for _, r := range idle {
		m.emitRoomUpdate(r, "room_closed", map[string]any{"reason": "idle_timeout"})
		m.registry.DropRoom(r.ID)
		logging.Info(context.Background(), "room closed after idle timeout",
			zap.String("room_id", r.ID))
	}
	if len(idle) > 0 {
		m.broadcastLobby()
	}
	return len(idle)
}

// RunJanitor sweeps for idle rooms until ctx is cancelled.
func (m *Manager) RunJanitor(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(timeout)
		}
	}
}

// RoomCount returns the number of open rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// transitionLocked moves the room between states and keeps the per-state
// gauge consistent. Callers hold the room lock.
func (m *Manager) transitionLocked(r *Room, next State) {
	metrics.ActiveRooms.WithLabelValues(string(r.state)).Dec()
	if next != StateClosed {
		metrics.ActiveRooms.WithLabelValues(string(next)).Inc()
	}
	r.state = next
}

func (m *Manager) emitRoomUpdate(r *Room, action string, extra map[string]any) {
	fields := map[string]any{
		"action": action,
		"room":   r.Info(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	m.registry.SendToRoom(r.ID, protocol.NewOutbound(protocol.TypeRoomUpdate, fields))
}

// broadcastLobby pushes the public waiting-room list to lobby subscribers.
func (m *Manager) broadcastLobby() {
	m.registry.SendToChannel(LobbyChannel, protocol.NewOutbound(protocol.TypeRoomList, map[string]any{
		"rooms": m.List("", false),
	}))
}
