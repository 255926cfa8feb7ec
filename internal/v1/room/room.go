// Package room owns the lobby: room lifecycle, membership, readiness,
// host transfer, and the room_update / room_list fan-out that keeps
// clients in sync.
package room

import (
	"sync"
	"time"
)

// State is a room lifecycle state.
type State string

const (
	StateWaiting  State = "waiting"
	StateStarting State = "starting"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
	StateClosed   State = "closed"
)

// Player is one seat in a room. Team is dealt round-robin and rebalanced
// at game start; Score carries the seat's result from the last round.
type Player struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Slot        int    `json:"slot"`
	Team        int    `json:"team"`
	Ready       bool   `json:"ready"`
	Connected   bool   `json:"connected"`
	IsHost      bool   `json:"is_host"`
	Score       int    `json:"score"`

	joinedAt time.Time
}

// Room is one lobby room. The manager's lock guards the rooms map; each
// room's own lock guards its members and state.
type Room struct {
	mu sync.RWMutex

	ID       string
	Name     string
	GameType string
	state    State
	hostID   string

	MinPlayers int
	MaxPlayers int
	Private    bool
	password   string

	players map[string]*Player

	createdAt    time.Time
	lastActivity time.Time
}

// Info is the wire snapshot of a room.
type Info struct {
	RoomID      string   `json:"room_id"`
	Name        string   `json:"name"`
	GameType    string   `json:"game_type"`
	State       State    `json:"state"`
	HostID      string   `json:"host_id"`
	MinPlayers  int      `json:"min_players"`
	MaxPlayers  int      `json:"max_players"`
	PlayerCount int      `json:"player_count"`
	Private     bool     `json:"private"`
	Players     []Player `json:"players"`
}

// State returns the room's lifecycle state.
func (r *Room) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// HostID returns the current host's user id.
func (r *Room) HostID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID
}

// Has reports whether the user holds a seat in the room.
func (r *Room) Has(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.players[userID]
	return ok
}

// PlayerCount returns the number of seated players.
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// PlayerIDs returns seated user ids ordered by slot.
func (r *Room) PlayerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.players))
	for _, p := range r.playersBySlotLocked() {
		out = append(out, p.UserID)
	}
	return out
}

// Players returns seat snapshots ordered by slot.
func (r *Room) Players() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Player, 0, len(r.players))
	for _, p := range r.playersBySlotLocked() {
		out = append(out, *p)
	}
	return out
}

// Info snapshots the room for the wire.
func (r *Room) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make([]Player, 0, len(r.players))
	for _, p := range r.playersBySlotLocked() {
		players = append(players, *p)
	}
	return Info{
		RoomID:      r.ID,
		Name:        r.Name,
		GameType:    r.GameType,
		State:       r.state,
		HostID:      r.hostID,
		MinPlayers:  r.MinPlayers,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: len(r.players),
		Private:     r.Private,
		Players:     players,
	}
}

// touch refreshes the idle clock. Callers hold the room lock.
func (r *Room) touchLocked() {
	r.lastActivity = time.Now()
}

// playersBySlotLocked returns players ordered by slot. Callers hold at
// least the read lock.
func (r *Room) playersBySlotLocked() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Slot < out[j-1].Slot; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// freeSlotLocked returns the smallest non-negative slot not in use.
func (r *Room) freeSlotLocked() int {
	for slot := 0; ; slot++ {
		taken := false
		for _, p := range r.players {
			if p.Slot == slot {
				taken = true
				break
			}
		}
		if !taken {
			return slot
		}
	}
}

// earliestPlayerLocked returns the remaining player who joined first.
func (r *Room) earliestPlayerLocked() *Player {
	var earliest *Player
	for _, p := range r.players {
		if earliest == nil || p.joinedAt.Before(earliest.joinedAt) {
			earliest = p
		}
	}
	return earliest
}
