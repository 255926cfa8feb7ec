// Package game hosts the authoritative game runtime: the per-game-type
// catalog, the instance contract every variant implements, and the runner
// that drives instances with actions and ticks.
package game

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/partyhub/server/internal/v1/room"
)

// Sync modes. Event games broadcast on accepted actions, state games
// broadcast a full snapshot per tick, frame games broadcast per tick
// with a monotonically increasing frame id.
const (
	SyncEvent = "event"
	SyncState = "state"
	SyncFrame = "frame"
)

// Seat is one player handed to a factory at game start, ordered by slot.
// Team carries the room's team deal for team-based games.
type Seat struct {
	UserID      string
	DisplayName string
	Slot        int
	Team        int
}

// Outcome is the result of one processed action.
type Outcome struct {
	OK    bool
	Error string

	// Reply goes only to the acting player on game_action_response.
	Reply map[string]any

	// Events are broadcast to the room as game_action frames, in order,
	// after the reply. The "event" key becomes the frame's "action".
	Events []map[string]any
}

// Reject builds a failed outcome with the given reason.
func Reject(reason string) Outcome {
	return Outcome{Error: reason}
}

// Accept builds a successful outcome.
func Accept() Outcome {
	return Outcome{OK: true}
}

// Result is the terminal summary of a finished game.
type Result struct {
	Winners []string       `json:"winners"`
	Scores  map[string]int `json:"scores,omitempty"`
	Reason  string         `json:"reason"`
}

// Instance is one live game. The runner serializes all calls on a
// per-room mutex; implementations need no locking of their own.
type Instance interface {
	// InitPayload is the shared state broadcast on game_start.
	InitPayload() map[string]any

	// PrivateInit is per-player hidden state sent only to that player,
	// or nil when the game has none.
	PrivateInit(userID string) map[string]any

	// ProcessAction applies one player action.
	ProcessAction(userID, action string, data map[string]any) Outcome

	// Update advances time by dt seconds. Only called when the game
	// type has a non-zero tick rate.
	Update(dt float64)

	// Snapshot is the full shared state, broadcast per tick for state
	// and frame games.
	Snapshot() map[string]any

	// HandleDisconnect reacts to a player dropping mid-game. A non-nil
	// return is broadcast to the room.
	HandleDisconnect(userID string) map[string]any

	// Finished reports whether the game has ended; Result is non-nil
	// once it has.
	Finished() bool
	Result() *Result
}

// Factory builds a fresh instance for the given seats.
type Factory func(seats []Seat, rng *rand.Rand) Instance

// Spec describes one game type in the catalog.
type Spec struct {
	Name       string `yaml:"name"`
	MinPlayers int    `yaml:"min_players"`
	MaxPlayers int    `yaml:"max_players"`
	TickRate   int    `yaml:"tick_rate"`
	SyncMode   string `yaml:"sync_mode"`

	factory Factory
}

// Catalog is the registry of playable game types.
type Catalog struct {
	specs           map[string]Spec
	defaultTickRate int
}

// NewCatalog returns an empty catalog. defaultTickRate is applied to
// ticked games that register without an explicit rate.
func NewCatalog(defaultTickRate int) *Catalog {
	return &Catalog{specs: make(map[string]Spec), defaultTickRate: defaultTickRate}
}

// Register adds or replaces a game type.
func (c *Catalog) Register(spec Spec, factory Factory) {
	if spec.TickRate == 0 && spec.SyncMode != SyncEvent {
		spec.TickRate = c.defaultTickRate
	}
	spec.factory = factory
	c.specs[spec.Name] = spec
}

// Get returns the spec for a game type.
func (c *Catalog) Get(name string) (Spec, bool) {
	s, ok := c.specs[name]
	return s, ok
}

// Names lists registered game types.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.specs))
	for name := range c.specs {
		out = append(out, name)
	}
	return out
}

// Limits adapts the catalog to the room manager's seat-bounds lookup.
func (c *Catalog) Limits(name string) (room.Limits, bool) {
	s, ok := c.specs[name]
	if !ok {
		return room.Limits{}, false
	}
	return room.Limits{MinPlayers: s.MinPlayers, MaxPlayers: s.MaxPlayers}, true
}

// overrideSpec is one entry of the catalog override file. Zero fields
// keep the built-in value.
type overrideSpec struct {
	MinPlayers int `yaml:"min_players"`
	MaxPlayers int `yaml:"max_players"`
	TickRate   int `yaml:"tick_rate"`
}

// ApplyOverrides layers a YAML file of per-game knobs over the built-in
// catalog. Unknown game names are an error; sync modes are not tunable.
func (c *Catalog) ApplyOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog overrides: %w", err)
	}

	overrides := make(map[string]overrideSpec)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse catalog overrides: %w", err)
	}

	for name, o := range overrides {
		spec, ok := c.specs[name]
		if !ok {
			return fmt.Errorf("catalog override for unknown game %q", name)
		}
		if o.MinPlayers > 0 {
			spec.MinPlayers = o.MinPlayers
		}
		if o.MaxPlayers > 0 {
			spec.MaxPlayers = o.MaxPlayers
		}
		if o.TickRate > 0 {
			spec.TickRate = o.TickRate
		}
		if spec.MinPlayers > spec.MaxPlayers {
			return fmt.Errorf("catalog override for %q: min_players > max_players", name)
		}
		c.specs[name] = spec
	}
	return nil
}
