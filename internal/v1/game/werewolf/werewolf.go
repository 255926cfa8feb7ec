// Package werewolf implements social deduction for six to twelve
// players. A quarter of the village are wolves plus one seer; phases
// advance on a clock driven by the runtime tick, and the shared snapshot
// never leaks a living player's role.
package werewolf

import (
	"math/rand"

	"github.com/partyhub/server/internal/v1/game"
)

// Roles.
const (
	RoleVillager = "villager"
	RoleWerewolf = "werewolf"
	RoleSeer     = "seer"
)

// Phases. Day is discussion only; lynch votes open in the vote phase.
const (
	PhaseNight = "night"
	PhaseDay   = "day"
	PhaseVote  = "vote"
)

// Phase lengths in seconds.
const (
	nightSeconds = 30
	daySeconds   = 60
	voteSeconds  = 30
)

// Register adds werewolf to the catalog. The 1 Hz tick drives the phase
// clock; clients get a full snapshot each second.
func Register(c *game.Catalog) {
	c.Register(game.Spec{
		Name:       "werewolf",
		MinPlayers: 6,
		MaxPlayers: 12,
		TickRate:   1,
		SyncMode:   game.SyncState,
	}, New)
}

type villager struct {
	userID string
	role   string
	alive  bool
}

// Werewolf is one live game.
type Werewolf struct {
	players []*villager
	byID    map[string]*villager

	phase    string
	timeLeft float64
	day      int

	votes map[string]string // voter -> target, meaning depends on phase

	// lastDeaths and revealed feed the shared snapshot.
	lastDeaths []map[string]any
	revealed   map[string]string

	result *game.Result
}

// New deals roles: max(1, n/4) wolves, one seer, villagers for the rest.
func New(seats []game.Seat, rng *rand.Rand) game.Instance {
	n := len(seats)
	wolves := n / 4
	if wolves < 1 {
		wolves = 1
	}

	roles := make([]string, 0, n)
	for i := 0; i < wolves; i++ {
		roles = append(roles, RoleWerewolf)
	}
	roles = append(roles, RoleSeer)
	for len(roles) < n {
		roles = append(roles, RoleVillager)
	}
	rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })

	w := &Werewolf{
		byID:     make(map[string]*villager, n),
		phase:    PhaseNight,
		timeLeft: nightSeconds,
		day:      1,
		votes:    make(map[string]string),
		revealed: make(map[string]string),
	}
	for i, s := range seats {
		v := &villager{userID: s.UserID, role: roles[i], alive: true}
		w.players = append(w.players, v)
		w.byID[s.UserID] = v
	}
	return w
}

func (w *Werewolf) InitPayload() map[string]any {
	ids := make([]string, len(w.players))
	for i, v := range w.players {
		ids[i] = v.userID
	}
	return map[string]any{
		"players":       ids,
		"phase":         w.phase,
		"night_seconds": nightSeconds,
		"day_seconds":   daySeconds,
		"vote_seconds":  voteSeconds,
	}
}

// PrivateInit deals each player their role; wolves also learn the pack.
func (w *Werewolf) PrivateInit(userID string) map[string]any {
	v, ok := w.byID[userID]
	if !ok {
		return nil
	}
	priv := map[string]any{"role": v.role}
	if v.role == RoleWerewolf {
		pack := make([]string, 0)
		for _, other := range w.players {
			if other.role == RoleWerewolf && other.userID != userID {
				pack = append(pack, other.userID)
			}
		}
		priv["pack"] = pack
	}
	return priv
}

func (w *Werewolf) ProcessAction(userID, action string, data map[string]any) game.Outcome {
	if w.result != nil {
		return game.Reject("game is over")
	}
	v, ok := w.byID[userID]
	if !ok {
		return game.Reject("not a player")
	}
	if !v.alive {
		return game.Reject("the dead do not speak")
	}

	target, _ := game.StringField(data, "target")
	tv, targetOK := w.byID[target]
	if !targetOK || !tv.alive {
		return game.Reject("invalid target")
	}

	switch {
	case action == "vote" && w.phase == PhaseVote:
		w.votes[userID] = target
		return game.Accept()

	case action == "kill" && w.phase == PhaseNight && v.role == RoleWerewolf:
		w.votes[userID] = target
		return game.Accept()

	case action == "inspect" && w.phase == PhaseNight && v.role == RoleSeer:
		out := game.Accept()
		out.Reply = map[string]any{
			"target": target,
			"wolf":   tv.role == RoleWerewolf,
		}
		return out
	}
	return game.Reject("action not allowed now")
}

// Update advances the phase clock and resolves a phase when it expires.
func (w *Werewolf) Update(dt float64) {
	if w.result != nil {
		return
	}
	w.timeLeft -= dt
	if w.timeLeft > 0 {
		return
	}

	switch w.phase {
	case PhaseNight:
		w.resolveNight()
		w.phase = PhaseDay
		w.timeLeft = daySeconds
	case PhaseDay:
		w.phase = PhaseVote
		w.timeLeft = voteSeconds
	default:
		w.resolveDay()
		w.phase = PhaseNight
		w.timeLeft = nightSeconds
		w.day++
	}
	w.votes = make(map[string]string)
	w.checkEnd()
}

func (w *Werewolf) resolveNight() {
	w.lastDeaths = nil
	if victim := w.plurality(); victim != "" {
		w.kill(victim, "eaten")
	}
}

func (w *Werewolf) resolveDay() {
	w.lastDeaths = nil
	if lynched := w.plurality(); lynched != "" {
		w.kill(lynched, "lynched")
	}
}

// plurality returns the most-voted target, or "" on a tie or no votes.
func (w *Werewolf) plurality() string {
	tally := make(map[string]int)
	for _, target := range w.votes {
		tally[target]++
	}

	best, bestCount, tied := "", 0, false
	for target, count := range tally {
		switch {
		case count > bestCount:
			best, bestCount, tied = target, count, false
		case count == bestCount:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return best
}

func (w *Werewolf) kill(userID, cause string) {
	v := w.byID[userID]
	if v == nil || !v.alive {
		return
	}
	v.alive = false
	w.revealed[userID] = v.role
	w.lastDeaths = append(w.lastDeaths, map[string]any{
		"user_id": userID,
		"role":    v.role,
		"cause":   cause,
	})
}

func (w *Werewolf) checkEnd() {
	wolves, others := 0, 0
	for _, v := range w.players {
		if !v.alive {
			continue
		}
		if v.role == RoleWerewolf {
			wolves++
		} else {
			others++
		}
	}

	switch {
	case wolves == 0:
		w.result = &game.Result{Winners: w.side(false), Reason: "wolves_eliminated"}
	case wolves >= others:
		w.result = &game.Result{Winners: w.side(true), Reason: "wolves_outnumber"}
	}
}

// side collects user ids on the wolf or village side, dead or alive.
func (w *Werewolf) side(wolf bool) []string {
	out := make([]string, 0)
	for _, v := range w.players {
		if (v.role == RoleWerewolf) == wolf {
			out = append(out, v.userID)
		}
	}
	return out
}

// Snapshot is the shared per-tick state. Living roles stay hidden.
func (w *Werewolf) Snapshot() map[string]any {
	alive := make([]string, 0, len(w.players))
	for _, v := range w.players {
		if v.alive {
			alive = append(alive, v.userID)
		}
	}
	return map[string]any{
		"phase":     w.phase,
		"day":       w.day,
		"time_left": int(w.timeLeft),
		"alive":     alive,
		"deaths":    w.lastDeaths,
		"revealed":  w.revealed,
	}
}

// HandleDisconnect removes the player from the village.
func (w *Werewolf) HandleDisconnect(userID string) map[string]any {
	if w.result != nil {
		return nil
	}
	v, ok := w.byID[userID]
	if !ok || !v.alive {
		return nil
	}

	w.kill(userID, "left")
	w.checkEnd()
	return map[string]any{
		"event":   "player_left",
		"user_id": userID,
		"role":    v.role,
	}
}

func (w *Werewolf) Finished() bool       { return w.result != nil }
func (w *Werewolf) Result() *game.Result { return w.result }
