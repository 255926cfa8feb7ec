package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/auth"
	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/metrics"
	"github.com/partyhub/server/internal/v1/protocol"
	"github.com/partyhub/server/internal/v1/room"
	"github.com/partyhub/server/internal/v1/user"
)

var (
	ErrNoGame      = errors.New("no game running in this room")
	ErrNotInGame   = errors.New("not a player in this game")
	ErrGameRunning = errors.New("a game is already running in this room")
	ErrUnknownGame = errors.New("unknown game type")
)

// Progression rewards applied when a game ends.
const (
	winCoins    = 100
	winExp      = 50
	loseCoins   = 20
	loseExp     = 10
	ratingSwing = 25
	expPerLevel = 1000
)

// running is one live game bound to a room. Its mutex serializes every
// touch of the instance: actions, ticks, disconnects, and the end path.
type running struct {
	mu sync.Mutex

	roomID  string
	spec    Spec
	inst    Instance
	seats   []Seat
	frameID uint64
	cancel  context.CancelFunc
	ended   bool
}

// Runner starts, drives, and ends game instances.
type Runner struct {
	mu    sync.Mutex
	games map[string]*running // room id -> game

	catalog  *Catalog
	rooms    *room.Manager
	registry *gateway.Registry
	store    auth.Store
	presence *user.Service
}

// NewRunner wires a runner over its collaborators.
func NewRunner(catalog *Catalog, rooms *room.Manager, registry *gateway.Registry,
	store auth.Store, presence *user.Service) *Runner {
	return &Runner{
		games:    make(map[string]*running),
		catalog:  catalog,
		rooms:    rooms,
		registry: registry,
		store:    store,
		presence: presence,
	}
}

// Launch builds an instance for a starting room, announces game_start,
// and kicks off the tick loop when the game type has one. The room must
// already be in the starting state.
func (rn *Runner) Launch(r *room.Room) error {
	spec, ok := rn.catalog.Get(r.GameType)
	if !ok {
		return ErrUnknownGame
	}

	seats := make([]Seat, 0, r.PlayerCount())
	for _, p := range r.Players() {
		seats = append(seats, Seat{UserID: p.UserID, DisplayName: p.DisplayName, Slot: p.Slot, Team: p.Team})
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	g := &running{
		roomID: r.ID,
		spec:   spec,
		inst:   spec.factory(seats, rng),
		seats:  seats,
	}

	rn.mu.Lock()
	if _, exists := rn.games[r.ID]; exists {
		rn.mu.Unlock()
		return ErrGameRunning
	}
	rn.games[r.ID] = g
	rn.mu.Unlock()

	rn.rooms.MarkPlaying(r.ID)
	for _, s := range seats {
		rn.presence.SetStatus(s.UserID, user.StatusInGame, r.ID, r.GameType)
	}
	metrics.RunningGames.WithLabelValues(spec.Name).Inc()
	logging.Info(context.Background(), "game launched",
		zap.String("room_id", r.ID), zap.String("game_type", spec.Name),
		zap.Int("players", len(seats)))

	rn.announceStart(g)

	if spec.TickRate > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		g.cancel = cancel
		go rn.tickLoop(ctx, g)
	}
	return nil
}

// HandleAction routes one game_action to the room's instance. The reply
// reaches the actor before any broadcast the action produced.
func (rn *Runner) HandleAction(roomID, userID, action string, data map[string]any) error {
	g, ok := rn.get(roomID)
	if !ok {
		return ErrNoGame
	}
	if !rn.seated(g, userID) {
		return ErrNotInGame
	}

	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return ErrNoGame
	}
	outcome := g.inst.ProcessAction(userID, action, data)
	finished := g.inst.Finished()
	var result *Result
	if finished {
		result = g.inst.Result()
		g.ended = true
	}
	var syncState map[string]any
	if outcome.OK && g.spec.SyncMode == SyncEvent && !finished {
		syncState = g.inst.Snapshot()
	}
	g.mu.Unlock()

	reply := map[string]any{
		"action":  action,
		"success": outcome.OK,
	}
	if outcome.Error != "" {
		reply["error"] = outcome.Error
	}
	for k, v := range outcome.Reply {
		reply[k] = v
	}
	rn.registry.SendToUser(userID, protocol.NewOutbound(protocol.TypeGameActionResponse, reply))

	for _, ev := range outcome.Events {
		rn.registry.SendToRoom(roomID, protocol.NewOutbound(protocol.TypeGameAction, eventFields(ev)))
	}
	if syncState != nil {
		rn.registry.SendToRoom(roomID, protocol.NewOutbound(protocol.TypeGameSync, map[string]any{
			"state": syncState,
		}))
	}

	if finished {
		rn.finish(g, result)
	}
	return nil
}

// HandleDisconnect tells the room's instance a player dropped. Games
// decide themselves whether that forfeits.
func (rn *Runner) HandleDisconnect(roomID, userID string) {
	g, ok := rn.get(roomID)
	if !ok || !rn.seated(g, userID) {
		return
	}

	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return
	}
	fields := g.inst.HandleDisconnect(userID)
	finished := g.inst.Finished()
	var result *Result
	if finished {
		result = g.inst.Result()
		g.ended = true
	}
	g.mu.Unlock()

	if fields != nil {
		out := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			out[k] = v
		}
		if _, set := out["action"]; !set {
			out["action"] = "player_disconnected"
		}
		rn.registry.SendToRoom(roomID, protocol.NewOutbound(protocol.TypeGameAction, out))
	}
	if finished {
		rn.finish(g, result)
	}
}

// Resume replays game_start and the player's private state to one
// session after a reconnect. The caller sends room_resume first.
func (rn *Runner) Resume(sess *gateway.Session, roomID, userID string) {
	g, ok := rn.get(roomID)
	if !ok || !rn.seated(g, userID) {
		return
	}

	g.mu.Lock()
	startFields := rn.startFields(g)
	priv := g.inst.PrivateInit(userID)
	snapshot := g.inst.Snapshot()
	frameID := g.frameID
	g.mu.Unlock()

	rn.sendToSession(sess, protocol.NewOutbound(protocol.TypeGameStart, startFields))
	if priv != nil {
		rn.sendToSession(sess, protocol.NewOutbound(protocol.TypeGameSync, map[string]any{
			"state":   priv,
			"private": true,
		}))
	}
	syncFields := map[string]any{"state": snapshot}
	if g.spec.TickRate > 0 {
		syncFields["frame_id"] = frameID
	}
	rn.sendToSession(sess, protocol.NewOutbound(protocol.TypeGameSync, syncFields))
}

// Running reports whether a game is live in the room.
func (rn *Runner) Running(roomID string) bool {
	_, ok := rn.get(roomID)
	return ok
}

// tickLoop drives the instance at the catalog tick rate until the game
// ends or the loop is cancelled. Ticks never overlap: each one holds the
// game mutex for its whole body.
func (rn *Runner) tickLoop(ctx context.Context, g *running) {
	interval := time.Second / time.Duration(g.spec.TickRate)
	dt := interval.Seconds()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()

		g.mu.Lock()
		if g.ended {
			g.mu.Unlock()
			return
		}
		g.inst.Update(dt)
		g.frameID++
		frameID := g.frameID
		snapshot := g.inst.Snapshot()
		finished := g.inst.Finished()
		var result *Result
		if finished {
			result = g.inst.Result()
			g.ended = true
		}
		g.mu.Unlock()

		rn.registry.SendToRoom(g.roomID, protocol.NewOutbound(protocol.TypeGameSync, map[string]any{
			"state":    snapshot,
			"frame_id": frameID,
		}))

		metrics.TickDuration.WithLabelValues(g.spec.Name).Observe(time.Since(start).Seconds())

		if finished {
			rn.finish(g, result)
			return
		}
	}
}

// finish runs the end-of-game path exactly once: stop ticking, announce
// game_end, settle progression, and hand the room back to the lobby.
func (rn *Runner) finish(g *running, result *Result) {
	if g.cancel != nil {
		g.cancel()
	}

	rn.mu.Lock()
	delete(rn.games, g.roomID)
	rn.mu.Unlock()

	if result == nil {
		result = &Result{Reason: "aborted"}
	}

	// The announcement carries the rewards each seat is about to get,
	// so it goes out before the store is touched.
	rewards := rn.computeRewards(g, result)
	winner := ""
	if len(result.Winners) > 0 {
		winner = result.Winners[0]
	}
	fields := map[string]any{
		"winner":  winner,
		"winners": result.Winners,
		"reason":  result.Reason,
		"stats":   rewards,
	}
	if result.Scores != nil {
		fields["scores"] = result.Scores
	}
	rn.registry.SendToRoom(g.roomID, protocol.NewOutbound(protocol.TypeGameEnd, fields))

	rn.settle(g, rewards)
	if result.Scores != nil {
		rn.rooms.RecordScores(g.roomID, result.Scores)
	}

	for _, s := range g.seats {
		rn.presence.SetStatus(s.UserID, user.StatusInRoom, g.roomID, "")
	}
	rn.rooms.EndGame(g.roomID)

	metrics.RunningGames.WithLabelValues(g.spec.Name).Dec()
	logging.Info(context.Background(), "game finished",
		zap.String("room_id", g.roomID), zap.String("game_type", g.spec.Name),
		zap.Strings("winners", result.Winners), zap.String("reason", result.Reason))
}

// reward is one seat's settlement from a finished game. Rating is the
// signed swing, applied with a floor of zero.
type reward struct {
	Coins  int  `json:"coins"`
	Exp    int  `json:"exp"`
	Rating int  `json:"rating"`
	Won    bool `json:"won"`
}

// computeRewards maps each seat to its settlement for the result.
func (rn *Runner) computeRewards(g *running, result *Result) map[string]reward {
	won := make(map[string]bool, len(result.Winners))
	for _, id := range result.Winners {
		won[id] = true
	}

	out := make(map[string]reward, len(g.seats))
	for _, s := range g.seats {
		if won[s.UserID] {
			out[s.UserID] = reward{Coins: winCoins, Exp: winExp, Rating: ratingSwing, Won: true}
		} else {
			out[s.UserID] = reward{Coins: loseCoins, Exp: loseExp, Rating: -ratingSwing}
		}
	}
	return out
}

// settle applies stats, coins, exp, and rating for every seat.
func (rn *Runner) settle(g *running, rewards map[string]reward) {
	for _, s := range g.seats {
		rw := rewards[s.UserID]
		err := rn.store.Update(s.UserID, func(u *auth.User) {
			u.GamesPlayed++
			if rw.Won {
				u.GamesWon++
			}
			u.Coins += rw.Coins
			u.Exp += rw.Exp
			if u.Rating+rw.Rating > 0 {
				u.Rating += rw.Rating
			} else {
				u.Rating = 0
			}
			u.Level = 1 + u.Exp/expPerLevel
		})
		if err != nil {
			logging.Warn(context.Background(), "settling player failed",
				zap.String("user_id", s.UserID), zap.Error(err))
		}
	}
}

// announceStart broadcasts game_start, then each player's private state.
func (rn *Runner) announceStart(g *running) {
	g.mu.Lock()
	startFields := rn.startFields(g)
	privates := make(map[string]map[string]any)
	for _, s := range g.seats {
		if priv := g.inst.PrivateInit(s.UserID); priv != nil {
			privates[s.UserID] = priv
		}
	}
	g.mu.Unlock()

	rn.registry.SendToRoom(g.roomID, protocol.NewOutbound(protocol.TypeGameStart, startFields))
	for userID, priv := range privates {
		rn.registry.SendToUser(userID, protocol.NewOutbound(protocol.TypeGameSync, map[string]any{
			"state":   priv,
			"private": true,
		}))
	}
}

// startFields builds the game_start envelope body. Callers hold g.mu.
func (rn *Runner) startFields(g *running) map[string]any {
	players := make([]map[string]any, 0, len(g.seats))
	for _, s := range g.seats {
		players = append(players, map[string]any{
			"user_id":      s.UserID,
			"display_name": s.DisplayName,
			"slot":         s.Slot,
			"team":         s.Team,
		})
	}
	return map[string]any{
		"room_id":   g.roomID,
		"game_type": g.spec.Name,
		"tick_rate": g.spec.TickRate,
		"sync_mode": g.spec.SyncMode,
		"players":   players,
		"state":     g.inst.InitPayload(),
	}
}

// eventFields shapes an instance event for a game_action broadcast,
// promoting the event name to the frame's action.
func eventFields(ev map[string]any) map[string]any {
	out := make(map[string]any, len(ev))
	for k, v := range ev {
		out[k] = v
	}
	if name, ok := out["event"].(string); ok {
		out["action"] = name
		delete(out, "event")
	}
	return out
}

func (rn *Runner) get(roomID string) (*running, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	g, ok := rn.games[roomID]
	return g, ok
}

func (rn *Runner) seated(g *running, userID string) bool {
	for _, s := range g.seats {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

func (rn *Runner) sendToSession(sess *gateway.Session, out *protocol.Outbound) {
	if data, err := out.Marshal(); err == nil {
		sess.SendRaw(data)
	}
}
