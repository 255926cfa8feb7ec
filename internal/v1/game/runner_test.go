package game

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyhub/server/internal/v1/auth"
	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/room"
	"github.com/partyhub/server/internal/v1/user"
)

// stubGame ends when a player sends "win"; the sender takes the match.
type stubGame struct {
	seats  []Seat
	result *Result
}

func newStubGame(seats []Seat) *stubGame {
	return &stubGame{seats: seats}
}

func (g *stubGame) InitPayload() map[string]any { return map[string]any{"game": "duel"} }

func (g *stubGame) PrivateInit(userID string) map[string]any {
	return map[string]any{"secret": userID}
}

func (g *stubGame) ProcessAction(userID, action string, _ map[string]any) Outcome {
	switch action {
	case "win":
		g.result = &Result{Winners: []string{userID}, Scores: map[string]int{userID: 1}, Reason: "stub"}
		return Accept()
	case "taunt":
		out := Accept()
		out.Events = []map[string]any{{"event": "taunt_played", "user_id": userID}}
		return out
	case "noop":
		return Accept()
	}
	return Reject("unknown action: " + action)
}

func (g *stubGame) Update(float64) {}

func (g *stubGame) Snapshot() map[string]any { return map[string]any{"game": "duel"} }

func (g *stubGame) HandleDisconnect(userID string) map[string]any {
	for _, s := range g.seats {
		if s.UserID != userID {
			g.result = &Result{Winners: []string{s.UserID}, Reason: "forfeit"}
			break
		}
	}
	return map[string]any{"event": "player_forfeit", "user_id": userID}
}

func (g *stubGame) Finished() bool { return g.result != nil }

func (g *stubGame) Result() *Result { return g.result }

type fixture struct {
	runner   *Runner
	rooms    *room.Manager
	registry *gateway.Registry
	store    auth.Store
	room     *room.Room
}

// testRunnerCatalog is testCatalog plus a ticked state game.
func testRunnerCatalog() *Catalog {
	c := testCatalog()
	c.Register(Spec{
		Name:       "pulse",
		MinPlayers: 2,
		MaxPlayers: 2,
		TickRate:   50,
		SyncMode:   SyncState,
	}, func(seats []Seat, _ *rand.Rand) Instance { return newStubGame(seats) })
	return c
}

func newFixture(t *testing.T) *fixture {
	return newFixtureFor(t, "duel")
}

func newFixtureFor(t *testing.T, gameType string) *fixture {
	t.Helper()

	catalog := testRunnerCatalog()
	registry := gateway.NewRegistry(100)
	store := auth.NewMemoryStore()
	presence := user.NewService(store, registry)
	rooms := room.NewManager(catalog.Limits, registry, 100)

	for _, name := range []string{"alice", "bob"} {
		require.NoError(t, store.Create(&auth.User{Name: name, DisplayName: name, Rating: 1200}))
	}
	alice, _ := store.GetByName("alice")
	bob, _ := store.GetByName("bob")

	r, err := rooms.Create(room.CreateParams{HostID: alice.ID, HostDisplayName: "alice", GameType: gameType})
	require.NoError(t, err)
	_, err = rooms.Join(r.ID, bob.ID, "bob", "")
	require.NoError(t, err)
	require.NoError(t, rooms.SetReady(r.ID, bob.ID, true))
	_, err = rooms.BeginStart(r.ID, alice.ID)
	require.NoError(t, err)

	return &fixture{
		runner:   NewRunner(catalog, rooms, registry, store, presence),
		rooms:    rooms,
		registry: registry,
		store:    store,
		room:     r,
	}
}

// wireConn is a gateway.Conn that hands every written frame to the test.
type wireConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWireConn() *wireConn {
	return &wireConn{frames: make(chan []byte, 256), done: make(chan struct{})}
}

func (c *wireConn) ReadMessage() (int, []byte, error) {
	<-c.done
	return 0, nil, errors.New("closed")
}

func (c *wireConn) WriteMessage(_ int, data []byte) error {
	buf := append([]byte(nil), data...)
	select {
	case c.frames <- buf:
	default:
	}
	return nil
}

func (c *wireConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *wireConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *wireConn) SetWriteDeadline(time.Time) error { return nil }

// attach connects a user to the fixture room and starts draining their
// session so room broadcasts land on the returned conn.
func (f *fixture) attach(t *testing.T, userID string) *wireConn {
	t.Helper()

	conn := newWireConn()
	sess, err := f.registry.Register(conn, nil)
	require.NoError(t, err)
	f.registry.BindUser(sess, userID)
	f.registry.JoinRoom(f.room.ID, sess)
	go sess.WriteLoop()
	t.Cleanup(func() {
		sess.Close()
		<-conn.done
	})
	return conn
}

// waitForFrame blocks until a frame of the given type arrives.
func waitForFrame(t *testing.T, conn *wireConn, frameType string) map[string]any {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-conn.frames:
			var frame map[string]any
			require.NoError(t, json.Unmarshal(raw, &frame))
			if frame["type"] == frameType {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame arrived", frameType)
			return nil
		}
	}
}

func (f *fixture) userID(t *testing.T, name string) string {
	t.Helper()
	u, ok := f.store.GetByName(name)
	require.True(t, ok)
	return u.ID
}

func TestLaunch_MovesRoomToPlaying(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.runner.Launch(f.room))
	assert.Equal(t, room.StatePlaying, f.room.State())
	assert.True(t, f.runner.Running(f.room.ID))

	assert.ErrorIs(t, f.runner.Launch(f.room), ErrGameRunning)
}

func TestHandleAction_Gating(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Launch(f.room))

	assert.ErrorIs(t, f.runner.HandleAction("no-room", f.userID(t, "alice"), "noop", nil), ErrNoGame)
	assert.ErrorIs(t, f.runner.HandleAction(f.room.ID, "stranger", "noop", nil), ErrNotInGame)
	assert.NoError(t, f.runner.HandleAction(f.room.ID, f.userID(t, "alice"), "noop", nil))
}

func TestGameEnd_SettlesAndReturnsRoomToWaiting(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Launch(f.room))

	alice := f.userID(t, "alice")
	bob := f.userID(t, "bob")
	require.NoError(t, f.runner.HandleAction(f.room.ID, alice, "win", nil))

	assert.False(t, f.runner.Running(f.room.ID))
	assert.Equal(t, room.StateWaiting, f.room.State())

	winner, _ := f.store.GetByID(alice)
	assert.Equal(t, 1, winner.GamesPlayed)
	assert.Equal(t, 1, winner.GamesWon)
	assert.Equal(t, winCoins, winner.Coins)
	assert.Equal(t, 1200+ratingSwing, winner.Rating)

	loser, _ := f.store.GetByID(bob)
	assert.Equal(t, 1, loser.GamesPlayed)
	assert.Equal(t, 0, loser.GamesWon)
	assert.Equal(t, loseCoins, loser.Coins)
	assert.Equal(t, 1200-ratingSwing, loser.Rating)

	// Ready flags reset for the rematch; the host seat stays ready.
	for _, p := range f.room.Players() {
		assert.Equal(t, p.IsHost, p.Ready)
	}

	// The result's scores land on the seats.
	seatScores := make(map[string]int)
	for _, p := range f.room.Players() {
		seatScores[p.UserID] = p.Score
	}
	assert.Equal(t, 1, seatScores[alice])
	assert.Equal(t, 0, seatScores[bob])
}

func TestDisconnect_ForfeitsToOpponent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Launch(f.room))

	bob := f.userID(t, "bob")
	f.rooms.SetConnected(f.room.ID, bob, false)
	f.runner.HandleDisconnect(f.room.ID, bob)

	assert.False(t, f.runner.Running(f.room.ID))
	winner, _ := f.store.GetByName("alice")
	assert.Equal(t, 1, winner.GamesWon)

	// The dropped seat survives the game end, so a reconnect still
	// finds the room.
	assert.True(t, f.room.Has(bob))
	back, inRoom := f.rooms.RoomOf(bob)
	require.True(t, inRoom)
	assert.Equal(t, f.room.ID, back.ID)
}

func TestActionsAfterEndReturnNoGame(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Launch(f.room))

	alice := f.userID(t, "alice")
	require.NoError(t, f.runner.HandleAction(f.room.ID, alice, "win", nil))
	assert.ErrorIs(t, f.runner.HandleAction(f.room.ID, alice, "noop", nil), ErrNoGame)
}

func TestEventsBroadcastAsGameActions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Launch(f.room))
	conn := f.attach(t, f.userID(t, "bob"))

	alice := f.userID(t, "alice")
	require.NoError(t, f.runner.HandleAction(f.room.ID, alice, "taunt", nil))

	frame := waitForFrame(t, conn, "game_action")
	assert.Equal(t, "taunt_played", frame["action"])
	assert.Equal(t, alice, frame["user_id"])
	assert.NotContains(t, frame, "event", "the event name rides as action")
}

func TestDisconnectBroadcastAsGameAction(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Launch(f.room))
	conn := f.attach(t, f.userID(t, "alice"))

	bob := f.userID(t, "bob")
	f.runner.HandleDisconnect(f.room.ID, bob)

	frame := waitForFrame(t, conn, "game_action")
	assert.Equal(t, "player_disconnected", frame["action"])
	assert.Equal(t, bob, frame["user_id"])
}

func TestGameEndCarriesWinnerAndRewards(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.Launch(f.room))
	conn := f.attach(t, f.userID(t, "bob"))

	alice := f.userID(t, "alice")
	bob := f.userID(t, "bob")
	require.NoError(t, f.runner.HandleAction(f.room.ID, alice, "win", nil))

	frame := waitForFrame(t, conn, "game_end")
	assert.Equal(t, alice, frame["winner"])
	assert.Equal(t, "stub", frame["reason"])

	stats, ok := frame["stats"].(map[string]any)
	require.True(t, ok)
	winnerStats, ok := stats[alice].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(winCoins), winnerStats["coins"])
	assert.Equal(t, float64(ratingSwing), winnerStats["rating"])
	assert.Equal(t, true, winnerStats["won"])

	loserStats, ok := stats[bob].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(loseCoins), loserStats["coins"])
	assert.Equal(t, float64(-ratingSwing), loserStats["rating"])
	assert.Equal(t, false, loserStats["won"])
}

func TestTickedSyncFramesCarryFrameID(t *testing.T) {
	f := newFixtureFor(t, "pulse")
	require.NoError(t, f.runner.Launch(f.room))
	conn := f.attach(t, f.userID(t, "bob"))

	frame := waitForFrame(t, conn, "game_sync")
	id, ok := frame["frame_id"].(float64)
	require.True(t, ok, "every ticked frame carries frame_id")
	assert.Greater(t, id, 0.0)

	// End the game so the tick loop stops.
	require.NoError(t, f.runner.HandleAction(f.room.ID, f.userID(t, "alice"), "win", nil))
}
