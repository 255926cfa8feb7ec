package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/partyhub/server/internal/v1/gateway"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLimits(gameType string) (Limits, bool) {
	switch gameType {
	case "gomoku":
		return Limits{MinPlayers: 2, MaxPlayers: 2}, true
	case "monopoly":
		return Limits{MinPlayers: 2, MaxPlayers: 4}, true
	}
	return Limits{}, false
}

func newTestManager(maxRooms int) *Manager {
	return NewManager(testLimits, gateway.NewRegistry(100), maxRooms)
}

func create(t *testing.T, m *Manager, host, gameType string) *Room {
	t.Helper()
	r, err := m.Create(CreateParams{HostID: host, HostDisplayName: host, GameType: gameType})
	require.NoError(t, err)
	return r
}

func TestCreate_HostSeatedAtSlotZero(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "monopoly")

	info := r.Info()
	assert.Equal(t, StateWaiting, info.State)
	assert.Equal(t, "alice", info.HostID)
	assert.Equal(t, 4, info.MaxPlayers)
	require.Len(t, info.Players, 1)
	assert.Equal(t, 0, info.Players[0].Slot)
	assert.True(t, info.Players[0].IsHost)
	assert.True(t, info.Players[0].Ready, "the host seat is always ready")
}

func TestCreate_UnknownGame(t *testing.T) {
	m := newTestManager(10)
	_, err := m.Create(CreateParams{HostID: "alice", GameType: "chess"})
	assert.ErrorIs(t, err, ErrUnknownGame)
}

func TestCreate_ClampsMaxPlayers(t *testing.T) {
	m := newTestManager(10)
	r, err := m.Create(CreateParams{HostID: "a", HostDisplayName: "a", GameType: "monopoly", MaxPlayers: 99})
	require.NoError(t, err)
	assert.Equal(t, 4, r.MaxPlayers)

	r2, err := m.Create(CreateParams{HostID: "b", HostDisplayName: "b", GameType: "monopoly", MaxPlayers: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, r2.MaxPlayers)
}

func TestCreate_RoomLimit(t *testing.T) {
	m := newTestManager(1)
	create(t, m, "alice", "gomoku")

	_, err := m.Create(CreateParams{HostID: "bob", HostDisplayName: "bob", GameType: "gomoku"})
	assert.ErrorIs(t, err, ErrTooManyRooms)
}

func TestJoin_SlotAssignment(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "monopoly")

	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	_, err = m.Join(r.ID, "carol", "carol", "")
	require.NoError(t, err)

	// Bob (slot 1) leaves; the next joiner reuses the gap.
	require.NoError(t, m.Leave(r.ID, "bob"))
	_, err = m.Join(r.ID, "dave", "dave", "")
	require.NoError(t, err)

	slots := make(map[string]int)
	for _, p := range r.Players() {
		slots[p.UserID] = p.Slot
	}
	assert.Equal(t, 0, slots["alice"])
	assert.Equal(t, 1, slots["dave"])
	assert.Equal(t, 2, slots["carol"])
}

func TestJoin_Errors(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")

	_, err := m.Join("nope", "bob", "bob", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = m.Join(r.ID, "alice", "alice", "")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)

	_, err = m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	_, err = m.Join(r.ID, "carol", "carol", "")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoin_Password(t *testing.T) {
	m := newTestManager(10)
	r, err := m.Create(CreateParams{HostID: "alice", HostDisplayName: "alice", GameType: "gomoku", Password: "sesame"})
	require.NoError(t, err)

	_, err = m.Join(r.ID, "bob", "bob", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = m.Join(r.ID, "bob", "bob", "sesame")
	assert.NoError(t, err)
}

func TestLeave_HostTransfersToEarliest(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "monopoly")
	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.Join(r.ID, "carol", "carol", "")
	require.NoError(t, err)

	require.NoError(t, m.Leave(r.ID, "alice"))
	assert.Equal(t, "bob", r.HostID())

	_, stillInRoom := m.RoomOf("alice")
	assert.False(t, stillInRoom)
}

func TestLeave_LastPlayerClosesRoom(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")

	require.NoError(t, m.Leave(r.ID, "alice"))
	_, ok := m.Get(r.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.RoomCount())
}

func TestBeginStart_Validation(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")

	_, err := m.BeginStart(r.ID, "alice")
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)

	_, err = m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)

	_, err = m.BeginStart(r.ID, "bob")
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = m.BeginStart(r.ID, "alice")
	assert.ErrorIs(t, err, ErrNotAllReady)

	require.NoError(t, m.SetReady(r.ID, "bob", true))
	_, err = m.BeginStart(r.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateStarting, r.State())

	// No double start.
	_, err = m.BeginStart(r.ID, "alice")
	assert.ErrorIs(t, err, ErrBadState)
}

func TestEndGame_RematchResetsReady(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")
	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	require.NoError(t, m.SetReady(r.ID, "bob", true))

	_, err = m.BeginStart(r.ID, "alice")
	require.NoError(t, err)
	m.MarkPlaying(r.ID)
	assert.Equal(t, StatePlaying, r.State())

	m.EndGame(r.ID)
	assert.Equal(t, StateWaiting, r.State())
	for _, p := range r.Players() {
		assert.Equal(t, p.IsHost, p.Ready, "only the host seat stays ready")
	}
}

func TestEndGame_KeepsDisconnectedSeats(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")
	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	require.NoError(t, m.SetReady(r.ID, "bob", true))
	_, err = m.BeginStart(r.ID, "alice")
	require.NoError(t, err)
	m.MarkPlaying(r.ID)

	m.SetConnected(r.ID, "bob", false)
	m.EndGame(r.ID)

	// A seat survives the game end even while its player is offline, so
	// a reconnect still finds the room.
	assert.True(t, r.Has("bob"))
	got, inRoom := m.RoomOf("bob")
	require.True(t, inRoom)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "alice", r.HostID())

	for _, p := range r.Players() {
		if p.UserID == "bob" {
			assert.False(t, p.Connected)
		}
	}
}

func TestSetReady_HostIsNoOp(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")

	require.NoError(t, m.SetReady(r.ID, "alice", false))
	for _, p := range r.Players() {
		assert.True(t, p.Ready)
	}
}

func TestRecordScores(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")
	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)

	m.RecordScores(r.ID, map[string]int{"alice": 7, "ghost": 3})

	scores := make(map[string]int)
	for _, p := range r.Players() {
		scores[p.UserID] = p.Score
	}
	assert.Equal(t, 7, scores["alice"])
	assert.Equal(t, 0, scores["bob"])
}

func TestBeginStart_RebalancesTeams(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "monopoly")
	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	_, err = m.Join(r.ID, "carol", "carol", "")
	require.NoError(t, err)

	// Bob's departure leaves alice and carol on slots 0 and 2, both
	// dealt team 0 at join time.
	require.NoError(t, m.Leave(r.ID, "bob"))
	require.NoError(t, m.SetReady(r.ID, "carol", true))
	_, err = m.BeginStart(r.ID, "alice")
	require.NoError(t, err)

	teams := make(map[string]int)
	for _, p := range r.Players() {
		teams[p.UserID] = p.Team
	}
	assert.Equal(t, 0, teams["alice"])
	assert.Equal(t, 1, teams["carol"])
}

func TestClose_EvictsPlayers(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")
	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	require.NoError(t, m.SetReady(r.ID, "bob", true))
	_, err = m.BeginStart(r.ID, "alice")
	require.NoError(t, err)

	// A starting room that cannot launch goes away entirely rather than
	// back to waiting.
	m.Close(r.ID, "launch_failed")

	_, ok := m.Get(r.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.RoomCount())
	_, inRoom := m.RoomOf("alice")
	assert.False(t, inRoom)
	_, inRoom = m.RoomOf("bob")
	assert.False(t, inRoom)
}

func TestSetReady_OnlyWhileWaiting(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")
	_, err := m.Join(r.ID, "bob", "bob", "")
	require.NoError(t, err)
	require.NoError(t, m.SetReady(r.ID, "bob", true))

	_, err = m.BeginStart(r.ID, "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, m.SetReady(r.ID, "bob", false), ErrBadState)
}

func TestList_FiltersPrivateAndPlaying(t *testing.T) {
	m := newTestManager(10)
	create(t, m, "alice", "gomoku")
	_, err := m.Create(CreateParams{HostID: "bob", HostDisplayName: "bob", GameType: "monopoly", Private: true})
	require.NoError(t, err)

	rooms := m.List("", false)
	require.Len(t, rooms, 1)
	assert.Equal(t, "gomoku", rooms[0].GameType)

	rooms = m.List("monopoly", false)
	assert.Len(t, rooms, 0)
}

func TestReapIdle(t *testing.T) {
	m := newTestManager(10)
	r := create(t, m, "alice", "gomoku")

	r.mu.Lock()
	r.lastActivity = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	assert.Equal(t, 1, m.ReapIdle(30*time.Minute))
	_, ok := m.Get(r.ID)
	assert.False(t, ok)
	_, inRoom := m.RoomOf("alice")
	assert.False(t, inRoom)
}
