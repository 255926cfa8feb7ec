package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/room"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLimits(gameType string) (room.Limits, bool) {
	switch gameType {
	case "gomoku":
		return room.Limits{MinPlayers: 2, MaxPlayers: 2}, true
	case "shooter2d":
		return room.Limits{MinPlayers: 2, MaxPlayers: 8}, true
	}
	return room.Limits{}, false
}

type harness struct {
	svc     *Service
	rooms   *room.Manager
	matched []Matched
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := gateway.NewRegistry(100)
	h := &harness{}
	h.rooms = room.NewManager(testLimits, registry, 100)
	h.svc = NewService(testLimits, h.rooms, registry, time.Minute, func(m Matched) {
		h.matched = append(h.matched, m)
	})
	return h
}

func TestEnqueue_Validation(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.svc.Enqueue("u1", "u1", 1200, "chess"), ErrUnknownGame)
	require.NoError(t, h.svc.Enqueue("u1", "u1", 1200, "gomoku"))
	assert.ErrorIs(t, h.svc.Enqueue("u1", "u1", 1200, "gomoku"), ErrAlreadyQueued)

	gameType, queued := h.svc.Queued("u1")
	assert.True(t, queued)
	assert.Equal(t, "gomoku", gameType)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.svc.Cancel("u1"), ErrNotQueued)
	require.NoError(t, h.svc.Enqueue("u1", "u1", 1200, "gomoku"))
	require.NoError(t, h.svc.Cancel("u1"))
	_, queued := h.svc.Queued("u1")
	assert.False(t, queued)
}

func TestSweep_FormsFullGroup(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Enqueue("u1", "u1", 1100, "gomoku"))
	require.NoError(t, h.svc.Enqueue("u2", "u2", 1300, "gomoku"))

	h.svc.Sweep()

	require.Len(t, h.matched, 1)
	m := h.matched[0]
	assert.ElementsMatch(t, []string{"u1", "u2"}, m.Members)
	assert.Equal(t, "gomoku", m.Room.GameType)

	// Matched room is ready to auto-start.
	_, err := h.rooms.BeginStart(m.Room.ID, m.Room.HostID())
	assert.NoError(t, err)

	_, queued := h.svc.Queued("u1")
	assert.False(t, queued)
}

func TestSweep_GroupsBySkill(t *testing.T) {
	h := newHarness(t)
	// Two pairs far apart in rating; closest ratings should pair up.
	require.NoError(t, h.svc.Enqueue("low1", "low1", 1000, "gomoku"))
	require.NoError(t, h.svc.Enqueue("high1", "high1", 2000, "gomoku"))
	require.NoError(t, h.svc.Enqueue("low2", "low2", 1050, "gomoku"))
	require.NoError(t, h.svc.Enqueue("high2", "high2", 1950, "gomoku"))

	h.svc.Sweep()

	require.Len(t, h.matched, 2)
	for _, m := range h.matched {
		if contains(m.Members, "low1") {
			assert.Contains(t, m.Members, "low2")
		} else {
			assert.ElementsMatch(t, []string{"high1", "high2"}, m.Members)
		}
	}
}

func TestSweep_PartialGroupFormsImmediately(t *testing.T) {
	h := newHarness(t)
	// Four players for an eight-seat game: below max, above min. One
	// pass is enough; nobody waits for more players once the minimum
	// is queued.
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.svc.Enqueue(id, id, 1200, "shooter2d"))
	}

	h.svc.Sweep()
	require.Len(t, h.matched, 1)
	assert.Len(t, h.matched[0].Members, 4)

	for _, id := range []string{"a", "b", "c", "d"} {
		_, queued := h.svc.Queued(id)
		assert.False(t, queued)
	}
}

func TestSweep_SplitsOversizedQueue(t *testing.T) {
	h := newHarness(t)
	// Three gomoku players: one full pair plus a remainder below the
	// two-player minimum, which stays queued.
	require.NoError(t, h.svc.Enqueue("u1", "u1", 1000, "gomoku"))
	require.NoError(t, h.svc.Enqueue("u2", "u2", 1100, "gomoku"))
	require.NoError(t, h.svc.Enqueue("u3", "u3", 1200, "gomoku"))

	h.svc.Sweep()
	require.Len(t, h.matched, 1)
	assert.Len(t, h.matched[0].Members, 2)

	_, queued := h.svc.Queued("u3")
	assert.True(t, queued)
}

func TestSweep_TimesOutStaleTickets(t *testing.T) {
	registry := gateway.NewRegistry(100)
	rooms := room.NewManager(testLimits, registry, 100)
	svc := NewService(testLimits, rooms, registry, time.Minute, nil)

	require.NoError(t, svc.Enqueue("u1", "u1", 1200, "gomoku"))
	svc.mu.Lock()
	svc.queues["gomoku"][0].EnqueuedAt = time.Now().Add(-2 * time.Minute)
	svc.mu.Unlock()

	svc.Sweep()
	_, queued := svc.Queued("u1")
	assert.False(t, queued)
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
