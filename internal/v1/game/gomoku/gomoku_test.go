package gomoku

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyhub/server/internal/v1/game"
)

func newMatch() game.Instance {
	return New([]game.Seat{
		{UserID: "black", Slot: 0},
		{UserID: "white", Slot: 1},
	}, nil)
}

func place(t *testing.T, g game.Instance, userID string, x, y int) game.Outcome {
	t.Helper()
	return g.ProcessAction(userID, "place", map[string]any{"x": float64(x), "y": float64(y)})
}

func TestLowerSlotPlaysBlackAndMovesFirst(t *testing.T) {
	g := New([]game.Seat{
		{UserID: "second", Slot: 1},
		{UserID: "first", Slot: 0},
	}, nil)

	init := g.InitPayload()
	assert.Equal(t, "first", init["black"])
	assert.Equal(t, "first", init["turn"])

	out := g.ProcessAction("second", "place", map[string]any{"x": float64(0), "y": float64(0)})
	assert.False(t, out.OK)
}

func TestFullGame_FiveInARowWins(t *testing.T) {
	g := newMatch()

	// Black builds a horizontal row; white trails on another rank.
	for i := 0; i < 4; i++ {
		require.True(t, place(t, g, "black", i, 0).OK)
		require.True(t, place(t, g, "white", i, 1).OK)
		assert.False(t, g.Finished())
	}

	out := place(t, g, "black", 4, 0)
	require.True(t, out.OK)
	require.True(t, g.Finished())

	result := g.Result()
	require.NotNil(t, result)
	assert.Equal(t, []string{"black"}, result.Winners)
	assert.Equal(t, "five_in_a_row", result.Reason)

	// Nothing moves after the game ends.
	assert.False(t, place(t, g, "white", 10, 10).OK)
}

func TestDiagonalWin(t *testing.T) {
	g := newMatch()
	for i := 0; i < 4; i++ {
		require.True(t, place(t, g, "black", i, i).OK)
		require.True(t, place(t, g, "white", i, 14).OK)
	}
	require.True(t, place(t, g, "black", 4, 4).OK)
	assert.True(t, g.Finished())
}

func TestRejections(t *testing.T) {
	g := newMatch()

	assert.False(t, place(t, g, "white", 0, 0).OK, "out of turn")
	require.True(t, place(t, g, "black", 7, 7).OK)
	assert.False(t, place(t, g, "white", 7, 7).OK, "occupied cell")
	assert.False(t, place(t, g, "white", 15, 0).OK, "out of bounds")
	assert.False(t, place(t, g, "white", -1, 0).OK, "negative coordinate")
	assert.False(t, g.ProcessAction("white", "swap", nil).OK, "unknown action")
	assert.False(t, place(t, g, "nobody", 1, 1).OK, "not a player")

	// The board is unchanged by rejected moves; white can still play.
	assert.True(t, place(t, g, "white", 8, 8).OK)
}

func TestPlacementEventCarriesNextTurn(t *testing.T) {
	g := newMatch()
	out := place(t, g, "black", 3, 3)
	require.True(t, out.OK)
	require.Len(t, out.Events, 1)

	ev := out.Events[0]
	assert.Equal(t, "stone_placed", ev["event"])
	assert.Equal(t, "black", ev["user_id"])
	assert.Equal(t, "white", ev["turn"])
}

func TestDisconnectForfeits(t *testing.T) {
	g := newMatch()
	require.True(t, place(t, g, "black", 0, 0).OK)

	fields := g.HandleDisconnect("white")
	require.NotNil(t, fields)
	assert.Equal(t, "player_forfeit", fields["event"])

	require.True(t, g.Finished())
	result := g.Result()
	assert.Equal(t, []string{"black"}, result.Winners)
	assert.Equal(t, "forfeit", result.Reason)
}

func TestSnapshotShape(t *testing.T) {
	g := newMatch()
	require.True(t, place(t, g, "black", 1, 2).OK)

	snap := g.Snapshot()
	board := snap["board"].([][]int)
	assert.Equal(t, 1, board[2][1])
	assert.Equal(t, "white", snap["turn"])
	assert.Equal(t, 1, snap["moves"])
}
