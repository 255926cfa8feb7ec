package monopoly

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyhub/server/internal/v1/game"
)

func newMatch(players ...string) *Monopoly {
	seats := make([]game.Seat, len(players))
	for i, p := range players {
		seats[i] = game.Seat{UserID: p, Slot: i}
	}
	return New(seats, rand.New(rand.NewSource(1))).(*Monopoly)
}

func TestInitPayload(t *testing.T) {
	m := newMatch("a", "b", "c")
	init := m.InitPayload()

	assert.Equal(t, []string{"a", "b", "c"}, init["turn_order"])
	assert.Equal(t, "a", init["turn"])
	assert.Len(t, init["tiles"], boardTiles)
}

func TestTurnOrderAndPhases(t *testing.T) {
	m := newMatch("a", "b")

	assert.False(t, m.ProcessAction("b", "roll", nil).OK, "out of turn")
	assert.False(t, m.ProcessAction("a", "end_turn", nil).OK, "must roll first")

	out := m.ProcessAction("a", "roll", nil)
	require.True(t, out.OK)
	assert.Equal(t, "dice_rolled", out.Events[0]["event"])

	assert.False(t, m.ProcessAction("a", "roll", nil).OK, "double roll")

	out = m.ProcessAction("a", "end_turn", nil)
	require.True(t, out.OK)
	assert.Equal(t, "b", m.Snapshot()["turn"])
}

func TestBuyAndRent(t *testing.T) {
	m := newMatch("a", "b")

	// Park both players on a known property by hand.
	m.players[0].position = 1
	m.phase = phaseAction

	out := m.ProcessAction("a", "buy", nil)
	require.True(t, out.OK)
	price := m.tiles[1].price
	assert.Equal(t, startingCash-price, m.players[0].cash)
	assert.Equal(t, 0, m.tiles[1].owner)

	assert.False(t, m.ProcessAction("a", "buy", nil).OK, "already owned")

	// B lands on A's property and pays half price in rent.
	m.players[1].position = 1
	events := m.landOn(1)
	require.Len(t, events, 1)
	assert.Equal(t, "rent_paid", events[0]["event"])
	assert.Equal(t, startingCash-price/2, m.players[1].cash)
	assert.Equal(t, startingCash-price+price/2, m.players[0].cash)
}

func TestBuyRejections(t *testing.T) {
	m := newMatch("a", "b")
	m.phase = phaseAction

	m.players[0].position = tileGo
	assert.False(t, m.ProcessAction("a", "buy", nil).OK, "go is not for sale")

	m.players[0].position = 1
	m.players[0].cash = 10
	assert.False(t, m.ProcessAction("a", "buy", nil).OK, "too expensive")
}

func TestTaxTile(t *testing.T) {
	m := newMatch("a", "b")
	m.players[0].position = tileTax

	events := m.landOn(0)
	require.Len(t, events, 1)
	assert.Equal(t, "tax_paid", events[0]["event"])
	assert.Equal(t, startingCash-taxAmount, m.players[0].cash)
}

func TestBankruptcyEndsTwoPlayerGame(t *testing.T) {
	m := newMatch("a", "b")
	m.players[1].cash = -5

	var out game.Outcome
	m.checkBankrupt(1, &out)

	require.True(t, m.Finished())
	result := m.Result()
	assert.Equal(t, []string{"a"}, result.Winners)
	assert.Equal(t, "last_solvent", result.Reason)
	assert.Contains(t, result.Scores, "b")
}

func TestBankruptcyReleasesProperties(t *testing.T) {
	m := newMatch("a", "b", "c")
	m.tiles[1].owner = 1
	m.players[1].cash = -5

	var out game.Outcome
	m.checkBankrupt(1, &out)

	assert.Equal(t, -1, m.tiles[1].owner)
	assert.False(t, m.Finished(), "two players still solvent")
}

func TestDisconnectIsBankruptcy(t *testing.T) {
	m := newMatch("a", "b")
	fields := m.HandleDisconnect("b")
	require.NotNil(t, fields)
	assert.Equal(t, "player_forfeit", fields["event"])
	assert.True(t, m.Finished())
	assert.Equal(t, []string{"a"}, m.Result().Winners)
}

func TestRoundLimitCrownsRichest(t *testing.T) {
	m := newMatch("a", "b")
	m.players[0].cash = 500
	m.players[1].cash = 900
	m.rounds = maxRounds - 1

	// Completing a full cycle trips the limit.
	m.phase = phaseAction
	m.current = 1
	out := m.ProcessAction("b", "end_turn", nil)
	require.True(t, out.OK)

	require.True(t, m.Finished())
	assert.Equal(t, []string{"b"}, m.Result().Winners)
	assert.Equal(t, "round_limit", m.Result().Reason)
}
