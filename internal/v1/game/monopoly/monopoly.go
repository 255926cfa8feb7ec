// Package monopoly implements a compact 24-tile trading board for two to
// four players. Turn-based, event-synced. Rent is half the purchase
// price; the last solvent player wins, or the richest when the round
// limit hits.
package monopoly

import (
	"math/rand"

	"github.com/partyhub/server/internal/v1/game"
)

const (
	boardTiles   = 24
	startingCash = 1500
	passGoBonus  = 200
	taxAmount    = 100
	maxRounds    = 50
)

// Turn phases.
const (
	phaseRolling = "rolling"
	phaseAction  = "action"
)

// Special tile positions. Everything else is a purchasable property.
const (
	tileGo          = 0
	tileChance      = 6
	tileFreeParking = 12
	tileTax         = 18
)

// Register adds monopoly to the catalog.
func Register(c *game.Catalog) {
	c.Register(game.Spec{
		Name:       "monopoly",
		MinPlayers: 2,
		MaxPlayers: 4,
		TickRate:   0,
		SyncMode:   game.SyncEvent,
	}, New)
}

type player struct {
	userID   string
	cash     int
	position int
	bankrupt bool
}

type tile struct {
	kind  string // "go", "chance", "free_parking", "tax", "property"
	price int
	owner int // player index, -1 when unowned
}

// Monopoly is one live match.
type Monopoly struct {
	rng     *rand.Rand
	players []*player
	tiles   [boardTiles]tile

	current int
	phase   string
	rounds  int
	result  *game.Result
}

// New builds a match, seating players in slot order.
func New(seats []game.Seat, rng *rand.Rand) game.Instance {
	m := &Monopoly{rng: rng, phase: phaseRolling}
	for _, s := range seats {
		m.players = append(m.players, &player{userID: s.UserID, cash: startingCash})
	}

	for i := range m.tiles {
		switch i {
		case tileGo:
			m.tiles[i] = tile{kind: "go", owner: -1}
		case tileChance:
			m.tiles[i] = tile{kind: "chance", owner: -1}
		case tileFreeParking:
			m.tiles[i] = tile{kind: "free_parking", owner: -1}
		case tileTax:
			m.tiles[i] = tile{kind: "tax", owner: -1}
		default:
			// Prices climb around the board in steps of 20.
			m.tiles[i] = tile{kind: "property", price: 60 + 20*(i/3), owner: -1}
		}
	}
	return m
}

func (m *Monopoly) InitPayload() map[string]any {
	tiles := make([]map[string]any, boardTiles)
	for i, t := range m.tiles {
		tiles[i] = map[string]any{"kind": t.kind, "price": t.price}
	}
	order := make([]string, len(m.players))
	for i, p := range m.players {
		order[i] = p.userID
	}
	return map[string]any{
		"tiles":         tiles,
		"turn_order":    order,
		"starting_cash": startingCash,
		"turn":          m.players[0].userID,
	}
}

func (m *Monopoly) PrivateInit(string) map[string]any { return nil }

func (m *Monopoly) ProcessAction(userID, action string, data map[string]any) game.Outcome {
	if m.result != nil {
		return game.Reject("game is over")
	}
	idx := m.indexOf(userID)
	if idx < 0 {
		return game.Reject("not a player")
	}
	if idx != m.current {
		return game.Reject("not your turn")
	}

	switch action {
	case "roll":
		return m.roll(idx)
	case "buy":
		return m.buy(idx)
	case "end_turn":
		return m.endTurn(idx)
	}
	return game.Reject("unknown action: " + action)
}

func (m *Monopoly) roll(idx int) game.Outcome {
	if m.phase != phaseRolling {
		return game.Reject("already rolled this turn")
	}
	p := m.players[idx]

	d1, d2 := m.rng.Intn(6)+1, m.rng.Intn(6)+1
	from := p.position
	p.position = (p.position + d1 + d2) % boardTiles
	passedGo := p.position < from
	if passedGo {
		p.cash += passGoBonus
	}
	m.phase = phaseAction

	out := game.Accept()
	out.Events = []map[string]any{{
		"event":     "dice_rolled",
		"user_id":   p.userID,
		"dice":      []int{d1, d2},
		"from":      from,
		"to":        p.position,
		"passed_go": passedGo,
	}}
	out.Events = append(out.Events, m.landOn(idx)...)
	m.checkBankrupt(idx, &out)
	return out
}

// landOn settles the tile the player stopped on. Rent and taxes are
// charged immediately; buying stays a separate decision.
func (m *Monopoly) landOn(idx int) []map[string]any {
	p := m.players[idx]
	t := &m.tiles[p.position]

	switch t.kind {
	case "tax":
		p.cash -= taxAmount
		return []map[string]any{{
			"event": "tax_paid", "user_id": p.userID, "amount": taxAmount,
		}}
	case "chance":
		// Swing between -100 and +100 in steps of 20.
		amount := (m.rng.Intn(11) - 5) * 20
		p.cash += amount
		return []map[string]any{{
			"event": "chance", "user_id": p.userID, "amount": amount,
		}}
	case "property":
		if t.owner >= 0 && t.owner != idx && !m.players[t.owner].bankrupt {
			rent := t.price / 2
			p.cash -= rent
			m.players[t.owner].cash += rent
			return []map[string]any{{
				"event":    "rent_paid",
				"user_id":  p.userID,
				"owner":    m.players[t.owner].userID,
				"position": p.position,
				"amount":   rent,
			}}
		}
	}
	return nil
}

func (m *Monopoly) buy(idx int) game.Outcome {
	if m.phase != phaseAction {
		return game.Reject("roll first")
	}
	p := m.players[idx]
	t := &m.tiles[p.position]

	switch {
	case t.kind != "property":
		return game.Reject("tile is not for sale")
	case t.owner >= 0:
		return game.Reject("tile is already owned")
	case p.cash < t.price:
		return game.Reject("not enough cash")
	}

	p.cash -= t.price
	t.owner = idx

	out := game.Accept()
	out.Events = []map[string]any{{
		"event":    "property_bought",
		"user_id":  p.userID,
		"position": p.position,
		"price":    t.price,
	}}
	return out
}

func (m *Monopoly) endTurn(idx int) game.Outcome {
	if m.phase != phaseAction {
		return game.Reject("roll first")
	}

	next := m.advanceTurn(idx)
	out := game.Accept()
	out.Events = []map[string]any{{
		"event":   "turn_ended",
		"user_id": m.players[idx].userID,
		"turn":    m.players[next].userID,
	}}
	return out
}

// advanceTurn moves to the next solvent player and counts rounds.
func (m *Monopoly) advanceTurn(idx int) int {
	for i := 1; i <= len(m.players); i++ {
		next := (idx + i) % len(m.players)
		if next <= idx {
			m.rounds++
			if m.rounds >= maxRounds && m.result == nil {
				m.finishRichest("round_limit")
			}
		}
		if !m.players[next].bankrupt {
			m.current = next
			m.phase = phaseRolling
			return next
		}
	}
	return idx
}

// checkBankrupt eliminates the player when cash went negative, releasing
// their properties and ending the game if one player remains.
func (m *Monopoly) checkBankrupt(idx int, out *game.Outcome) {
	p := m.players[idx]
	if p.cash >= 0 || p.bankrupt {
		return
	}
	p.bankrupt = true
	for i := range m.tiles {
		if m.tiles[i].owner == idx {
			m.tiles[i].owner = -1
		}
	}
	out.Events = append(out.Events, map[string]any{
		"event":   "player_bankrupt",
		"user_id": p.userID,
	})

	if last, count := m.lastSolvent(); count == 1 {
		m.result = &game.Result{
			Winners: []string{m.players[last].userID},
			Scores:  m.scores(),
			Reason:  "last_solvent",
		}
		return
	}

	// The bankrupt player loses the rest of their turn.
	if m.current == idx {
		next := m.advanceTurn(idx)
		out.Events = append(out.Events, map[string]any{
			"event": "turn_ended",
			"turn":  m.players[next].userID,
		})
	}
}

func (m *Monopoly) finishRichest(reason string) {
	richest, best := -1, -1
	for i, p := range m.players {
		if p.bankrupt {
			continue
		}
		if p.cash > best {
			richest, best = i, p.cash
		}
	}
	winners := []string{}
	if richest >= 0 {
		winners = append(winners, m.players[richest].userID)
	}
	m.result = &game.Result{Winners: winners, Scores: m.scores(), Reason: reason}
}

func (m *Monopoly) Update(float64) {}

func (m *Monopoly) Snapshot() map[string]any {
	players := make([]map[string]any, len(m.players))
	for i, p := range m.players {
		players[i] = map[string]any{
			"user_id":  p.userID,
			"cash":     p.cash,
			"position": p.position,
			"bankrupt": p.bankrupt,
		}
	}
	owners := make([]int, boardTiles)
	for i, t := range m.tiles {
		owners[i] = t.owner
	}
	turn := ""
	if m.result == nil {
		turn = m.players[m.current].userID
	}
	return map[string]any{
		"players": players,
		"owners":  owners,
		"turn":    turn,
		"phase":   m.phase,
		"rounds":  m.rounds,
	}
}

// HandleDisconnect treats a drop as bankruptcy.
func (m *Monopoly) HandleDisconnect(userID string) map[string]any {
	if m.result != nil {
		return nil
	}
	idx := m.indexOf(userID)
	if idx < 0 || m.players[idx].bankrupt {
		return nil
	}

	m.players[idx].cash = -1
	var out game.Outcome
	m.checkBankrupt(idx, &out)
	return map[string]any{
		"event":   "player_forfeit",
		"user_id": userID,
	}
}

func (m *Monopoly) Finished() bool       { return m.result != nil }
func (m *Monopoly) Result() *game.Result { return m.result }

func (m *Monopoly) indexOf(userID string) int {
	for i, p := range m.players {
		if p.userID == userID {
			return i
		}
	}
	return -1
}

func (m *Monopoly) lastSolvent() (int, int) {
	last, count := -1, 0
	for i, p := range m.players {
		if !p.bankrupt {
			last = i
			count++
		}
	}
	return last, count
}

func (m *Monopoly) scores() map[string]int {
	scores := make(map[string]int, len(m.players))
	for _, p := range m.players {
		scores[p.userID] = p.cash
	}
	return scores
}
