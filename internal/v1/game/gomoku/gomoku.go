// Package gomoku implements five-in-a-row on a 15x15 board. Turn-based,
// event-synced: every accepted placement is broadcast immediately.
package gomoku

import (
	"fmt"
	"math/rand"

	"github.com/partyhub/server/internal/v1/game"
)

const boardSize = 15

// Register adds gomoku to the catalog.
func Register(c *game.Catalog) {
	c.Register(game.Spec{
		Name:       "gomoku",
		MinPlayers: 2,
		MaxPlayers: 2,
		TickRate:   0,
		SyncMode:   game.SyncEvent,
	}, New)
}

// Gomoku is one live match. Stone 1 is black (the lower slot), stone 2
// is white. Black moves first.
type Gomoku struct {
	board   [boardSize][boardSize]int
	players [2]string // index = stone - 1
	turn    int       // stone whose move it is
	moves   int
	result  *game.Result
}

// New builds a match from the two seats, lower slot playing black.
func New(seats []game.Seat, _ *rand.Rand) game.Instance {
	g := &Gomoku{turn: 1}
	if seats[0].Slot <= seats[1].Slot {
		g.players = [2]string{seats[0].UserID, seats[1].UserID}
	} else {
		g.players = [2]string{seats[1].UserID, seats[0].UserID}
	}
	return g
}

func (g *Gomoku) InitPayload() map[string]any {
	return map[string]any{
		"board_size": boardSize,
		"black":      g.players[0],
		"white":      g.players[1],
		"turn":       g.players[0],
	}
}

func (g *Gomoku) PrivateInit(string) map[string]any { return nil }

func (g *Gomoku) ProcessAction(userID, action string, data map[string]any) game.Outcome {
	if action != "place" {
		return game.Reject("unknown action: " + action)
	}
	if g.result != nil {
		return game.Reject("game is over")
	}

	stone := g.stoneOf(userID)
	if stone == 0 {
		return game.Reject("not a player")
	}
	if stone != g.turn {
		return game.Reject("not your turn")
	}

	x, okX := game.IntField(data, "x")
	y, okY := game.IntField(data, "y")
	if !okX || !okY || x < 0 || x >= boardSize || y < 0 || y >= boardSize {
		return game.Reject("placement out of bounds")
	}
	if g.board[y][x] != 0 {
		return game.Reject(fmt.Sprintf("cell (%d,%d) is taken", x, y))
	}

	g.board[y][x] = stone
	g.moves++

	switch {
	case g.wins(x, y, stone):
		g.result = &game.Result{Winners: []string{userID}, Reason: "five_in_a_row"}
	case g.moves == boardSize*boardSize:
		g.result = &game.Result{Reason: "draw"}
	default:
		g.turn = 3 - stone
	}

	out := game.Accept()
	out.Events = []map[string]any{{
		"event":   "stone_placed",
		"user_id": userID,
		"x":       x,
		"y":       y,
		"stone":   stone,
		"turn":    g.turnUser(),
	}}
	return out
}

func (g *Gomoku) Update(float64) {}

func (g *Gomoku) Snapshot() map[string]any {
	rows := make([][]int, boardSize)
	for y := range g.board {
		rows[y] = append([]int(nil), g.board[y][:]...)
	}
	return map[string]any{
		"board": rows,
		"turn":  g.turnUser(),
		"moves": g.moves,
	}
}

// HandleDisconnect forfeits the match to the remaining player.
func (g *Gomoku) HandleDisconnect(userID string) map[string]any {
	if g.result != nil {
		return nil
	}
	stone := g.stoneOf(userID)
	if stone == 0 {
		return nil
	}
	winner := g.players[2-stone]
	g.result = &game.Result{Winners: []string{winner}, Reason: "forfeit"}
	return map[string]any{
		"event":   "player_forfeit",
		"user_id": userID,
	}
}

func (g *Gomoku) Finished() bool       { return g.result != nil }
func (g *Gomoku) Result() *game.Result { return g.result }

func (g *Gomoku) stoneOf(userID string) int {
	switch userID {
	case g.players[0]:
		return 1
	case g.players[1]:
		return 2
	}
	return 0
}

func (g *Gomoku) turnUser() string {
	if g.result != nil {
		return ""
	}
	return g.players[g.turn-1]
}

// wins checks the four directions through the new stone for a run of five.
func (g *Gomoku) wins(x, y, stone int) bool {
	dirs := [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}
	for _, d := range dirs {
		run := 1
		for _, sign := range [2]int{1, -1} {
			for step := 1; step < 5; step++ {
				nx, ny := x+d[0]*step*sign, y+d[1]*step*sign
				if nx < 0 || nx >= boardSize || ny < 0 || ny >= boardSize || g.board[ny][nx] != stone {
					break
				}
				run++
			}
		}
		if run >= 5 {
			return true
		}
	}
	return false
}
