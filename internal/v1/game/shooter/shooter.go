// Package shooter implements a top-down 2D team arena match for two to
// eight players at 20 Hz. Fighters play on the teams dealt by the room;
// the last team with anyone standing wins. Movement input is latched
// per tick, so resending the same input within a tick changes nothing;
// shots spawn bullets that are broadcast immediately, ahead of the next
// frame. Bullets hit anyone but their owner, friendly fire included.
package shooter

import (
	"math"
	"math/rand"

	"github.com/partyhub/server/internal/v1/game"
)

const (
	arenaWidth  = 800.0
	arenaHeight = 600.0

	playerRadius = 16.0
	bulletRadius = 4.0
	maxHP        = 100
	hitDamage    = 25

	moveSpeed      = 200.0 // px/s
	bulletSpeed    = 400.0 // px/s
	shotCooldown   = 0.25  // seconds
	bulletLifetime = 2.0   // seconds
)

// Register adds shooter2d to the catalog.
func Register(c *game.Catalog) {
	c.Register(game.Spec{
		Name:       "shooter2d",
		MinPlayers: 2,
		MaxPlayers: 8,
		TickRate:   20,
		SyncMode:   game.SyncFrame,
	}, New)
}

type fighter struct {
	userID string
	team   int
	x, y   float64
	hp     int
	kills  int
	alive  bool

	// moveX/moveY is the latched input applied on the next tick.
	moveX, moveY float64
	cooldown     float64
}

type bullet struct {
	id     int
	owner  string
	x, y   float64
	vx, vy float64
	ttl    float64
}

// Shooter is one live arena.
type Shooter struct {
	players []*fighter
	byID    map[string]*fighter
	bullets []*bullet

	nextBulletID int
	result       *game.Result
}

// New spawns fighters spread around the arena edge.
func New(seats []game.Seat, _ *rand.Rand) game.Instance {
	s := &Shooter{byID: make(map[string]*fighter, len(seats))}
	for i, seat := range seats {
		angle := 2 * math.Pi * float64(i) / float64(len(seats))
		f := &fighter{
			userID: seat.UserID,
			team:   seat.Team,
			x:      arenaWidth/2 + math.Cos(angle)*(arenaWidth/2-2*playerRadius),
			y:      arenaHeight/2 + math.Sin(angle)*(arenaHeight/2-2*playerRadius),
			hp:     maxHP,
			alive:  true,
		}
		s.players = append(s.players, f)
		s.byID[seat.UserID] = f
	}
	return s
}

func (s *Shooter) InitPayload() map[string]any {
	spawns := make([]map[string]any, len(s.players))
	for i, f := range s.players {
		spawns[i] = map[string]any{"user_id": f.userID, "team": f.team, "x": f.x, "y": f.y}
	}
	return map[string]any{
		"arena_width":   arenaWidth,
		"arena_height":  arenaHeight,
		"player_radius": playerRadius,
		"max_hp":        maxHP,
		"spawns":        spawns,
	}
}

func (s *Shooter) PrivateInit(string) map[string]any { return nil }

func (s *Shooter) ProcessAction(userID, action string, data map[string]any) game.Outcome {
	if s.result != nil {
		return game.Reject("game is over")
	}
	f, ok := s.byID[userID]
	if !ok {
		return game.Reject("not a player")
	}
	if !f.alive {
		return game.Reject("you are down")
	}

	switch action {
	case "input":
		mx, _ := game.FloatField(data, "move_x")
		my, _ := game.FloatField(data, "move_y")
		f.moveX, f.moveY = clampUnit(mx), clampUnit(my)
		return game.Accept()

	case "shoot":
		return s.shoot(f, data)
	}
	return game.Reject("unknown action: " + action)
}

func (s *Shooter) shoot(f *fighter, data map[string]any) game.Outcome {
	if f.cooldown > 0 {
		return game.Reject("weapon cooling down")
	}
	dx, _ := game.FloatField(data, "dir_x")
	dy, _ := game.FloatField(data, "dir_y")
	length := math.Hypot(dx, dy)
	if length == 0 {
		return game.Reject("no shot direction")
	}
	dx, dy = dx/length, dy/length

	b := &bullet{
		id:    s.nextBulletID,
		owner: f.userID,
		x:     f.x + dx*(playerRadius+bulletRadius+1),
		y:     f.y + dy*(playerRadius+bulletRadius+1),
		vx:    dx * bulletSpeed,
		vy:    dy * bulletSpeed,
		ttl:   bulletLifetime,
	}
	s.nextBulletID++
	s.bullets = append(s.bullets, b)
	f.cooldown = shotCooldown

	out := game.Accept()
	out.Events = []map[string]any{{
		"event":     "bullet_fired",
		"bullet_id": b.id,
		"user_id":   f.userID,
		"x":         b.x,
		"y":         b.y,
		"vx":        b.vx,
		"vy":        b.vy,
	}}
	return out
}

// Update advances one frame: movement from latched inputs, bullet flight,
// and hit resolution.
func (s *Shooter) Update(dt float64) {
	if s.result != nil {
		return
	}

	for _, f := range s.players {
		if !f.alive {
			continue
		}
		if f.cooldown > 0 {
			f.cooldown -= dt
		}
		f.x = clamp(f.x+f.moveX*moveSpeed*dt, playerRadius, arenaWidth-playerRadius)
		f.y = clamp(f.y+f.moveY*moveSpeed*dt, playerRadius, arenaHeight-playerRadius)
	}

	live := s.bullets[:0]
	for _, b := range s.bullets {
		b.x += b.vx * dt
		b.y += b.vy * dt
		b.ttl -= dt
		if b.ttl <= 0 || b.x < 0 || b.x > arenaWidth || b.y < 0 || b.y > arenaHeight {
			continue
		}
		if s.resolveHit(b) {
			continue
		}
		live = append(live, b)
	}
	s.bullets = live

	s.checkEnd()
}

// resolveHit applies damage if the bullet overlaps any other fighter.
func (s *Shooter) resolveHit(b *bullet) bool {
	for _, f := range s.players {
		if !f.alive || f.userID == b.owner {
			continue
		}
		if math.Hypot(f.x-b.x, f.y-b.y) > playerRadius+bulletRadius {
			continue
		}
		f.hp -= hitDamage
		if f.hp <= 0 {
			f.hp = 0
			f.alive = false
			if shooter, ok := s.byID[b.owner]; ok {
				shooter.kills++
			}
		}
		return true
	}
	return false
}

// checkEnd ends the match once everyone still standing is on one team.
// The whole surviving team wins, downed members included.
func (s *Shooter) checkEnd() {
	aliveTeam, teams := 0, 0
	for _, f := range s.players {
		if !f.alive {
			continue
		}
		if teams == 0 || f.team != aliveTeam {
			teams++
		}
		aliveTeam = f.team
		if teams > 1 {
			return
		}
	}

	scores := make(map[string]int, len(s.players))
	for _, f := range s.players {
		scores[f.userID] = f.kills
	}
	winners := []string{}
	if teams == 1 {
		for _, f := range s.players {
			if f.team == aliveTeam {
				winners = append(winners, f.userID)
			}
		}
	}
	s.result = &game.Result{Winners: winners, Scores: scores, Reason: "last_team_standing"}
}

func (s *Shooter) Snapshot() map[string]any {
	players := make([]map[string]any, len(s.players))
	for i, f := range s.players {
		players[i] = map[string]any{
			"user_id": f.userID,
			"team":    f.team,
			"x":       round1(f.x),
			"y":       round1(f.y),
			"hp":      f.hp,
			"kills":   f.kills,
			"alive":   f.alive,
		}
	}
	bullets := make([]map[string]any, len(s.bullets))
	for i, b := range s.bullets {
		bullets[i] = map[string]any{
			"bullet_id": b.id,
			"x":         round1(b.x),
			"y":         round1(b.y),
		}
	}
	return map[string]any{
		"players": players,
		"bullets": bullets,
	}
}

// HandleDisconnect downs the fighter where they stand.
func (s *Shooter) HandleDisconnect(userID string) map[string]any {
	if s.result != nil {
		return nil
	}
	f, ok := s.byID[userID]
	if !ok || !f.alive {
		return nil
	}

	f.alive = false
	f.hp = 0
	s.checkEnd()
	return map[string]any{
		"event":   "player_down",
		"user_id": userID,
		"cause":   "disconnect",
	}
}

func (s *Shooter) Finished() bool       { return s.result != nil }
func (s *Shooter) Result() *game.Result { return s.result }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUnit(v float64) float64 { return clamp(v, -1, 1) }

// round1 trims coordinates to one decimal to keep frames small.
func round1(v float64) float64 { return math.Round(v*10) / 10 }
