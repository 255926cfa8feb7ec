// Package racing implements a top-down checkpoint race for two to six
// cars at 30 Hz. Cars chase an ordered ring of checkpoints around an
// oval; first over three laps wins. Control inputs are latched per tick
// like the shooter's movement. A car that drops mid-race is forced over
// the line with the worst rank still open, so every car ends the race
// ranked.
package racing

import (
	"math"
	"math/rand"
	"sort"

	"github.com/partyhub/server/internal/v1/game"
)

const (
	accelRate        = 120.0 // px/s^2
	brakeRate        = 200.0 // px/s^2
	dragCoeff        = 0.8   // fraction of speed shed per second
	maxSpeed         = 240.0 // px/s
	steerRate        = 2.4   // rad/s at full lock
	checkpointRadius = 48.0
	totalLaps        = 3
)

// Register adds racing to the catalog.
func Register(c *game.Catalog) {
	c.Register(game.Spec{
		Name:       "racing",
		MinPlayers: 2,
		MaxPlayers: 6,
		TickRate:   30,
		SyncMode:   game.SyncFrame,
	}, New)
}

type checkpoint struct{ x, y float64 }

type car struct {
	userID  string
	x, y    float64
	heading float64
	speed   float64

	// throttle, brake, and steering are the latched control inputs
	// applied on the next tick.
	throttle float64 // 0 .. 1
	brake    float64 // 0 .. 1
	steering float64 // -1 left .. +1 right

	nextCheckpoint int
	lap            int
	finished       bool
	rank           int // 1-based once finished or the race ends
}

// Racing is one live race. Genuine finishers take ranks from the front
// of the field, forced finishes take them from the back.
type Racing struct {
	cars   []*car
	byID   map[string]*car
	track  []checkpoint
	result *game.Result

	nextFrontRank int
	nextBackRank  int
}

// New lays out an eight-checkpoint oval and grids the cars at the start.
func New(seats []game.Seat, _ *rand.Rand) game.Instance {
	r := &Racing{
		byID:          make(map[string]*car, len(seats)),
		nextFrontRank: 1,
		nextBackRank:  len(seats),
	}

	const cx, cy, rx, ry = 400.0, 300.0, 300.0, 200.0
	for i := 0; i < 8; i++ {
		angle := 2 * math.Pi * float64(i) / 8
		r.track = append(r.track, checkpoint{
			x: cx + math.Cos(angle)*rx,
			y: cy + math.Sin(angle)*ry,
		})
	}

	// Grid just behind the first checkpoint, stacked sideways.
	start := r.track[0]
	for i, s := range seats {
		c := &car{
			userID:         s.UserID,
			x:              start.x - 40,
			y:              start.y + float64(i-len(seats)/2)*40,
			heading:        math.Pi / 2, // facing the second checkpoint
			nextCheckpoint: 1,
		}
		r.cars = append(r.cars, c)
		r.byID[s.UserID] = c
	}
	return r
}

func (r *Racing) InitPayload() map[string]any {
	track := make([]map[string]any, len(r.track))
	for i, cp := range r.track {
		track[i] = map[string]any{"x": cp.x, "y": cp.y}
	}
	grid := make([]map[string]any, len(r.cars))
	for i, c := range r.cars {
		grid[i] = map[string]any{"user_id": c.userID, "x": c.x, "y": c.y}
	}
	return map[string]any{
		"track":             track,
		"grid":              grid,
		"laps":              totalLaps,
		"checkpoint_radius": checkpointRadius,
	}
}

func (r *Racing) PrivateInit(string) map[string]any { return nil }

func (r *Racing) ProcessAction(userID, action string, data map[string]any) game.Outcome {
	if r.result != nil {
		return game.Reject("race is over")
	}
	c, ok := r.byID[userID]
	if !ok {
		return game.Reject("not a racer")
	}
	if c.finished {
		return game.Reject("your race is done")
	}
	if action != "control" {
		return game.Reject("unknown action: " + action)
	}

	throttle, _ := game.FloatField(data, "throttle")
	brake, _ := game.FloatField(data, "brake")
	steering, _ := game.FloatField(data, "steering")
	c.throttle = clamp(throttle, 0, 1)
	c.brake = clamp(brake, 0, 1)
	c.steering = clamp(steering, -1, 1)
	return game.Accept()
}

// Update advances one frame of car physics and checkpoint progress.
func (r *Racing) Update(dt float64) {
	if r.result != nil {
		return
	}

	for _, c := range r.cars {
		if c.finished {
			continue
		}

		c.speed += (accelRate*c.throttle - brakeRate*c.brake) * dt
		c.speed -= c.speed * dragCoeff * dt
		c.speed = clamp(c.speed, 0, maxSpeed)

		// Steering authority scales with speed so a parked car cannot spin.
		c.heading += c.steering * steerRate * (c.speed / maxSpeed) * dt
		c.x += math.Cos(c.heading) * c.speed * dt
		c.y += math.Sin(c.heading) * c.speed * dt

		r.advanceCheckpoints(c)
	}
}

func (r *Racing) advanceCheckpoints(c *car) {
	cp := r.track[c.nextCheckpoint]
	if math.Hypot(c.x-cp.x, c.y-cp.y) > checkpointRadius {
		return
	}

	c.nextCheckpoint++
	if c.nextCheckpoint == len(r.track) {
		c.nextCheckpoint = 0
		c.lap++
		if c.lap >= totalLaps {
			c.finished = true
			c.rank = r.nextFrontRank
			r.nextFrontRank++
			r.finishRace(c.userID)
		}
	}
}

// finishRace ends the race, ranking the cars still on track by progress
// and scoring everyone by distance covered.
func (r *Racing) finishRace(winner string) {
	remaining := make([]*car, 0, len(r.cars))
	for _, c := range r.cars {
		if c.rank == 0 {
			remaining = append(remaining, c)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return r.progress(remaining[i]) > r.progress(remaining[j])
	})
	for _, c := range remaining {
		c.rank = r.nextFrontRank
		r.nextFrontRank++
	}

	scores := make(map[string]int, len(r.cars))
	for _, c := range r.cars {
		scores[c.userID] = r.progress(c)
	}
	r.result = &game.Result{Winners: []string{winner}, Scores: scores, Reason: "finish_line"}
}

// progress counts checkpoints crossed since the start.
func (r *Racing) progress(c *car) int { return c.lap*len(r.track) + c.nextCheckpoint }

func (r *Racing) Snapshot() map[string]any {
	cars := make([]map[string]any, len(r.cars))
	for i, c := range r.cars {
		cars[i] = map[string]any{
			"user_id":         c.userID,
			"x":               round1(c.x),
			"y":               round1(c.y),
			"heading":         round1(c.heading),
			"speed":           round1(c.speed),
			"lap":             c.lap,
			"next_checkpoint": c.nextCheckpoint,
			"finished":        c.finished,
			"rank":            c.rank,
		}
	}
	return map[string]any{"cars": cars}
}

// HandleDisconnect force-finishes the car with the worst rank still
// open; a race with one car left on track ends in that car's favor.
func (r *Racing) HandleDisconnect(userID string) map[string]any {
	if r.result != nil {
		return nil
	}
	c, ok := r.byID[userID]
	if !ok || c.finished {
		return nil
	}
	c.finished = true
	c.rank = r.nextBackRank
	r.nextBackRank--

	var last *car
	count := 0
	for _, other := range r.cars {
		if !other.finished {
			last = other
			count++
		}
	}
	if count == 1 {
		last.finished = true
		last.rank = r.nextFrontRank
		r.nextFrontRank++
		r.finishRace(last.userID)
		r.result.Reason = "last_car_running"
	}

	return map[string]any{
		"event":   "forced_finish",
		"user_id": userID,
		"rank":    c.rank,
	}
}

func (r *Racing) Finished() bool       { return r.result != nil }
func (r *Racing) Result() *game.Result { return r.result }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round1 trims floats to one decimal to keep frames small.
func round1(v float64) float64 { return math.Round(v*10) / 10 }
