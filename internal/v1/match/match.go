// Package match runs quick-match: per-game FIFO queues that a periodic
// coalescer sorts by rating and folds into auto-created rooms.
package match

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/metrics"
	"github.com/partyhub/server/internal/v1/protocol"
	"github.com/partyhub/server/internal/v1/room"
)

var (
	ErrAlreadyQueued = errors.New("already in the match queue")
	ErrNotQueued     = errors.New("not in the match queue")
	ErrUnknownGame   = errors.New("unknown game type")
)

// ticket is one queued player.
type ticket struct {
	UserID      string
	DisplayName string
	GameType    string
	Rating      int
	EnqueuedAt  time.Time
}

// Matched is the coalescer's output for one formed group. The server
// wiring seats the sessions, announces match_found, and schedules the
// auto-start.
type Matched struct {
	Room    *room.Room
	Members []string
}

// Service owns the queues. One mutex guards all of them; the coalescer
// and the enqueue/cancel paths both take it.
type Service struct {
	mu     sync.Mutex
	queues map[string][]*ticket // game type -> FIFO
	byUser map[string]string    // user id -> game type

	limits    room.LimitsFunc
	rooms     *room.Manager
	registry  *gateway.Registry
	timeout   time.Duration
	onMatched func(Matched)
}

// NewService builds a matchmaking service. onMatched runs outside the
// service lock for every formed group.
func NewService(limits room.LimitsFunc, rooms *room.Manager, registry *gateway.Registry,
	timeout time.Duration, onMatched func(Matched)) *Service {
	return &Service{
		queues:    make(map[string][]*ticket),
		byUser:    make(map[string]string),
		limits:    limits,
		rooms:     rooms,
		registry:  registry,
		timeout:   timeout,
		onMatched: onMatched,
	}
}

// Enqueue adds the user to the game type's queue.
func (s *Service) Enqueue(userID, displayName string, rating int, gameType string) error {
	if _, ok := s.limits(gameType); !ok {
		return ErrUnknownGame
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, queued := s.byUser[userID]; queued {
		return ErrAlreadyQueued
	}
	s.queues[gameType] = append(s.queues[gameType], &ticket{
		UserID:      userID,
		DisplayName: displayName,
		GameType:    gameType,
		Rating:      rating,
		EnqueuedAt:  time.Now(),
	})
	s.byUser[userID] = gameType
	metrics.QueuedMatchRequests.WithLabelValues(gameType).Inc()
	return nil
}

// Cancel removes the user from whatever queue holds them.
func (s *Service) Cancel(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gameType, queued := s.byUser[userID]
	if !queued {
		return ErrNotQueued
	}
	s.removeLocked(gameType, userID)
	return nil
}

// Queued reports whether the user is waiting, and for which game type.
func (s *Service) Queued(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gameType, ok := s.byUser[userID]
	return gameType, ok
}

// Sweep runs one coalescer pass: expire stale tickets, then form groups.
func (s *Service) Sweep() {
	now := time.Now()

	s.mu.Lock()
	expired := make([]*ticket, 0)
	for gameType, queue := range s.queues {
		kept := queue[:0]
		for _, t := range queue {
			if now.Sub(t.EnqueuedAt) >= s.timeout {
				expired = append(expired, t)
				delete(s.byUser, t.UserID)
				metrics.QueuedMatchRequests.WithLabelValues(gameType).Dec()
				continue
			}
			kept = append(kept, t)
		}
		s.queues[gameType] = kept
	}
	groups := s.formGroupsLocked()
	s.mu.Unlock()

	for _, t := range expired {
		s.registry.SendToUser(t.UserID, protocol.NewOutbound(protocol.TypeMatchTimeout, map[string]any{
			"message": "no match found in time",
		}))
	}
	for _, g := range groups {
		s.openRoom(g)
	}
}

// RunCoalescer sweeps the queues until ctx is cancelled.
func (s *Service) RunCoalescer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// formGroupsLocked sorts each queue by rating and carves it into groups
// of up to the game's maximum. Any remainder of at least the minimum
// forms too; nobody waits once enough players are queued. Matched
// tickets leave the queue here.
func (s *Service) formGroupsLocked() [][]*ticket {
	var groups [][]*ticket

	for gameType, queue := range s.queues {
		limits, ok := s.limits(gameType)
		if !ok || len(queue) < limits.MinPlayers {
			continue
		}

		sorted := append([]*ticket(nil), queue...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rating < sorted[j].Rating })

		var formed [][]*ticket
		for len(sorted) >= limits.MinPlayers {
			take := limits.MaxPlayers
			if take > len(sorted) {
				take = len(sorted)
			}
			formed = append(formed, sorted[:take])
			sorted = sorted[take:]
		}

		for _, g := range formed {
			for _, t := range g {
				s.removeLocked(gameType, t.UserID)
			}
			groups = append(groups, g)
		}
	}
	return groups
}

// openRoom turns one formed group into a ready-to-start room.
func (s *Service) openRoom(group []*ticket) {
	host := group[0]
	r, err := s.rooms.Create(room.CreateParams{
		HostID:          host.UserID,
		HostDisplayName: host.DisplayName,
		GameType:        host.GameType,
		Name:            "quick match",
		MaxPlayers:      len(group),
		Private:         true,
	})
	if err != nil {
		s.failGroup(group, err)
		return
	}

	for _, t := range group[1:] {
		if _, err := s.rooms.Join(r.ID, t.UserID, t.DisplayName, ""); err != nil {
			logging.Warn(context.Background(), "seating matched player failed",
				zap.String("room_id", r.ID), zap.String("user_id", t.UserID), zap.Error(err))
			s.registry.SendToUser(t.UserID, protocol.NewOutbound(protocol.TypeMatchError, map[string]any{
				"message": "could not join matched room",
			}))
		}
	}
	for _, t := range group {
		if r.Has(t.UserID) {
			_ = s.rooms.SetReady(r.ID, t.UserID, true)
		}
	}

	members := make([]string, 0, len(group))
	for _, t := range group {
		if r.Has(t.UserID) {
			members = append(members, t.UserID)
		}
	}

	logging.Info(context.Background(), "match formed",
		zap.String("room_id", r.ID), zap.String("game_type", r.GameType),
		zap.Int("players", len(members)))

	if s.onMatched != nil {
		s.onMatched(Matched{Room: r, Members: members})
	}
}

// failGroup requeues nobody; everyone in a failed group gets match_error
// and must retry.
func (s *Service) failGroup(group []*ticket, err error) {
	logging.Error(context.Background(), "opening matched room failed", zap.Error(err))
	for _, t := range group {
		s.registry.SendToUser(t.UserID, protocol.NewOutbound(protocol.TypeMatchError, map[string]any{
			"message": "match could not be created",
		}))
	}
}

// removeLocked drops one ticket from its queue. Callers hold the lock.
func (s *Service) removeLocked(gameType, userID string) {
	queue := s.queues[gameType]
	for i, t := range queue {
		if t.UserID == userID {
			s.queues[gameType] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	delete(s.byUser, userID)
	metrics.QueuedMatchRequests.WithLabelValues(gameType).Dec()
}
