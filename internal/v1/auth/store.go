package auth

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is the durable identity record.
type User struct {
	ID          string   `json:"user_id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Avatar      string   `json:"avatar"`
	Level       int      `json:"level"`
	Exp         int      `json:"exp"`
	Coins       int      `json:"coins"`
	Rating      int      `json:"rating"`
	GamesPlayed int      `json:"games_played"`
	GamesWon    int      `json:"games_won"`
	Friends     []string `json:"-"`

	PasswordHash []byte    `json:"-"`
	LastLogin    time.Time `json:"-"`
}

// PublicProfile is the subset of User sent to other clients.
type PublicProfile struct {
	ID          string `json:"user_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	Level       int    `json:"level"`
	Rating      int    `json:"rating"`
}

// Public returns the shareable view of the user.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Level:       u.Level,
		Rating:      u.Rating,
	}
}

// Store abstracts user persistence. The reference deployment keeps users
// in memory; a database-backed implementation satisfies the same interface.
type Store interface {
	Create(u *User) error
	GetByID(id string) (*User, bool)
	GetByName(name string) (*User, bool)
	Update(id string, mutate func(*User)) error
	List() []*User
}

// MemoryStore is the in-memory Store used by the single-process server.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*User
	byName map[string]string // name -> id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*User),
		byName: make(map[string]string),
	}
}

// Create inserts a new user. The caller is expected to have checked the
// name is free; Create re-checks under the lock and fails on a duplicate.
func (s *MemoryStore) Create(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[u.Name]; taken {
		return ErrNameTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	s.byID[cp.ID] = &cp
	s.byName[cp.Name] = cp.ID
	return nil
}

// GetByID returns a copy of the user with the given id.
func (s *MemoryStore) GetByID(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	cp := *u
	cp.Friends = append([]string(nil), u.Friends...)
	return &cp, true
}

// GetByName returns a copy of the user with the given login name.
func (s *MemoryStore) GetByName(name string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	u := s.byID[id]
	cp := *u
	cp.Friends = append([]string(nil), u.Friends...)
	return &cp, true
}

// Update applies mutate to the stored user under the write lock.
func (s *MemoryStore) Update(id string, mutate func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	mutate(u)
	return nil
}

// List returns copies of all users ordered by name.
func (s *MemoryStore) List() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
