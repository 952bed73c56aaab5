package domain

import (
	"sort"
	"sync"
	"time"
)

// Identity is the verified caller attached to a session for its lifetime.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Session is one live connection bound to an identity. The joined-room set
// is written only by the hub, under its lock, so that it always mirrors
// the hub's room membership.
type Session struct {
	ID           string
	Identity     Identity
	CreatedAt    time.Time
	lastActiveAt time.Time
	rooms        map[RoomKey]struct{}
	mu           sync.RWMutex
}

func NewSession(id string, identity Identity) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Identity:     identity,
		CreatedAt:    now,
		lastActiveAt: now,
		rooms:        make(map[RoomKey]struct{}),
	}
}

func (s *Session) UserID() string {
	return s.Identity.UserID
}

func (s *Session) Username() string {
	return s.Identity.Username
}

// AddRoom records key and reports whether it was newly added.
func (s *Session) AddRoom(key RoomKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[key]; ok {
		return false
	}
	s.rooms[key] = struct{}{}
	return true
}

// RemoveRoom forgets key and reports whether it was present.
func (s *Session) RemoveRoom(key RoomKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[key]; !ok {
		return false
	}
	delete(s.rooms, key)
	return true
}

func (s *Session) InRoom(key RoomKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[key]
	return ok
}

// Rooms returns the joined rooms in a stable order.
func (s *Session) Rooms() []RoomKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoomKey, 0, len(s.rooms))
	for key := range s.rooms {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}
