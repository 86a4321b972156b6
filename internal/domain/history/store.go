// Package history keeps the per-user assistant conversation log used to
// give the text-completion collaborator context. Entries live only for the
// process lifetime and each user's log is bounded: once the limit is
// reached the oldest turns are evicted, so long-lived sessions cannot grow
// memory without bound.
package history

import (
	"sync"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a user's conversation with the assistant.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Store holds bounded per-user conversation logs.
type Store struct {
	mu       sync.RWMutex
	maxTurns int
	chats    map[string][]Turn
}

// NewStore creates a store retaining at most maxTurns turns per user.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = 100
	}
	return &Store{
		maxTurns: maxTurns,
		chats:    make(map[string][]Turn),
	}
}

// AddUser ensures a log exists for userID.
func (s *Store) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[userID]; !ok {
		s.chats[userID] = nil
	}
}

// Append records a turn for userID, creating the log lazily and evicting
// the oldest turn once the bound is reached.
func (s *Store) Append(userID string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.chats[userID], turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.chats[userID] = turns
}

// Turns returns a copy of userID's full retained log, oldest first.
func (s *Store) Turns(userID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.chats[userID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Recent returns at most n of userID's newest turns, oldest first.
func (s *Store) Recent(userID string, n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.chats[userID]
	if n < len(turns) {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// RemoveUser drops userID's log entirely.
func (s *Store) RemoveUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chats, userID)
}

// Users returns the number of users with a log.
func (s *Store) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.chats)
}
