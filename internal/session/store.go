package session

import (
	"slices"
	"sync"
)

// Store owns every user session. Implementations serialize access per
// session: fn passed to Update/View never runs concurrently with another
// fn for the same user.
type Store interface {
	// Reset replaces the user's session with an empty one.
	Reset(userID int64)
	// Update runs fn with exclusive access to the session. Returns
	// ErrNoSession if the user never started one, or fn's error.
	Update(userID int64, fn func(s *Session) error) error
	// View runs fn with exclusive access; fn must not retain s.
	View(userID int64, fn func(s *Session)) error
	// UserIDs returns the users with a session, in ascending order.
	UserIDs() []int64
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

// MemoryStore keeps sessions in process memory; they are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[int64]*entry{}}
}

func (m *MemoryStore) get(userID int64) *entry {
	m.mu.RLock()
	e := m.entries[userID]
	m.mu.RUnlock()
	return e
}

func (m *MemoryStore) Reset(userID int64) {
	m.mu.Lock()
	e := m.entries[userID]
	if e == nil {
		m.entries[userID] = &entry{s: newSession(userID)}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Swap under the entry lock so an in-flight poll finishes on the old state first.
	e.mu.Lock()
	e.s = newSession(userID)
	e.mu.Unlock()
}

func (m *MemoryStore) Update(userID int64, fn func(s *Session) error) error {
	e := m.get(userID)
	if e == nil {
		return ErrNoSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.s)
}

func (m *MemoryStore) View(userID int64, fn func(s *Session)) error {
	return m.Update(userID, func(s *Session) error {
		fn(s)
		return nil
	})
}

func (m *MemoryStore) UserIDs() []int64 {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
