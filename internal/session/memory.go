package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	state   State
	expires time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]memoryEntry
	inFlight map[string]time.Time
}

// NewMemoryStore returns a store whose entries expire ttl after their last save.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
		inFlight: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(entry.expires) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	state := entry.state
	if state.Result != nil {
		result := *state.Result
		state.Result = &result
	}
	return &state, nil
}

func (m *MemoryStore) Save(ctx context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	copied := *state
	if state.Result != nil {
		result := *state.Result
		copied.Result = &result
	}
	m.sessions[state.ID] = memoryEntry{state: copied, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryStore) TryBegin(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.inFlight[id]; ok && now.Before(expires) {
		return false, nil
	}
	m.inFlight[id] = now.Add(m.ttl)
	return true, nil
}

func (m *MemoryStore) End(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
	return nil
}

// sweep drops expired entries. Callers hold m.mu.
func (m *MemoryStore) sweep(now time.Time) {
	for id, entry := range m.sessions {
		if !now.Before(entry.expires) {
			delete(m.sessions, id)
		}
	}
	for id, expires := range m.inFlight {
		if !now.Before(expires) {
			delete(m.inFlight, id)
		}
	}
}
