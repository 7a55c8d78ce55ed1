package statestore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is thread-safe and suitable for development, testing, and
// single-instance deployments. For distributed deployments use RedisStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	state     CallState
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL sets the time-to-live for session entries.
// Zero means entries never expire.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

// withClock overrides the time source (for tests).
func withClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     defaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves the session state for a call.
// Expired entries are removed lazily and reported as ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, callID string) (*CallState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[callID]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, callID)
		return nil, ErrNotFound
	}

	state := entry.state
	return &state, nil
}

// Set writes the session state, stamping UpdatedAt and resetting expiry.
func (s *MemoryStore) Set(_ context.Context, callID string, state *CallState) error {
	state.UpdatedAt = s.now().UTC()

	entry := &memoryEntry{state: *state}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[callID] = entry
	s.mu.Unlock()
	return nil
}

// Update applies mutate to the current state and writes it back.
func (s *MemoryStore) Update(ctx context.Context, callID string, mutate func(*CallState)) error {
	state, err := s.Get(ctx, callID)
	if err != nil {
		state = &CallState{}
	}
	mutate(state)
	return s.Set(ctx, callID, state)
}

// Delete removes the session state for a call.
func (s *MemoryStore) Delete(_ context.Context, callID string) error {
	s.mu.Lock()
	delete(s.entries, callID)
	s.mu.Unlock()
	return nil
}

// CleanupStale deletes entries whose UpdatedAt is older than maxAge.
func (s *MemoryStore) CleanupStale(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, entry := range s.entries {
		if entry.state.UpdatedAt.Before(cutoff) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}
