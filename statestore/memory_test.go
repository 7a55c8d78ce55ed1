package statestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Set(ctx, "call-1", &CallState{Status: StatusActive, Caller: "+15551234"})
	require.NoError(t, err)

	state, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, "+15551234", state.Caller)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := NewMemoryStore(WithMemoryTTL(time.Minute), withClock(clock))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "call-ttl", &CallState{Status: StatusActive}))

	// Still readable within the TTL window.
	_, err := store.Get(ctx, "call-ttl")
	require.NoError(t, err)

	// Not readable once the TTL elapses.
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = store.Get(ctx, "call-ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "call-1", &CallState{Status: StatusActive}))
	require.NoError(t, store.Delete(ctx, "call-1"))
	require.NoError(t, store.Delete(ctx, "call-1"))

	_, err := store.Get(ctx, "call-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateMergesTakeoverFlags(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "call-1", &CallState{Status: StatusActive, Caller: "+15551234"}))

	// Out-of-band takeover request mutates the existing state.
	err := store.Update(ctx, "call-1", func(s *CallState) {
		s.TakeoverRequested = true
		s.TakeoverUserID = "user-9"
		s.TakeoverPhone = "+15559999"
	})
	require.NoError(t, err)

	state, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, state.TakeoverRequested)
	assert.Equal(t, "+15559999", state.TakeoverPhone)
	// Prior fields survive the read-modify-write.
	assert.Equal(t, "+15551234", state.Caller)
}

func TestMemoryStore_UpdateMissingStartsFromZero(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Update(ctx, "new-call", func(s *CallState) {
		s.Status = StatusActive
	})
	require.NoError(t, err)

	state, err := store.Get(ctx, "new-call")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
}

func TestMemoryStore_CleanupStale(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	// No TTL so only the sweep removes entries.
	store := NewMemoryStore(WithMemoryTTL(0), withClock(clock))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", &CallState{Status: StatusActive}))

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	require.NoError(t, store.Set(ctx, "fresh", &CallState{Status: StatusActive}))

	deleted, err := store.CleanupStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.Set(ctx, "shared", &CallState{Status: StatusActive})
			_, _ = store.Get(ctx, "shared")
			_ = store.Update(ctx, "shared", func(s *CallState) {
				s.TakeoverRequested = n%2 == 0
			})
		}(i)
	}
	wg.Wait()

	_, err := store.Get(ctx, "shared")
	assert.NoError(t, err)
}
