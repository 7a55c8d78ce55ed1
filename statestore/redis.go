package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultTTL bounds how long call session state stays readable.
	defaultTTL = time.Hour

	// defaultPrefix namespaces session keys.
	defaultPrefix = "ringlet"
)

// RedisStore provides a Redis-backed implementation of the Store interface.
// It uses JSON serialization and relies on Redis key TTLs for expiry, which
// makes it suitable for multi-instance deployments where takeover requests
// are written by a different process than the call loop.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for session entries.
// Default is one hour.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "ringlet".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Get retrieves the session state for a call.
func (s *RedisStore) Get(ctx context.Context, callID string) (*CallState, error) {
	data, err := s.client.Get(ctx, s.sessionKey(callID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var state CallState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &state, nil
}

// Set writes the session state with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, callID string, state *CallState) error {
	state.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	if err := s.client.Set(ctx, s.sessionKey(callID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Update applies mutate to the current state and writes it back.
// A missing entry starts from the zero state.
func (s *RedisStore) Update(ctx context.Context, callID string, mutate func(*CallState)) error {
	state, err := s.Get(ctx, callID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		state = &CallState{}
	}
	mutate(state)
	return s.Set(ctx, callID, state)
}

// Delete removes the session state for a call.
func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, s.sessionKey(callID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CleanupStale scans session keys and deletes entries whose UpdatedAt is
// older than maxAge. Returns the number of deleted entries.
func (s *RedisStore) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	deleted := 0
	cutoff := time.Now().UTC().Add(-maxAge)

	iter := s.client.Scan(ctx, 0, s.sessionKey("*"), 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var state CallState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if !state.UpdatedAt.IsZero() && state.UpdatedAt.Before(cutoff) {
			if err := s.client.Del(ctx, key).Err(); err == nil {
				deleted++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan failed: %w", err)
	}
	return deleted, nil
}

// sessionKey generates the Redis key for a call session.
func (s *RedisStore) sessionKey(callID string) string {
	return fmt.Sprintf("%s:call:%s", s.prefix, callID)
}
