// Package statestore provides short-lived per-call session state.
//
// State entries expire after a TTL and may be mutated out-of-band: a human
// takeover request arrives through the realtime control channel and must
// become visible to the orchestrator's next poll. Reads and writes are
// last-write-wins; no cross-process transaction is provided or needed.
package statestore

import (
	"context"
	"errors"
	"time"
)

// Session status values.
const (
	StatusActive      = "active"
	StatusEscalated   = "escalated"
	StatusTransferred = "transferred"
)

// ErrNotFound is returned when no state exists for a call id
// (never written, expired, or explicitly deleted).
var ErrNotFound = errors.New("statestore: session not found")

// CallState is the small per-call attribute set shared between the
// orchestrator and out-of-band control handlers.
type CallState struct {
	// Status is the session status (active, escalated, transferred).
	Status string `json:"status"`

	// Caller is the caller's phone number.
	Caller string `json:"caller"`

	// TakeoverRequested is set by a human operator's control request.
	TakeoverRequested bool `json:"takeover_requested,omitempty"`

	// TakeoverUserID identifies the operator requesting the takeover.
	TakeoverUserID string `json:"takeover_user_id,omitempty"`

	// TakeoverPhone is the number the call should be transferred to.
	TakeoverPhone string `json:"takeover_phone,omitempty"`

	// UpdatedAt is stamped on every write.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the session state interface.
// Implementations must expire entries after the configured TTL: state for a
// call id must not be readable after its TTL elapses or after Delete.
type Store interface {
	// Get returns the current state for a call. Returns ErrNotFound for
	// unknown or expired ids.
	Get(ctx context.Context, callID string) (*CallState, error)

	// Set writes the full state for a call, stamping UpdatedAt and
	// resetting the TTL.
	Set(ctx context.Context, callID string, state *CallState) error

	// Update applies mutate to the current state (zero state if absent)
	// and writes it back. Read-modify-write with last-write-wins semantics.
	Update(ctx context.Context, callID string, mutate func(*CallState)) error

	// Delete removes the state for a call. Unknown ids are a no-op.
	Delete(ctx context.Context, callID string) error
}

// StaleCleaner is implemented by stores that support sweeping entries whose
// UpdatedAt is older than a maximum age. The sweep backstops TTL expiry for
// deployments where entries are rewritten often enough to never expire.
type StaleCleaner interface {
	// CleanupStale deletes entries older than maxAge and returns how many
	// were removed.
	CleanupStale(ctx context.Context, maxAge time.Duration) (int, error)
}
