// Package media provides per-call audio channel plumbing between the
// transport boundary and the speech pipeline.
//
// Each active call owns exactly one ChannelPair: an inbound queue fed by the
// telephony media stream and consumed by the recognition adapter, and an
// outbound queue fed by the synthesis controller and drained by the media
// sender. The registry is the single owner of pair lifetimes; everything else
// holds only the call id and looks the pair up on demand, so teardown is safe
// even while other components still reference the id.
package media

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned when a call id is registered twice.
// Double registration indicates a bug in call setup, not a runtime condition.
var ErrAlreadyRegistered = errors.New("media: call already registered")

// ChannelPair holds the inbound and outbound audio queues for one call.
type ChannelPair struct {
	// Inbound carries caller audio from the transport to recognition.
	Inbound *ChunkQueue
	// Outbound carries synthesized audio from the agent to the transport.
	Outbound *ChunkQueue
}

// Registry maps call ids to their audio channel pairs.
// Safe for concurrent use. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*ChannelPair
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		calls: make(map[string]*ChannelPair),
	}
}

// Register creates the channel pair for a call. Returns ErrAlreadyRegistered
// if the call id is already present.
func (r *Registry) Register(callID string) (*ChannelPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[callID]; exists {
		return nil, ErrAlreadyRegistered
	}

	pair := &ChannelPair{
		Inbound:  NewChunkQueue(),
		Outbound: NewChunkQueue(),
	}
	r.calls[callID] = pair
	return pair, nil
}

// Get returns the channel pair for a call, or nil if the call is not registered.
func (r *Registry) Get(callID string) *ChannelPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[callID]
}

// Unregister removes a call's channel pair and closes both queues.
// Idempotent: unknown ids and repeated calls are no-ops.
func (r *Registry) Unregister(callID string) {
	r.mu.Lock()
	pair := r.calls[callID]
	delete(r.calls, callID)
	r.mu.Unlock()

	if pair != nil {
		pair.Inbound.Close()
		pair.Outbound.Close()
	}
}

// PushInbound delivers a caller audio chunk. Chunks for unregistered calls
// are silently dropped; the transport may keep delivering briefly after teardown.
func (r *Registry) PushInbound(callID string, chunk []byte) {
	if pair := r.Get(callID); pair != nil {
		pair.Inbound.Push(chunk)
	}
}

// PushOutbound delivers a synthesized audio chunk. Chunks for unregistered
// calls are silently dropped.
func (r *Registry) PushOutbound(callID string, chunk []byte) {
	if pair := r.Get(callID); pair != nil {
		pair.Outbound.Push(chunk)
	}
}

// Len returns the number of registered calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
