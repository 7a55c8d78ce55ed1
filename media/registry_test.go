package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	pair, err := r.Register("call-1")
	require.NoError(t, err)
	require.NotNil(t, pair)

	assert.Same(t, pair, r.Get("call-1"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DoubleRegisterFails(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("call-1")
	require.NoError(t, err)

	_, err = r.Register("call-1")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistry_GetUnknownReturnsNil(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("nope"))
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("call-1")
	require.NoError(t, err)

	r.Unregister("call-1")
	r.Unregister("call-1")
	r.Unregister("never-registered")

	assert.Nil(t, r.Get("call-1"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_UnregisterClosesQueues(t *testing.T) {
	r := NewRegistry()
	pair, err := r.Register("call-1")
	require.NoError(t, err)

	r.Unregister("call-1")

	_, err = pair.Inbound.Next(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, err = pair.Outbound.Next(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRegistry_PushToUnregisteredIsSilentDrop(t *testing.T) {
	r := NewRegistry()

	// Must not panic or error.
	r.PushInbound("ghost", []byte("audio"))
	r.PushOutbound("ghost", []byte("audio"))
}

func TestRegistry_PushInboundDelivery(t *testing.T) {
	r := NewRegistry()
	pair, err := r.Register("call-1")
	require.NoError(t, err)

	r.PushInbound("call-1", []byte("hello"))
	chunk, err := pair.Inbound.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))
}

func TestRegistry_FreshRegistrationYieldsFreshQueues(t *testing.T) {
	r := NewRegistry()
	first, err := r.Register("call-1")
	require.NoError(t, err)
	r.Unregister("call-1")

	second, err := r.Register("call-1")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	r.PushInbound("call-1", []byte("fresh"))
	chunk, err := second.Inbound.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(chunk))
}
