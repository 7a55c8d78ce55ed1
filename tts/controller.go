package tts

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ringlet-ai/ringlet/logger"
)

// sinkChunkSize bounds how much audio is handed to the sink at once.
// Small chunks keep barge-in cancellation latency low.
const sinkChunkSize = 4096

// Sink receives synthesized audio chunks in order.
type Sink func(chunk []byte) error

// Controller drives speech synthesis for a single call.
//
// At most one synthesis is in flight per call: concurrent SendStream calls
// serialize on an internal lock. Flush cancels the in-flight synthesis
// promptly; once flushed, no further chunks reach the sink. A controller
// built without a service degrades every SendStream to a logged no-op.
type Controller struct {
	svc  Service
	cfg  SynthesisConfig
	sink Sink
	log  interface {
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}

	// mu serializes SendStream invocations per call.
	mu     sync.Mutex
	active atomic.Bool

	// cancelMu guards the in-flight synthesis cancel function.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewController creates a synthesis controller for one call.
// Pass a nil service to run in degraded (no synthesis) mode.
func NewController(svc Service, cfg SynthesisConfig, sink Sink) *Controller {
	return &Controller{
		svc:  svc,
		cfg:  cfg,
		sink: sink,
		log:  logger.DefaultLogger,
	}
}

// SendStream synthesizes text and streams the audio to the sink.
//
// The controller is marked active for the duration of the stream and is
// guaranteed inactive on every exit path: completion, provider failure, and
// flush. When synthesis is unconfigured this is a warning-logged no-op, never
// a fatal error.
func (c *Controller) SendStream(ctx context.Context, text string) error {
	if c.svc == nil {
		c.log.Warn("synthesis disabled: no provider configured")
		return nil
	}
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.active.Store(true)
	defer c.active.Store(false)

	synthCtx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	defer func() {
		c.cancelMu.Lock()
		c.cancel = nil
		c.cancelMu.Unlock()
		cancel()
	}()

	body, err := c.svc.Synthesize(synthCtx, text, c.cfg)
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, sinkChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			// Drop the chunk if a flush arrived while it was in flight.
			if synthCtx.Err() != nil {
				return nil
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if c.sink != nil {
				if err := c.sink(chunk); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || synthCtx.Err() != nil {
				return nil
			}
			return readErr
		}
	}
}

// Flush signals a barge-in: the in-flight synthesis stops emitting audio
// promptly. Safe to call at any time, including when nothing is in flight.
func (c *Controller) Flush() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()

	if cancel != nil {
		c.log.Debug("synthesis flushed")
		cancel()
	}
}

// IsActive reports whether a synthesis stream is currently in flight.
func (c *Controller) IsActive() bool {
	return c.active.Load()
}
