package stt

import (
	"context"
	"sync"
	"time"
)

// Stream is a live recognition connection bound to one call.
//
// Implementations own a background task that forwards inbound call audio
// upstream while translated recognition events accumulate on an internal
// ordered queue. NextEvent is the orchestrator's sole suspension point for
// waiting on caller speech.
type Stream interface {
	// Start opens the upstream connection. On a stream whose credentials are
	// missing, Start succeeds but leaves the stream disabled.
	Start(ctx context.Context) error

	// NextEvent blocks until an event is available or the timeout elapses.
	// A timeout returns (nil, nil): "no event" is a normal outcome, not an
	// error. Events are returned exactly once, in arrival order.
	NextEvent(ctx context.Context, timeout time.Duration) (*RecognitionEvent, error)

	// Close tears down the upstream connection. Always safe to call,
	// including repeatedly or after a failed Start.
	Close() error

	// Enabled reports whether live recognition is actually running.
	Enabled() bool
}

// eventQueue is an unbounded ordered queue of recognition events.
type eventQueue struct {
	mu     sync.Mutex
	events []*RecognitionEvent
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *eventQueue) push(ev *RecognitionEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest event, blocking up to timeout.
// Returns (nil, nil) on timeout and on a closed, drained queue.
func (q *eventQueue) next(ctx context.Context, timeout time.Duration) (*RecognitionEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// DisabledStream is the degraded-mode stream used when recognition is not
// configured. Every NextEvent waits out its timeout and reports no event.
type DisabledStream struct{}

// Start is a no-op.
func (DisabledStream) Start(_ context.Context) error { return nil }

// NextEvent waits for the timeout (or context cancellation) and returns no event.
func (DisabledStream) NextEvent(ctx context.Context, timeout time.Duration) (*RecognitionEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

// Close is a no-op.
func (DisabledStream) Close() error { return nil }

// Enabled reports false.
func (DisabledStream) Enabled() bool { return false }
