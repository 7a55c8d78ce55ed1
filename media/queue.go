package media

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Next once a drained queue has been closed.
var ErrQueueClosed = errors.New("media: queue closed")

// ChunkQueue is an unbounded FIFO queue of opaque audio byte chunks.
// Pushes never block; Next blocks until a chunk is available, the queue is
// closed and drained, or the context is canceled. Chunk order is preserved
// exactly. Safe for concurrent use.
type ChunkQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool

	// notify wakes a single waiting reader after a push.
	notify chan struct{}
	// done wakes all waiting readers on close.
	done      chan struct{}
	closeOnce sync.Once
}

// NewChunkQueue creates an empty chunk queue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends a chunk to the queue. Pushing to a closed queue is a no-op;
// audio arriving after teardown is expected and silently dropped.
func (q *ChunkQueue) Push(chunk []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next returns the next chunk in FIFO order. It blocks until a chunk is
// available. Returns ErrQueueClosed once the queue is closed and fully
// drained, or the context error if ctx is canceled first.
func (q *ChunkQueue) Next(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			chunk := q.chunks[0]
			q.chunks = q.chunks[1:]
			q.mu.Unlock()
			return chunk, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Close marks the queue closed and wakes all blocked readers.
// Remaining chunks stay readable until drained. Safe to call multiple times.
func (q *ChunkQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len returns the number of buffered chunks.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
