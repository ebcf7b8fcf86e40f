package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/mastercactapus/gscan/coord"
)

// DefaultQueueCapacity is used for a Queue created with capacity <= 0.
const DefaultQueueCapacity = 1 << 16

// ErrQueueClosed is returned by Push after Close, and by Pop once a closed
// queue has been drained.
var ErrQueueClosed = errors.New("stream: queue closed")

// Queue is a bounded FIFO of points safe for many producers and consumers.
// Push blocks while the queue is full, so a slow consumer slows down the
// connections feeding it instead of growing memory.
type Queue struct {
	ch   chan coord.Point
	done chan struct{}
	once sync.Once
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		ch:   make(chan coord.Point, capacity),
		done: make(chan struct{}),
	}
}

// Push adds p, waiting for room while the queue is full.
func (q *Queue) Push(ctx context.Context, p coord.Point) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- p:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest point, waiting until one is available.
func (q *Queue) Pop(ctx context.Context) (coord.Point, error) {
	select {
	case p := <-q.ch:
		return p, nil
	case <-q.done:
		if p, ok := q.TryPop(); ok {
			return p, nil
		}
		return coord.Point{}, ErrQueueClosed
	case <-ctx.Done():
		return coord.Point{}, ctx.Err()
	}
}

// TryPop removes the oldest point if there is one.
func (q *Queue) TryPop() (coord.Point, bool) {
	select {
	case p := <-q.ch:
		return p, true
	default:
		return coord.Point{}, false
	}
}

// C exposes the queue for use in a select. It is never closed; watch Done.
func (q *Queue) C() <-chan coord.Point { return q.ch }

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Len is the number of queued points.
func (q *Queue) Len() int { return len(q.ch) }

// Cap is the capacity of the queue.
func (q *Queue) Cap() int { return cap(q.ch) }

// Close rejects further pushes and wakes blocked callers. Queued points can
// still be popped.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
