package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Push after Close, and by Pop once a closed
// queue is empty.
var ErrQueueClosed = errors.New("queue closed")

// Overflow selects what Push does when a bounded queue is full.
type Overflow string

const (
	OverflowBlock      Overflow = "block"
	OverflowDropOldest Overflow = "drop_oldest"
)

// ParseOverflow maps a config value onto an Overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch Overflow(s) {
	case "", OverflowBlock:
		return OverflowBlock, nil
	case OverflowDropOldest:
		return OverflowDropOldest, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q", s)
}

// Queue is a FIFO safe for many producers and one consumer. A capacity of
// zero leaves it unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	overflow Overflow
	closed   bool
	dropped  uint64

	notify chan struct{}
	space  chan struct{}
	done   chan struct{}
}

func NewQueue[T any](capacity int, overflow Overflow) *Queue[T] {
	if overflow == "" {
		overflow = OverflowBlock
	}
	return &Queue[T]{
		capacity: capacity,
		overflow: overflow,
		notify:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push appends item. On a full queue it either waits for room (honouring ctx)
// or discards the oldest item, depending on the overflow policy.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, item)
			roomLeft := q.capacity <= 0 || len(q.items) < q.capacity
			q.mu.Unlock()
			signal(q.notify)
			if roomLeft {
				// pass the wakeup on to another blocked producer
				signal(q.space)
			}
			return nil
		}
		if q.overflow == OverflowDropOldest {
			var zero T
			q.items[0] = zero
			q.items = append(q.items[1:], item)
			q.dropped++
			q.mu.Unlock()
			signal(q.notify)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes the oldest item, waiting until one is available.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			signal(q.space)
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports how many items the drop_oldest policy has discarded.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
