// Package queue provides the FIFO hand-off between the message router and
// the generation worker.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFull is returned by Submit when the queue is at capacity and the
// admission policy gives up.
var ErrFull = errors.New("queue: full")

// ErrClosed is returned by Submit and Take once the queue has been closed
// and, for Take, drained.
var ErrClosed = errors.New("queue: closed")

// Policy decides what Submit does when the queue is full.
type Policy int

const (
	// Reject fails immediately with ErrFull.
	Reject Policy = iota
	// Block waits up to the block timeout for room, then fails with ErrFull.
	Block
)

// Opts holds parameters for creating a Queue.
type Opts struct {
	Capacity     int // 0 means unbounded
	Policy       Policy
	BlockTimeout time.Duration // Block policy only; 0 waits until ctx ends
}

// Queue is a FIFO safe for any number of producers and consumers. Items
// come out of Take in the order their Submit calls acquired the lock.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	closed   bool
	capacity int
	policy   Policy
	timeout  time.Duration

	// Broadcast channels, closed and replaced on every state change.
	notEmpty chan struct{}
	notFull  chan struct{}
}

// New creates a Queue.
func New[T any](opts Opts) *Queue[T] {
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	return &Queue[T]{
		capacity: opts.Capacity,
		policy:   opts.Policy,
		timeout:  opts.BlockTimeout,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
	}
}

// Submit appends item and returns its 1-based position among waiting items.
// It never blocks on an unbounded queue.
func (q *Queue[T]) Submit(ctx context.Context, item T) (int, error) {
	var deadline <-chan time.Time
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrClosed
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, item)
			pos := len(q.items)
			q.broadcast(&q.notEmpty)
			q.mu.Unlock()
			return pos, nil
		}
		if q.policy == Reject {
			q.mu.Unlock()
			return 0, ErrFull
		}
		wait := q.notFull
		q.mu.Unlock()

		if deadline == nil && q.timeout > 0 {
			timer := time.NewTimer(q.timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-wait:
		case <-deadline:
			return 0, ErrFull
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Take removes and returns the oldest item, blocking until one is
// available, the queue is closed and drained, or ctx ends.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.broadcast(&q.notFull)
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		wait := q.notEmpty
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of waiting items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the configured bound, 0 for unbounded.
func (q *Queue[T]) Capacity() int { return q.capacity }

// Close stops admissions. Items already queued can still be taken.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast(&q.notEmpty)
	q.broadcast(&q.notFull)
}

// broadcast wakes every waiter on *ch. Caller holds q.mu.
func (q *Queue[T]) broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}
