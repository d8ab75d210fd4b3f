// Package queue provides the bounded FIFO buffer between admission and
// execution in the flowgate pipeline. Offer rejects instead of blocking
// when the queue is at capacity: that rejection is the load-shedding
// signal, not an exceptional condition.
package queue

import (
	"context"
	"sync"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
)

// Queue is a fixed-capacity FIFO buffer. Items are dequeued in the exact
// order they were successfully offered; the only way an item is dropped
// is an explicit Offer rejection at capacity.
type Queue[T any] interface {
	// Offer appends item and returns true, or returns false if the queue
	// is at capacity or closed. It never blocks.
	Offer(item T) bool

	// Poll removes and returns the front item. The second return value is
	// false if the queue is empty. It never blocks.
	Poll() (T, bool)

	// PollWait removes and returns the front item, blocking until an item
	// is available, the context ends, or the queue is closed and drained.
	PollWait(ctx context.Context) (T, error)

	// Len returns the current number of queued items.
	Len() int

	// Cap returns the queue capacity.
	Cap() int

	// Close closes the queue. Subsequent Offers return false; PollWait
	// keeps draining remaining items and returns ErrQueueClosed once empty.
	Close() error

	// Stats returns queue statistics.
	Stats() Stats
}

// Stats holds counters describing queue traffic.
type Stats struct {
	// Offered is the number of items accepted by Offer.
	Offered int64

	// Rejected is the number of Offers refused at capacity.
	Rejected int64

	// Polled is the number of items dequeued.
	Polled int64
}

// boundedQueue implements Queue with a ring buffer. A single mutex guards
// the buffer; notEmpty wakes consumers blocked in PollWait.
type boundedQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	buffer []T
	head   int
	tail   int
	count  int
	closed bool

	stats Stats
}

// NewSafe creates a bounded queue with the given capacity.
func NewSafe[T any](capacity int) (Queue[T], error) {
	if capacity <= 0 {
		return nil, errors.NewValidationError("queue", "capacity", capacity, "capacity must be positive").
			WithHint("capacity bounds the admitted-but-unprocessed backlog")
	}

	q := &boundedQueue[T]{
		buffer: make([]T, capacity),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q, nil
}

// Offer implements Queue.Offer.
func (q *boundedQueue[T]) Offer(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.count == len(q.buffer) {
		q.stats.Rejected++
		return false
	}

	q.buffer[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buffer)
	q.count++
	q.stats.Offered++

	q.notEmpty.Signal()
	return true
}

// Poll implements Queue.Poll.
func (q *boundedQueue[T]) Poll() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.removeFront(), true
}

// PollWait implements Queue.PollWait. Context cancellation is observed at
// wakeup points; a watcher goroutine broadcasts on ctx.Done so a blocked
// consumer does not sleep through cancellation.
func (q *boundedQueue[T]) PollWait(ctx context.Context) (T, error) {
	var zero T

	// Wake all waiters when the context ends so the ctx.Err check runs.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if q.closed {
			return zero, errors.ErrQueueClosed
		}
		q.notEmpty.Wait()
	}

	return q.removeFront(), nil
}

// Len implements Queue.Len.
func (q *boundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap implements Queue.Cap.
func (q *boundedQueue[T]) Cap() int {
	return len(q.buffer)
}

// Close implements Queue.Close.
func (q *boundedQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.ErrQueueClosed
	}
	q.closed = true
	q.notEmpty.Broadcast()
	return nil
}

// Stats implements Queue.Stats.
func (q *boundedQueue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// removeFront pops the head item (must hold q.mu, count > 0).
func (q *boundedQueue[T]) removeFront() T {
	item := q.buffer[q.head]
	var zero T
	q.buffer[q.head] = zero // Clear reference
	q.head = (q.head + 1) % len(q.buffer)
	q.count--
	q.stats.Polled++
	return item
}
