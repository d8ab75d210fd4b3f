package concurrency

import (
	"container/list"
	"context"
	"sync"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
)

// Limiter caps the number of operations executing at the same time. It is
// a counting semaphore with context support, strict FIFO wakeup of
// blocked acquirers, and state inspection.
//
// Every successful acquire must be paired with exactly one Release; a
// release without a matching acquire is a precondition violation and
// panics. Hold permits through a deferred Release so failure and timeout
// paths release too.
type Limiter interface {
	// TryAcquire attempts to acquire a permit without blocking.
	// It returns true if a permit was available, false otherwise.
	TryAcquire() bool

	// Acquire blocks until a permit is available or the context ends.
	// Waiters are granted permits in the order they arrived.
	Acquire(ctx context.Context) error

	// Release returns a permit to the limiter, waking the oldest waiter
	// if one exists. It panics if no permit is held.
	Release()

	// SetCapacity changes the maximum number of concurrent operations.
	// A reduction takes effect as in-flight operations release.
	SetCapacity(capacity int)

	// Capacity returns the maximum number of concurrent operations allowed.
	Capacity() int

	// InUse returns the number of permits currently held.
	InUse() int

	// Available returns the number of permits currently available.
	Available() int

	// Waiting returns the number of acquirers blocked in Acquire.
	Waiting() int
}

// Config holds configuration options for creating a new concurrency Limiter.
type Config struct {
	// Capacity is the maximum number of concurrent operations allowed.
	Capacity int
}

// semaphore implements Limiter. Blocked acquirers queue in a linked list;
// only the head of the list is ever granted a permit on release, so
// wakeup order is strictly first-come first-served.
type semaphore struct {
	mu        sync.Mutex
	capacity  int
	available int
	inUse     int
	waiters   *list.List // of chan struct{}
}

// NewSafe creates a new concurrency limiter with the given capacity.
func NewSafe(capacity int) (Limiter, error) {
	return NewWithConfigSafe(Config{Capacity: capacity})
}

// NewWithConfigSafe creates a new concurrency limiter from config,
// returning a validation error on bad input.
func NewWithConfigSafe(config Config) (Limiter, error) {
	if config.Capacity <= 0 {
		return nil, errors.NewValidationError("concurrency", "capacity", config.Capacity, "capacity must be positive").
			WithHint("capacity determines how many concurrent operations are allowed")
	}

	return &semaphore{
		capacity:  config.Capacity,
		available: config.Capacity,
		waiters:   list.New(),
	}, nil
}
