package concurrency

import (
	"context"
)

// TryAcquire attempts to acquire one permit without blocking.
func (s *semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available > 0 {
		s.available--
		s.inUse++
		return true
	}
	return false
}

// Acquire blocks until a permit is available. Waiters are served strictly
// in arrival order: a release hands its permit to the oldest waiter.
func (s *semaphore) Acquire(ctx context.Context) error {
	// Check if context is already canceled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()

	// Fast path: permit available and nobody queued ahead of us
	if s.available > 0 {
		s.available--
		s.inUse++
		s.mu.Unlock()
		return nil
	}

	// Slow path: join the back of the waiter queue
	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// A release granted us the permit between cancellation and
			// taking the lock; keep it rather than leak it.
			s.mu.Unlock()
			return nil
		default:
			s.waiters.Remove(elem)
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns one permit. If waiters are queued the permit is handed
// directly to the oldest one, so inUse does not dip in between.
func (s *semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse == 0 {
		panic("concurrency: Release without matching Acquire")
	}

	if s.waiters.Len() > 0 && s.inUse <= s.capacity {
		elem := s.waiters.Front()
		s.waiters.Remove(elem)
		close(elem.Value.(chan struct{}))
		return
	}

	s.inUse--
	if s.available+s.inUse < s.capacity {
		s.available++
	}
}

// SetCapacity changes the maximum number of concurrent operations allowed.
func (s *semaphore) SetCapacity(newCapacity int) {
	if newCapacity <= 0 {
		panic("concurrency: capacity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldCapacity := s.capacity
	s.capacity = newCapacity

	if newCapacity > oldCapacity {
		s.available += newCapacity - oldCapacity
		// Grant freed permits to queued waiters, oldest first
		for s.available > 0 && s.waiters.Len() > 0 {
			elem := s.waiters.Front()
			s.waiters.Remove(elem)
			close(elem.Value.(chan struct{}))
			s.available--
			s.inUse++
		}
	} else {
		reduction := oldCapacity - newCapacity
		if s.available >= reduction {
			s.available -= reduction
		} else {
			// Permits already in use; the rest retire as they release
			s.available = 0
		}
	}
}

// Capacity returns the maximum number of concurrent operations allowed.
func (s *semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// InUse returns the number of permits currently held.
func (s *semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Available returns the number of permits currently available.
func (s *semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Waiting returns the number of acquirers blocked in Acquire.
func (s *semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}
