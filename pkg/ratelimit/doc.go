/*
Package ratelimit provides the admission and execution gates of the
flowgate pipeline.

  - bucket: Token bucket rate limiter allowing burst traffic
  - concurrency: Counting semaphore capping simultaneous execution
  - distributed: Multi-instance token bucket coordinated through Redis

The token bucket throttles the rate at which work enters the system:

	limiter, _ := bucket.NewSafe(10, 5) // 10 tokens/sec, burst of 5
	if limiter.Allow() {
		// Admit request
	}

The concurrency limiter caps how much admitted work runs at once:

	sem, _ := concurrency.NewSafe(4)
	if err := sem.Acquire(ctx); err == nil {
		defer sem.Release()
		// At most 4 of these run concurrently
	}

Rejection by either gate is an expected outcome signaled by a boolean
or a sentinel error, never a panic. All limiters are safe for
concurrent use and integrate with the context package for cancellation.
*/
package ratelimit
