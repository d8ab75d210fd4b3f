package bucket

import (
	"context"
	"math"
	"time"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
)

// Allow reports whether an event may happen now.
func (tb *tokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (tb *tokenBucket) AllowN(n int) bool {
	if n <= 0 {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())

	if tb.rate == Inf {
		return true
	}

	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// Wait blocks until an event can happen.
func (tb *tokenBucket) Wait(ctx context.Context) error {
	return tb.WaitN(ctx, 1)
}

// WaitN blocks until n events can happen. It returns ErrRateLimited if
// the request can never be satisfied: a zero refill rate with the bucket
// drained, or n exceeding the burst capacity.
func (tb *tokenBucket) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	// Check if context is already canceled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for {
		tb.mu.Lock()
		now := tb.clock.Now()
		tb.refill(now)

		if tb.rate == Inf {
			tb.mu.Unlock()
			return nil
		}

		if tb.tokens >= float64(n) {
			tb.tokens -= float64(n)
			tb.mu.Unlock()
			return nil
		}

		if tb.rate == 0 || n > tb.burst {
			tb.mu.Unlock()
			return errors.ErrRateLimited
		}

		// Time until the deficit is covered, measured from the last
		// timestamp advance so partially accrued tokens are counted.
		needed := float64(n) - tb.tokens
		elapsed := now.Sub(tb.lastRefill).Seconds()
		wait := time.Duration((needed/float64(tb.rate) - elapsed) * float64(time.Second))
		tb.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			// Re-check under lock; another waiter may have taken the tokens.
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Tokens returns the number of tokens currently available.
func (tb *tokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	return tb.tokens
}

// Rate returns the current refill rate.
func (tb *tokenBucket) Rate() Limit {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.rate
}

// Burst returns the current burst capacity.
func (tb *tokenBucket) Burst() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.burst
}

// SetRate changes the refill rate.
func (tb *tokenBucket) SetRate(rate Limit) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	tb.rate = rate
}

// SetBurst changes the burst capacity.
func (tb *tokenBucket) SetBurst(burst int) {
	if burst <= 0 {
		panic("bucket: burst must be positive")
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	tb.burst = burst

	if tb.tokens > float64(burst) {
		tb.tokens = float64(burst)
	}
}

// refill accrues tokens for the time elapsed since the last advance.
// The timestamp only advances once at least one whole token has accrued;
// until then fractional accrual keeps accumulating against the same
// instant, so nothing is lost to repeated sub-token observations.
func (tb *tokenBucket) refill(now time.Time) {
	if tb.rate == Inf {
		tb.tokens = float64(tb.burst)
		tb.lastRefill = now
		return
	}

	if tb.rate == 0 {
		// No refill; only initial tokens can be spent.
		return
	}

	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	accrued := elapsed.Seconds() * float64(tb.rate)
	if accrued < 1 {
		return
	}

	tb.tokens = math.Min(tb.tokens+accrued, float64(tb.burst))
	tb.lastRefill = now
}
