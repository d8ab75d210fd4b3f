package bucket

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
)

// Limit represents the maximum frequency of events per unit time.
// A zero Limit allows no refill; only the initial tokens can be spent.
// Use Inf for unlimited rates.
type Limit float64

// Inf is the infinite rate limit; it allows all events.
var Inf = Limit(math.Inf(1))

// Every converts a minimum time interval between events to a Limit.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Limiter admits events against an accumulating pool of tokens refilled
// at a fixed rate and capped at a burst capacity. Absence of tokens is a
// normal outcome signaled by the boolean return, not an error.
type Limiter interface {
	// Allow reports whether an event may happen now. It does not block.
	Allow() bool

	// AllowN reports whether n events may happen now. It does not block.
	AllowN(n int) bool

	// Wait blocks until an event can happen. It returns an error if the
	// context is canceled, the deadline is exceeded, or the request can
	// never be satisfied at the current configuration.
	Wait(ctx context.Context) error

	// WaitN blocks until n events can happen.
	WaitN(ctx context.Context, n int) error

	// Tokens returns the number of tokens currently available.
	Tokens() float64

	// Rate returns the current refill rate.
	Rate() Limit

	// Burst returns the current burst capacity.
	Burst() int

	// SetRate changes the refill rate. It preserves the current burst.
	SetRate(rate Limit)

	// SetBurst changes the burst capacity. It preserves the current rate.
	SetBurst(burst int)
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds configuration options for creating a new Limiter.
type Config struct {
	// Rate is the number of tokens added per second.
	Rate Limit

	// Burst is the maximum number of tokens that can be stored.
	Burst int

	// Clock provides the current time. If nil, SystemClock is used.
	Clock Clock

	// InitialTokens is the number of tokens to start with.
	// If negative, starts with full capacity.
	InitialTokens int
}

// tokenBucket implements Limiter.
//
// The refill timestamp only advances when at least one whole token has
// accrued since the last advance. Fractional accrual is therefore never
// lost between observations: it keeps accumulating against the same
// timestamp until it crosses a whole token.
type tokenBucket struct {
	mu         sync.Mutex
	rate       Limit
	burst      int
	tokens     float64
	lastRefill time.Time
	clock      Clock
}

// NewSafe creates a new token bucket limiter, starting at full capacity.
func NewSafe(rate Limit, burst int) (Limiter, error) {
	return NewWithConfigSafe(Config{
		Rate:          rate,
		Burst:         burst,
		InitialTokens: -1,
	})
}

// NewWithConfigSafe creates a new token bucket limiter from config,
// returning a validation error on bad input.
func NewWithConfigSafe(config Config) (Limiter, error) {
	if config.Rate < 0 {
		return nil, errors.NewValidationError("bucket", "rate", config.Rate, "rate cannot be negative").
			WithHint("use 0 for no refill or a positive value")
	}
	if config.Burst <= 0 {
		return nil, errors.NewValidationError("bucket", "burst", config.Burst, "burst must be positive").
			WithHint("burst determines how many tokens can be consumed instantly")
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}

	initialTokens := float64(config.InitialTokens)
	if config.InitialTokens < 0 || initialTokens > float64(config.Burst) {
		initialTokens = float64(config.Burst)
	}

	return &tokenBucket{
		rate:       config.Rate,
		burst:      config.Burst,
		tokens:     initialTokens,
		lastRefill: config.Clock.Now(),
		clock:      config.Clock,
	}, nil
}
