package distributed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/flowgate/internal/testutil"
	"github.com/vnykmshr/flowgate/pkg/common/errors"
)

func TestNewSafeValidation(t *testing.T) {
	// Validation happens before any Redis round trip, so a client that
	// was never dialed is enough here.
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	tests := []struct {
		name   string
		config Config
	}{
		{"nil redis", Config{Key: "fg:test", Rate: 10, Burst: 5}},
		{"empty key", Config{Redis: client, Rate: 10, Burst: 5}},
		{"zero rate", Config{Redis: client, Key: "fg:test", Burst: 5}},
		{"zero burst", Config{Redis: client, Key: "fg:test", Rate: 10}},
		{"fallback without local", Config{
			Redis: client, Key: "fg:test", Rate: 10, Burst: 5,
			FallbackToLocal: true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSafe(tt.config)
			testutil.AssertError(t, err)
			if !errors.IsValidationError(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	config := applyDefaults(Config{})

	if config.InstanceID == "" {
		t.Error("expected generated instance ID")
	}
	testutil.AssertEqual(t, config.RedisTimeout, 500*time.Millisecond)
	testutil.AssertEqual(t, config.KeyTTL, time.Hour)

	// Explicit values survive.
	config = applyDefaults(Config{
		InstanceID:   "node-1",
		RedisTimeout: time.Second,
		KeyTTL:       time.Minute,
	})
	testutil.AssertEqual(t, config.InstanceID, "node-1")
	testutil.AssertEqual(t, config.RedisTimeout, time.Second)
	testutil.AssertEqual(t, config.KeyTTL, time.Minute)
}

func TestGenerateInstanceID(t *testing.T) {
	a := generateInstanceID()
	b := generateInstanceID()

	if a == "" || b == "" {
		t.Fatal("expected non-empty instance IDs")
	}
	if a == b {
		t.Errorf("expected unique instance IDs, got %q twice", a)
	}
}

func TestKeysFor(t *testing.T) {
	keys := keysFor("fg:api")

	testutil.AssertEqual(t, keys.tokens, "fg:api:tokens")
	testutil.AssertEqual(t, keys.last, "fg:api:last_refill")
	testutil.AssertEqual(t, keys.config, "fg:api:config")
	testutil.AssertEqual(t, keys.stats, "fg:api:stats")
	testutil.AssertEqual(t, keys.instances, "fg:api:instances")

	all := keys.all()
	testutil.AssertEqual(t, len(all), 5)
	for _, k := range all {
		if !strings.HasPrefix(k, "fg:api:") {
			t.Errorf("key %q missing prefix", k)
		}
	}
}

func TestTimeFloatRoundTrip(t *testing.T) {
	now := time.Now()
	got := floatToTime(timeToFloat(now))

	diff := now.Sub(got)
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Microsecond {
		t.Errorf("round trip drifted by %v", diff)
	}
}

func TestAdmissionGate(t *testing.T) {
	lim := &stubLimiter{allow: true}
	gate := AdmissionGate{Limiter: lim, Timeout: 50 * time.Millisecond}

	testutil.AssertEqual(t, gate.Allow(), true)

	lim.allow = false
	testutil.AssertEqual(t, gate.Allow(), false)

	// The gate applies the configured deadline.
	if lim.lastCtx == nil {
		t.Fatal("limiter never saw a context")
	}
	if _, ok := lim.lastCtx.Deadline(); !ok {
		t.Error("expected a deadline on the gate context")
	}
}

// stubLimiter satisfies Limiter for adapter tests.
type stubLimiter struct {
	allow   bool
	lastCtx context.Context
}

func (s *stubLimiter) Allow(ctx context.Context) bool {
	s.lastCtx = ctx
	return s.allow
}

func (s *stubLimiter) AllowN(ctx context.Context, n int) bool {
	s.lastCtx = ctx
	return s.allow
}

func (s *stubLimiter) Wait(ctx context.Context) error                      { return nil }
func (s *stubLimiter) WaitN(ctx context.Context, n int) error              { return nil }
func (s *stubLimiter) Reserve(ctx context.Context, n int) (*Reservation, error) {
	return &Reservation{OK: s.allow}, nil
}
func (s *stubLimiter) SetRate(ctx context.Context, rate float64) error { return nil }
func (s *stubLimiter) SetBurst(ctx context.Context, burst int) error   { return nil }
func (s *stubLimiter) Stats(ctx context.Context) (*Stats, error)       { return &Stats{}, nil }
func (s *stubLimiter) Reset(ctx context.Context) error                 { return nil }
func (s *stubLimiter) Close() error                                    { return nil }
