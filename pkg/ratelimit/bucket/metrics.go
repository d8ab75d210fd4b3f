package bucket

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vnykmshr/flowgate/pkg/metrics"
)

// MetricsLimiter wraps a Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	limiter  Limiter
	name     string
	registry *metrics.Registry
	enabled  bool
}

// NewWithMetrics creates a new token bucket limiter with metrics enabled
// on its own Prometheus registry.
func NewWithMetrics(rate Limit, burst int, name string) (Limiter, error) {
	return NewWithConfigAndMetrics(Config{
		Rate:          rate,
		Burst:         burst,
		InitialTokens: -1,
	}, name, metrics.Config{
		Enabled:  true,
		Registry: prometheus.NewRegistry(),
	})
}

// NewWithConfigAndMetrics creates a new token bucket limiter with custom
// config and metrics.
func NewWithConfigAndMetrics(config Config, name string, metricsConfig metrics.Config) (Limiter, error) {
	baseLimiter, err := NewWithConfigSafe(config)
	if err != nil {
		return nil, err
	}

	registry := metricsConfig.Resolve()
	if registry == nil {
		return baseLimiter, nil
	}

	return &MetricsLimiter{
		limiter:  baseLimiter,
		name:     name,
		registry: registry,
		enabled:  true,
	}, nil
}

// Allow reports whether an event may happen now.
func (ml *MetricsLimiter) Allow() bool {
	return ml.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (ml *MetricsLimiter) AllowN(n int) bool {
	if ml.enabled {
		ml.registry.RateLimitRequests.WithLabelValues("token_bucket", ml.name).Add(float64(n))
	}

	allowed := ml.limiter.AllowN(n)

	if ml.enabled {
		if allowed {
			ml.registry.RateLimitAllowed.WithLabelValues("token_bucket", ml.name).Add(float64(n))
		} else {
			ml.registry.RateLimitDenied.WithLabelValues("token_bucket", ml.name).Add(float64(n))
		}
		ml.registry.RateLimitTokens.WithLabelValues("token_bucket", ml.name).Set(ml.limiter.Tokens())
	}

	return allowed
}

// Wait blocks until an event can happen.
func (ml *MetricsLimiter) Wait(ctx context.Context) error {
	return ml.WaitN(ctx, 1)
}

// WaitN blocks until n events can happen.
func (ml *MetricsLimiter) WaitN(ctx context.Context, n int) error {
	if ml.enabled {
		ml.registry.RateLimitRequests.WithLabelValues("token_bucket", ml.name).Add(float64(n))
	}

	err := ml.limiter.WaitN(ctx, n)

	if ml.enabled {
		if err == nil {
			ml.registry.RateLimitAllowed.WithLabelValues("token_bucket", ml.name).Add(float64(n))
		} else {
			ml.registry.RateLimitDenied.WithLabelValues("token_bucket", ml.name).Add(float64(n))
		}
		ml.registry.RateLimitTokens.WithLabelValues("token_bucket", ml.name).Set(ml.limiter.Tokens())
	}

	return err
}

// Tokens returns the number of tokens currently available.
func (ml *MetricsLimiter) Tokens() float64 {
	tokens := ml.limiter.Tokens()

	if ml.enabled {
		ml.registry.RateLimitTokens.WithLabelValues("token_bucket", ml.name).Set(tokens)
	}

	return tokens
}

// Rate returns the current refill rate.
func (ml *MetricsLimiter) Rate() Limit {
	return ml.limiter.Rate()
}

// Burst returns the current burst capacity.
func (ml *MetricsLimiter) Burst() int {
	return ml.limiter.Burst()
}

// SetRate changes the refill rate.
func (ml *MetricsLimiter) SetRate(rate Limit) {
	ml.limiter.SetRate(rate)
}

// SetBurst changes the burst capacity.
func (ml *MetricsLimiter) SetBurst(burst int) {
	ml.limiter.SetBurst(burst)
}

// EnableMetrics enables metrics collection.
func (ml *MetricsLimiter) EnableMetrics(config metrics.Config) error {
	ml.enabled = config.Enabled

	if config.Registry != nil {
		ml.registry = metrics.NewRegistry(config.Registry)
	}

	return nil
}

// DisableMetrics disables metrics collection.
func (ml *MetricsLimiter) DisableMetrics() {
	ml.enabled = false
}

// MetricsEnabled returns true if metrics are currently enabled.
func (ml *MetricsLimiter) MetricsEnabled() bool {
	return ml.enabled
}
