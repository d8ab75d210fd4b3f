package concurrency

import (
	"context"

	"github.com/vnykmshr/flowgate/pkg/metrics"
)

// MetricsLimiter wraps a Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	limiter  Limiter
	name     string
	registry *metrics.Registry
	enabled  bool
}

// NewWithMetrics creates a concurrency limiter with metrics enabled.
func NewWithMetrics(capacity int, name string, metricsConfig metrics.Config) (Limiter, error) {
	base, err := NewSafe(capacity)
	if err != nil {
		return nil, err
	}

	registry := metricsConfig.Resolve()
	if registry == nil {
		return base, nil
	}

	return &MetricsLimiter{
		limiter:  base,
		name:     name,
		registry: registry,
		enabled:  true,
	}, nil
}

func (ml *MetricsLimiter) updateGauges() {
	if !ml.enabled {
		return
	}
	ml.registry.ConcurrencyInUse.WithLabelValues(ml.name).Set(float64(ml.limiter.InUse()))
	ml.registry.ConcurrencyWaiting.WithLabelValues(ml.name).Set(float64(ml.limiter.Waiting()))
}

// TryAcquire attempts to acquire a permit without blocking.
func (ml *MetricsLimiter) TryAcquire() bool {
	ok := ml.limiter.TryAcquire()
	ml.updateGauges()
	return ok
}

// Acquire blocks until a permit is available or the context ends.
func (ml *MetricsLimiter) Acquire(ctx context.Context) error {
	err := ml.limiter.Acquire(ctx)
	ml.updateGauges()
	return err
}

// Release returns a permit to the limiter.
func (ml *MetricsLimiter) Release() {
	ml.limiter.Release()
	ml.updateGauges()
}

// SetCapacity changes the maximum number of concurrent operations.
func (ml *MetricsLimiter) SetCapacity(capacity int) {
	ml.limiter.SetCapacity(capacity)
}

// Capacity returns the maximum number of concurrent operations allowed.
func (ml *MetricsLimiter) Capacity() int {
	return ml.limiter.Capacity()
}

// InUse returns the number of permits currently held.
func (ml *MetricsLimiter) InUse() int {
	return ml.limiter.InUse()
}

// Available returns the number of permits currently available.
func (ml *MetricsLimiter) Available() int {
	return ml.limiter.Available()
}

// Waiting returns the number of acquirers blocked in Acquire.
func (ml *MetricsLimiter) Waiting() int {
	return ml.limiter.Waiting()
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
