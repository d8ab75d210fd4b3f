package queue

import (
	"context"

	"github.com/vnykmshr/flowgate/pkg/metrics"
)

// MetricsQueue wraps a Queue with Prometheus metrics collection.
type MetricsQueue[T any] struct {
	queue    Queue[T]
	name     string
	registry *metrics.Registry
	enabled  bool
}

// NewWithMetrics creates a bounded queue with metrics enabled.
func NewWithMetrics[T any](capacity int, name string, metricsConfig metrics.Config) (Queue[T], error) {
	base, err := NewSafe[T](capacity)
	if err != nil {
		return nil, err
	}

	registry := metricsConfig.Resolve()
	if registry == nil {
		return base, nil
	}

	mq := &MetricsQueue[T]{
		queue:    base,
		name:     name,
		registry: registry,
		enabled:  true,
	}
	registry.QueueCapacity.WithLabelValues(name).Set(float64(capacity))
	return mq, nil
}

// Offer appends item, recording the outcome.
func (mq *MetricsQueue[T]) Offer(item T) bool {
	ok := mq.queue.Offer(item)
	if mq.enabled {
		if ok {
			mq.registry.QueueOffered.WithLabelValues(mq.name).Inc()
		} else {
			mq.registry.QueueRejected.WithLabelValues(mq.name).Inc()
		}
		mq.registry.QueueDepth.WithLabelValues(mq.name).Set(float64(mq.queue.Len()))
	}
	return ok
}

// Poll removes and returns the front item.
func (mq *MetricsQueue[T]) Poll() (T, bool) {
	item, ok := mq.queue.Poll()
	if mq.enabled {
		mq.registry.QueueDepth.WithLabelValues(mq.name).Set(float64(mq.queue.Len()))
	}
	return item, ok
}

// PollWait removes and returns the front item, blocking until available.
func (mq *MetricsQueue[T]) PollWait(ctx context.Context) (T, error) {
	item, err := mq.queue.PollWait(ctx)
	if mq.enabled {
		mq.registry.QueueDepth.WithLabelValues(mq.name).Set(float64(mq.queue.Len()))
	}
	return item, err
}

// Len returns the current number of queued items.
func (mq *MetricsQueue[T]) Len() int {
	return mq.queue.Len()
}

// Cap returns the queue capacity.
func (mq *MetricsQueue[T]) Cap() int {
	return mq.queue.Cap()
}

// Close closes the queue.
func (mq *MetricsQueue[T]) Close() error {
	return mq.queue.Close()
}

// Stats returns queue statistics.
func (mq *MetricsQueue[T]) Stats() Stats {
	return mq.queue.Stats()
}

// EnableMetrics enables metrics collection.
func (mq *MetricsQueue[T]) EnableMetrics(config metrics.Config) error {
	mq.enabled = config.Enabled
	if config.Registry != nil {
		mq.registry = metrics.NewRegistry(config.Registry)
	}
	return nil
}

// DisableMetrics disables metrics collection.
func (mq *MetricsQueue[T]) DisableMetrics() {
	mq.enabled = false
}

// MetricsEnabled returns true if metrics are currently enabled.
func (mq *MetricsQueue[T]) MetricsEnabled() bool {
	return mq.enabled
}
