// Package observer periodically samples the flow-control pipeline and
// reports its state through structured logs and Prometheus gauges. It is
// read-only: sampling never perturbs the queue, the limiters, or the
// pump.
package observer

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
	"github.com/vnykmshr/flowgate/pkg/common/validation"
	"github.com/vnykmshr/flowgate/pkg/metrics"
	"github.com/vnykmshr/flowgate/pkg/pump"
	"github.com/vnykmshr/flowgate/pkg/queue"
	"github.com/vnykmshr/flowgate/pkg/ratelimit/bucket"
	"github.com/vnykmshr/flowgate/pkg/ratelimit/concurrency"
)

// Status is a point-in-time view of the pipeline.
type Status struct {
	QueueDepth    int
	QueueCapacity int

	InFlight int

	// Tokens is the local bucket's current token count, -1 when no
	// bucket is attached.
	Tokens float64

	ConcurrencyInUse    int
	ConcurrencyCapacity int
	Waiting             int

	Counters pump.Counters

	HeapBytes  uint64
	Goroutines int

	SampledAt time.Time
}

// Observer samples the pipeline on a fixed interval and optionally
// emits a summary report on a cron schedule.
type Observer interface {
	// Start launches the sampling loop.
	Start() error

	// Stop halts sampling. It blocks until the loop has exited.
	Stop()

	// Snapshot samples the pipeline immediately.
	Snapshot() Status
}

// Config holds configuration options for creating an Observer.
type Config struct {
	// Queue is the pipeline's bounded queue. Required.
	Queue queue.Queue[pump.Task]

	// Pump is the pipeline's worker pump. Required.
	Pump pump.Pump

	// Bucket is the local rate limiter, sampled for its token count.
	// Optional.
	Bucket bucket.Limiter

	// Concurrency is the execution limiter, sampled for occupancy.
	// Optional.
	Concurrency concurrency.Limiter

	// Interval between samples. Defaults to 10s.
	Interval time.Duration

	// ReportSchedule is an optional cron expression (with seconds
	// field) for periodic summary reports at Info level; regular
	// samples log at Debug.
	ReportSchedule string

	// Logger receives the structured output. Defaults to slog.Default.
	Logger *slog.Logger

	// Name labels the log lines and metrics.
	Name string

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// scheduleParser accepts the six-field form so reports can fire more
// often than once a minute.
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

type observer struct {
	config   Config
	schedule cron.Schedule
	logger   *slog.Logger
	registry *metrics.Registry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSafe creates an Observer from config, returning a validation error
// on bad input.
func NewSafe(config Config) (Observer, error) {
	if err := validation.ValidateNotNil("observer", "queue", config.Queue); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("observer", "pump", config.Pump); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("observer", "interval", config.Interval); err != nil {
		return nil, err
	}
	if config.Interval == 0 {
		config.Interval = 10 * time.Second
	}
	if config.Name == "" {
		config.Name = "observer"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	o := &observer{
		config: config,
		logger: config.Logger.With("component", config.Name),
	}

	if config.ReportSchedule != "" {
		schedule, err := scheduleParser.Parse(config.ReportSchedule)
		if err != nil {
			return nil, errors.NewValidationError("observer", "reportSchedule", config.ReportSchedule, err.Error()).
				WithHint("use a six-field cron expression, e.g. \"*/30 * * * * *\"")
		}
		o.schedule = schedule
	}

	o.registry = config.Metrics.Resolve()

	return o, nil
}

// Start implements Observer.Start.
func (o *observer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return errors.NewOperationError("observer", "Start", errors.ErrInvalidConfiguration).
			WithContext("already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.running = true
	o.cancel = cancel
	o.done = make(chan struct{})

	go o.run(ctx, o.done)

	return nil
}

// Stop implements Observer.Stop.
func (o *observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done
}

func (o *observer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	var nextReport time.Time
	if o.schedule != nil {
		nextReport = o.schedule.Next(time.Now())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			status := o.sample(now)
			o.publish(status)
			o.logger.Debug("pipeline sample", statusAttrs(status)...)

			if o.schedule != nil && !now.Before(nextReport) {
				o.logger.Info("pipeline report", statusAttrs(status)...)
				nextReport = o.schedule.Next(now)
			}
		}
	}
}

// Snapshot implements Observer.Snapshot.
func (o *observer) Snapshot() Status {
	return o.sample(time.Now())
}

func (o *observer) sample(now time.Time) Status {
	status := Status{
		QueueDepth:    o.config.Queue.Len(),
		QueueCapacity: o.config.Queue.Cap(),
		InFlight:      o.config.Pump.InFlight(),
		Counters:      o.config.Pump.Snapshot(),
		Tokens:        -1,
		Goroutines:    runtime.NumGoroutine(),
		SampledAt:     now,
	}

	if o.config.Bucket != nil {
		status.Tokens = o.config.Bucket.Tokens()
	}
	if o.config.Concurrency != nil {
		status.ConcurrencyInUse = o.config.Concurrency.InUse()
		status.ConcurrencyCapacity = o.config.Concurrency.Capacity()
		status.Waiting = o.config.Concurrency.Waiting()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status.HeapBytes = mem.HeapAlloc

	return status
}

// publish pushes gauge-style readings to Prometheus.
func (o *observer) publish(status Status) {
	if o.registry == nil {
		return
	}

	name := o.config.Name
	o.registry.QueueDepth.WithLabelValues(name).Set(float64(status.QueueDepth))
	o.registry.QueueCapacity.WithLabelValues(name).Set(float64(status.QueueCapacity))

	if o.config.Bucket != nil {
		o.registry.RateLimitTokens.WithLabelValues("bucket", name).Set(status.Tokens)
	}
	if o.config.Concurrency != nil {
		o.registry.ConcurrencyInUse.WithLabelValues(name).Set(float64(status.ConcurrencyInUse))
		o.registry.ConcurrencyWaiting.WithLabelValues(name).Set(float64(status.Waiting))
	}
}

func statusAttrs(status Status) []any {
	return []any{
		slog.Int("queue_depth", status.QueueDepth),
		slog.Int("queue_capacity", status.QueueCapacity),
		slog.Int("in_flight", status.InFlight),
		slog.Float64("tokens", status.Tokens),
		slog.Int("concurrency_in_use", status.ConcurrencyInUse),
		slog.Int("waiting", status.Waiting),
		slog.Int64("completed", status.Counters.Completed),
		slog.Int64("failed", status.Counters.Failed),
		slog.Int64("timed_out", status.Counters.TimedOut),
		slog.Uint64("heap_bytes", status.HeapBytes),
		slog.Int("goroutines", status.Goroutines),
	}
}
