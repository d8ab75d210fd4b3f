package pump

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
	"github.com/vnykmshr/flowgate/pkg/common/validation"
	"github.com/vnykmshr/flowgate/pkg/metrics"
	"github.com/vnykmshr/flowgate/pkg/queue"
	"github.com/vnykmshr/flowgate/pkg/ratelimit/concurrency"
)

// Task represents a unit of work pulled from the queue by the pump.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Outcome classifies how a task settled.
type Outcome int

const (
	// Completed means the task returned nil.
	Completed Outcome = iota

	// Failed means the task returned an error or panicked.
	Failed

	// TimedOut means the task exceeded its execution deadline. A timeout
	// signals a latency problem in the task, not a correctness problem.
	TimedOut
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result describes a settled task.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Outcome classifies the settle
	Outcome Outcome

	// Err is the task's error, nil when Outcome is Completed
	Err error

	// Duration is how long the task occupied its concurrency slot
	Duration time.Duration

	// WorkerID identifies which worker ran the task
	WorkerID int
}

// Counters is a snapshot of the pump's terminal-state counters. Once the
// pipeline is drained, Completed+Failed+TimedOut equals the number of
// tasks dequeued and started.
type Counters struct {
	Completed int64
	Failed    int64
	TimedOut  int64
}

// Pump pulls tasks off the bounded queue, acquires a concurrency permit
// for each, runs it under the configured timeout, and records the outcome.
// Tasks are dequeued in FIFO order but may complete out of order.
type Pump interface {
	// Start launches the worker loops. It returns an error if the pump
	// is already running or has been stopped.
	Start() error

	// Stop asks the worker loops to exit at their next scheduling point.
	// In-flight tasks finish naturally; Stop is not forceful cancellation.
	// The returned channel closes when all workers have exited.
	Stop() <-chan struct{}

	// Snapshot returns the current counter values.
	Snapshot() Counters

	// InFlight returns the number of tasks currently executing.
	InFlight() int

	// Running reports whether the pump is accepting work.
	Running() bool
}

// Config holds configuration options for creating a Pump.
type Config struct {
	// Queue is the bounded task queue the pump consumes. Required.
	Queue queue.Queue[Task]

	// Concurrency caps simultaneous task execution. The pump runs one
	// worker loop per permit so the cap is actually utilized. Required.
	Concurrency concurrency.Limiter

	// TaskTimeout bounds the wall-clock time a task may occupy a
	// concurrency slot. Zero means no timeout.
	TaskTimeout time.Duration

	// OnResult, if set, is called after every task settles. It runs on
	// the worker goroutine; keep it fast.
	OnResult func(Result)

	// Name labels this pump in metrics.
	Name string

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// pump implements Pump.
type pump struct {
	config Config
	queue  queue.Queue[Task]
	sem    concurrency.Limiter

	registry *metrics.Registry

	// Lifecycle
	mu      sync.Mutex
	running bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopOnce sync.Once
	done     chan struct{}

	// Terminal-state counters
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	inFlight  atomic.Int64
}

// NewSafe creates a pump from config, returning a validation error on
// bad input.
func NewSafe(config Config) (Pump, error) {
	if config.Queue == nil {
		return nil, errors.NewValidationError("pump", "queue", nil, "cannot be nil").
			WithHint("provide the bounded queue the pump should consume")
	}
	if config.Concurrency == nil {
		return nil, errors.NewValidationError("pump", "concurrency", nil, "cannot be nil").
			WithHint("provide the concurrency limiter capping execution")
	}
	if err := validation.ValidateNonNegativeDuration("pump", "taskTimeout", config.TaskTimeout); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "pump"
	}

	p := &pump{
		config: config,
		queue:  config.Queue,
		sem:    config.Concurrency,
		done:   make(chan struct{}),
	}

	p.registry = config.Metrics.Resolve()

	return p, nil
}

// Start implements Pump.Start.
func (p *pump) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.NewOperationError("pump", "Start", errors.ErrPumpStopped)
	}
	if p.running {
		return errors.NewOperationError("pump", "Start", errors.ErrInvalidConfiguration).
			WithContext("already running")
	}

	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	workers := p.sem.Capacity()
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}

	return nil
}

// Stop implements Pump.Stop.
func (p *pump) Stop() <-chan struct{} {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.running = false
		p.stopped = true
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()

		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	})

	return p.done
}

// Snapshot implements Pump.Snapshot.
func (p *pump) Snapshot() Counters {
	return Counters{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		TimedOut:  p.timedOut.Load(),
	}
}

// InFlight implements Pump.InFlight.
func (p *pump) InFlight() int {
	return int(p.inFlight.Load())
}

// Running implements Pump.Running.
func (p *pump) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
