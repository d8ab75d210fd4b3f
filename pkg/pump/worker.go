package pump

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
)

// runWorker is the loop each worker goroutine runs: dequeue, acquire a
// permit, execute, release. The loop exits when the pump stops or the
// queue is closed and drained.
func (p *pump) runWorker(id int) {
	defer p.wg.Done()

	for {
		task, err := p.queue.PollWait(p.ctx)
		if err != nil {
			// Canceled pump context or closed-and-drained queue.
			return
		}

		if err := p.sem.Acquire(p.ctx); err != nil {
			// Stop raced the dequeue. Running the task now would exceed
			// the concurrency cap, so settle it as failed rather than
			// lose it from the counters.
			p.record(Result{
				Task:     task,
				Outcome:  Failed,
				Err:      errors.ErrPumpStopped,
				WorkerID: id,
			})
			return
		}

		p.execute(id, task)
	}
}

// execute runs a single task under the configured timeout and records
// exactly one terminal outcome for it. The permit is released when the
// task settles, not when an abandoned task eventually returns.
func (p *pump) execute(id int, task Task) {
	defer p.sem.Release()

	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	if p.registry != nil {
		p.registry.PumpInFlight.WithLabelValues(p.config.Name).Inc()
		defer p.registry.PumpInFlight.WithLabelValues(p.config.Name).Dec()
	}

	// In-flight tasks run to completion on Stop, so the task context
	// derives from Background, not the pump context.
	ctx := context.Background()
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	err := RunTimed(ctx, task)
	duration := time.Since(start)

	p.record(Result{
		Task:     task,
		Outcome:  classify(err),
		Err:      err,
		Duration: duration,
		WorkerID: id,
	})
}

// record bumps exactly one terminal counter and fires the result hook.
func (p *pump) record(r Result) {
	switch r.Outcome {
	case Completed:
		p.completed.Add(1)
	case TimedOut:
		p.timedOut.Add(1)
	default:
		p.failed.Add(1)
	}

	if p.registry != nil {
		name := p.config.Name
		switch r.Outcome {
		case Completed:
			p.registry.PumpTasksCompleted.WithLabelValues(name).Inc()
		case TimedOut:
			p.registry.PumpTasksTimedOut.WithLabelValues(name).Inc()
		default:
			p.registry.PumpTasksFailed.WithLabelValues(name).Inc()
		}
		p.registry.PumpTaskDuration.WithLabelValues(name).Observe(r.Duration.Seconds())
	}

	if p.config.OnResult != nil {
		p.config.OnResult(r)
	}
}

// IsTimeout reports whether a task error represents a deadline overrun.
func IsTimeout(err error) bool {
	return stderrors.Is(err, errors.ErrTaskTimeout) ||
		stderrors.Is(err, context.DeadlineExceeded)
}
