/*
Package flowgate provides backpressure and flow control for Go services:
admission control, bounded queueing, rate and concurrency limiting, and
a worker pump that executes admitted work under deadlines.

Rate Limiting (pkg/ratelimit):
  - bucket: Token bucket rate limiter with burst capacity
  - concurrency: Counting semaphore with FIFO waiter wakeup
  - distributed: Multi-instance rate limiting with Redis

Pipeline (pkg/queue, pkg/pump, pkg/admission):
  - queue: Bounded FIFO queue that sheds load when full
  - pump: Workers that drain the queue under a concurrency cap and
    per-task deadline
  - admission: Combines the rate gate and the queue into one
    accept-or-reject decision

Observability (pkg/observer, pkg/metrics):
  - observer: Periodic pipeline sampling with structured logs and
    scheduled reports
  - metrics: Prometheus instrumentation shared by all components

Example usage:

	import (
		"github.com/vnykmshr/flowgate/pkg/admission"
		"github.com/vnykmshr/flowgate/pkg/pump"
		"github.com/vnykmshr/flowgate/pkg/queue"
		"github.com/vnykmshr/flowgate/pkg/ratelimit/bucket"
		"github.com/vnykmshr/flowgate/pkg/ratelimit/concurrency"
	)

	limiter, _ := bucket.NewSafe(100, 20) // 100 RPS, burst 20
	q, _ := queue.NewSafe[pump.Task](256)
	sem, _ := concurrency.NewSafe(8)

	p, _ := pump.NewSafe(pump.Config{Queue: q, Concurrency: sem})
	p.Start()

	ctrl, _ := admission.NewSafe(admission.Config{Gate: limiter, Queue: q})
	if d := ctrl.Accept(task); !d.Admitted {
		// reply with d.Code: 429 rate limited, 503 shedding load
	}
*/
package flowgate
