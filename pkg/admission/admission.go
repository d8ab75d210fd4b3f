// Package admission combines a rate gate and a bounded queue into a
// single accept-or-reject decision for incoming work. Rejections carry
// the HTTP status code callers typically map them to: 429 when the
// request rate is too high, 503 when the system is saturated and
// sheds load.
package admission

import (
	"net/http"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
	"github.com/vnykmshr/flowgate/pkg/common/validation"
	"github.com/vnykmshr/flowgate/pkg/metrics"
	"github.com/vnykmshr/flowgate/pkg/pump"
	"github.com/vnykmshr/flowgate/pkg/queue"
)

// Gate is the admission-side view of a rate limiter: a single
// non-blocking pass/fail check. Both the local token bucket and the
// Redis-backed limiter satisfy it.
type Gate interface {
	// Allow reports whether one unit of work may pass right now.
	Allow() bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func() bool

// Allow implements Gate.
func (f GateFunc) Allow() bool {
	return f()
}

// Rejection reasons, used as metric labels and decision tags.
const (
	ReasonRateLimited = "rate_limited"
	ReasonQueueFull   = "queue_full"
)

// Decision is the outcome of an admission check. Rejection is an
// expected, frequent result under load, so it is a value, not an error
// in the control-flow sense; Err is set for callers that want to wrap
// or inspect it.
type Decision struct {
	// Admitted is true when the task was enqueued
	Admitted bool

	// Code is the suggested HTTP status: 0 when admitted, 429 or 503
	// when rejected
	Code int

	// Reason tags the rejection: ReasonRateLimited or ReasonQueueFull
	Reason string

	// Err is ErrRateLimited or ErrQueueFull when rejected, nil otherwise
	Err error
}

// Controller makes admission decisions for incoming tasks.
type Controller interface {
	// Accept checks the rate gate, then offers the task to the queue.
	// The gate is consulted first so a token is only spent on requests
	// the queue might take; a queue-full rejection still consumes the
	// token, which is the price of keeping the check non-atomic.
	Accept(task pump.Task) Decision
}

// Config holds configuration options for creating a Controller.
type Config struct {
	// Gate is the rate limiter consulted first. Required.
	Gate Gate

	// Queue is the bounded queue admitted tasks are placed on. Required.
	Queue queue.Queue[pump.Task]

	// Name labels this controller in metrics.
	Name string

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

type controller struct {
	gate     Gate
	queue    queue.Queue[pump.Task]
	name     string
	registry *metrics.Registry
}

// NewSafe creates a Controller from config, returning a validation
// error on bad input.
func NewSafe(config Config) (Controller, error) {
	if config.Gate == nil {
		return nil, errors.NewValidationError("admission", "gate", nil, "cannot be nil").
			WithHint("provide a rate limiter implementing Gate")
	}
	if err := validation.ValidateNotNil("admission", "queue", config.Queue); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "admission"
	}

	return &controller{
		gate:     config.Gate,
		queue:    config.Queue,
		name:     config.Name,
		registry: config.Metrics.Resolve(),
	}, nil
}

// Accept implements Controller.Accept.
func (c *controller) Accept(task pump.Task) Decision {
	if !c.gate.Allow() {
		return c.reject(ReasonRateLimited, http.StatusTooManyRequests, errors.ErrRateLimited)
	}

	if !c.queue.Offer(task) {
		return c.reject(ReasonQueueFull, http.StatusServiceUnavailable, errors.ErrQueueFull)
	}

	if c.registry != nil {
		c.registry.AdmissionAccepted.WithLabelValues(c.name).Inc()
	}

	return Decision{Admitted: true}
}

func (c *controller) reject(reason string, code int, err error) Decision {
	if c.registry != nil {
		c.registry.AdmissionRejected.WithLabelValues(c.name, reason).Inc()
	}

	return Decision{
		Code:   code,
		Reason: reason,
		Err:    err,
	}
}
