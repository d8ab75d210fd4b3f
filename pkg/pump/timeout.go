package pump

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"

	"github.com/vnykmshr/flowgate/pkg/common/errors"
)

// RunTimed executes task under ctx, racing completion against the
// context's deadline. The context is propagated into the task so
// well-behaved tasks can stop early; a task that ignores it keeps
// running on its goroutine after RunTimed has returned ErrTaskTimeout,
// and its eventual result is discarded.
//
// A panic inside the task is recovered and returned as an error.
func RunTimed(ctx context.Context, task Task) error {
	settled := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				settled <- fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
			}
		}()
		settled <- task.Execute(ctx)
	}()

	select {
	case err := <-settled:
		return err
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.ErrTaskTimeout
		}
		return ctx.Err()
	}
}

// classify maps a task error to its terminal outcome.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case stderrors.Is(err, errors.ErrTaskTimeout),
		stderrors.Is(err, context.DeadlineExceeded):
		return TimedOut
	default:
		return Failed
	}
}
