package pump

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/flowgate/internal/testutil"
	"github.com/vnykmshr/flowgate/pkg/common/errors"
	"github.com/vnykmshr/flowgate/pkg/queue"
	"github.com/vnykmshr/flowgate/pkg/ratelimit/concurrency"
)

func newTestPump(t *testing.T, queueCap, workers int, timeout time.Duration) (Pump, queue.Queue[Task]) {
	t.Helper()

	q, err := queue.NewSafe[Task](queueCap)
	testutil.AssertNoError(t, err)

	sem, err := concurrency.NewSafe(workers)
	testutil.AssertNoError(t, err)

	p, err := NewSafe(Config{
		Queue:       q,
		Concurrency: sem,
		TaskTimeout: timeout,
		Name:        "test",
	})
	testutil.AssertNoError(t, err)

	return p, q
}

func TestNewSafeValidation(t *testing.T) {
	q, _ := queue.NewSafe[Task](1)
	sem, _ := concurrency.NewSafe(1)

	tests := []struct {
		name   string
		config Config
	}{
		{"nil queue", Config{Concurrency: sem}},
		{"nil concurrency", Config{Queue: q}},
		{"negative timeout", Config{Queue: q, Concurrency: sem, TaskTimeout: -time.Second}},
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

func TestPumpProcessesTasks(t *testing.T) {
	p, q := newTestPump(t, 32, 4, 0)
	testutil.AssertNoError(t, p.Start())
	defer p.Stop()

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		ok := q.Offer(TaskFunc(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
		if !ok {
			t.Fatalf("offer %d rejected", i)
		}
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		return p.Snapshot().Completed == 20
	})
	testutil.AssertEqual(t, ran.Load(), int64(20))

	snap := p.Snapshot()
	testutil.AssertEqual(t, snap.Failed, int64(0))
	testutil.AssertEqual(t, snap.TimedOut, int64(0))
}

func TestTaskTimeoutCountsTimedOut(t *testing.T) {
	// One worker, 50ms deadline, a task that needs 200ms. The slot must
	// be freed at the deadline, not when the sleep would have ended.
	p, q := newTestPump(t, 4, 1, 50*time.Millisecond)
	testutil.AssertNoError(t, p.Start())
	defer p.Stop()

	q.Offer(TaskFunc(func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	testutil.Eventually(t, 2*time.Second, func() bool {
		return p.Snapshot().TimedOut == 1
	})

	snap := p.Snapshot()
	testutil.AssertEqual(t, snap.Completed, int64(0))
	testutil.AssertEqual(t, snap.Failed, int64(0))
}

func TestNonCooperativeTaskAbandoned(t *testing.T) {
	// A task that ignores its context keeps running in the background,
	// but the worker slot is reclaimed at the deadline and the next
	// task proceeds.
	p, q := newTestPump(t, 4, 1, 30*time.Millisecond)
	testutil.AssertNoError(t, p.Start())
	defer p.Stop()

	q.Offer(TaskFunc(func(ctx context.Context) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}))
	q.Offer(TaskFunc(func(ctx context.Context) error {
		return nil
	}))

	testutil.Eventually(t, 2*time.Second, func() bool {
		snap := p.Snapshot()
		return snap.TimedOut == 1 && snap.Completed == 1
	})
}

func TestCounterConservation(t *testing.T) {
	const (
		succeed = 10
		fail    = 5
		slow    = 3
	)

	p, q := newTestPump(t, 32, 4, 25*time.Millisecond)
	testutil.AssertNoError(t, p.Start())
	defer p.Stop()

	for i := 0; i < succeed; i++ {
		q.Offer(TaskFunc(func(ctx context.Context) error { return nil }))
	}
	for i := 0; i < fail; i++ {
		q.Offer(TaskFunc(func(ctx context.Context) error {
			return fmt.Errorf("boom")
		}))
	}
	for i := 0; i < slow; i++ {
		q.Offer(TaskFunc(func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		snap := p.Snapshot()
		return snap.Completed+snap.Failed+snap.TimedOut == succeed+fail+slow
	})

	snap := p.Snapshot()
	testutil.AssertEqual(t, snap.Completed, int64(succeed))
	testutil.AssertEqual(t, snap.Failed, int64(fail))
	testutil.AssertEqual(t, snap.TimedOut, int64(slow))
	testutil.AssertEqual(t, q.Len(), 0)
}

func TestConcurrencyCapRespected(t *testing.T) {
	const maxWorkers = 2

	p, q := newTestPump(t, 32, maxWorkers, 0)
	testutil.AssertNoError(t, p.Start())
	defer p.Stop()

	var current, peak atomic.Int64
	for i := 0; i < 12; i++ {
		q.Offer(TaskFunc(func(ctx context.Context) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}))
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		return p.Snapshot().Completed == 12
	})

	if peak.Load() > maxWorkers {
		t.Errorf("observed %d concurrent tasks, cap is %d", peak.Load(), maxWorkers)
	}
}

func TestPanicCountsFailed(t *testing.T) {
	var results []Result
	done := make(chan struct{})

	q, err := queue.NewSafe[Task](4)
	testutil.AssertNoError(t, err)
	sem, err := concurrency.NewSafe(1)
	testutil.AssertNoError(t, err)

	p, err := NewSafe(Config{
		Queue:       q,
		Concurrency: sem,
		Name:        "panic-test",
		OnResult: func(r Result) {
			results = append(results, r)
			if len(results) == 2 {
				close(done)
			}
		},
	})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, p.Start())
	defer p.Stop()

	q.Offer(TaskFunc(func(ctx context.Context) error {
		panic("broken task")
	}))
	q.Offer(TaskFunc(func(ctx context.Context) error {
		return nil
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not settle")
	}

	testutil.AssertEqual(t, results[0].Outcome, Failed)
	testutil.AssertError(t, results[0].Err)
	testutil.AssertEqual(t, results[1].Outcome, Completed)

	snap := p.Snapshot()
	testutil.AssertEqual(t, snap.Failed, int64(1))
	testutil.AssertEqual(t, snap.Completed, int64(1))
}

func TestStopWaitsForInFlight(t *testing.T) {
	p, q := newTestPump(t, 4, 1, 0)
	testutil.AssertNoError(t, p.Start())

	started := make(chan struct{})
	q.Offer(TaskFunc(func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	}))

	<-started
	select {
	case <-p.Stop():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not complete")
	}

	testutil.AssertEqual(t, p.Snapshot().Completed, int64(1))
	testutil.AssertEqual(t, p.Running(), false)
}

func TestStartLifecycle(t *testing.T) {
	p, _ := newTestPump(t, 4, 1, 0)

	testutil.AssertNoError(t, p.Start())
	testutil.AssertError(t, p.Start())

	<-p.Stop()
	err := p.Start()
	testutil.AssertError(t, err)
	if !stderrors.Is(err, errors.ErrPumpStopped) {
		t.Errorf("expected ErrPumpStopped, got %v", err)
	}
}

func TestRunTimed(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		err := RunTimed(context.Background(), TaskFunc(func(ctx context.Context) error {
			return nil
		}))
		testutil.AssertNoError(t, err)
	})

	t.Run("task error", func(t *testing.T) {
		want := fmt.Errorf("task failure")
		err := RunTimed(context.Background(), TaskFunc(func(ctx context.Context) error {
			return want
		}))
		if !stderrors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := RunTimed(ctx, TaskFunc(func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		}))
		if !stderrors.Is(err, errors.ErrTaskTimeout) {
			t.Errorf("expected ErrTaskTimeout, got %v", err)
		}
		testutil.AssertEqual(t, IsTimeout(err), true)
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		err := RunTimed(ctx, TaskFunc(func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(100 * time.Millisecond)
			return ctx.Err()
		}))
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("panic", func(t *testing.T) {
		err := RunTimed(context.Background(), TaskFunc(func(ctx context.Context) error {
			panic("kaboom")
		}))
		testutil.AssertError(t, err)
	})
}

func TestOutcomeString(t *testing.T) {
	testutil.AssertEqual(t, Completed.String(), "completed")
	testutil.AssertEqual(t, Failed.String(), "failed")
	testutil.AssertEqual(t, TimedOut.String(), "timed_out")
	testutil.AssertEqual(t, Outcome(99).String(), "unknown")
}
