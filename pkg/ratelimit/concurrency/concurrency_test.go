package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/flowgate/internal/testutil"
)

func TestNewSafe(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  bool
	}{
		{"valid capacity", 4, false},
		{"capacity one", 1, false},
		{"zero capacity", 0, true},
		{"negative capacity", -2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := NewSafe(tt.capacity)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for invalid capacity")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, limiter.Capacity(), tt.capacity)
			testutil.AssertEqual(t, limiter.Available(), tt.capacity)
			testutil.AssertEqual(t, limiter.InUse(), 0)
		})
	}
}

func TestTryAcquire(t *testing.T) {
	limiter, err := NewSafe(2)
	testutil.AssertNoError(t, err)

	if !limiter.TryAcquire() {
		t.Error("first TryAcquire should succeed")
	}
	if !limiter.TryAcquire() {
		t.Error("second TryAcquire should succeed")
	}
	if limiter.TryAcquire() {
		t.Error("third TryAcquire should fail with capacity 2")
	}

	testutil.AssertEqual(t, limiter.InUse(), 2)
	testutil.AssertEqual(t, limiter.Available(), 0)

	limiter.Release()
	if !limiter.TryAcquire() {
		t.Error("TryAcquire should succeed after Release")
	}
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	limiter, err := NewSafe(2)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	// First two acquires resolve immediately
	testutil.AssertNoError(t, limiter.Acquire(ctx))
	testutil.AssertNoError(t, limiter.Acquire(ctx))

	// Third stays pending until a release
	third := make(chan error, 1)
	go func() {
		third <- limiter.Acquire(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-third:
		t.Fatal("third Acquire resolved while at capacity")
	default:
	}
	testutil.AssertEqual(t, limiter.Waiting(), 1)

	limiter.Release()

	select {
	case err := <-third:
		testutil.AssertNoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("third Acquire did not resolve after Release")
	}

	// Permit was transferred, not returned to the pool
	testutil.AssertEqual(t, limiter.InUse(), 2)
	testutil.AssertEqual(t, limiter.Available(), 0)
}

func TestAcquireFIFOOrder(t *testing.T) {
	limiter, err := NewSafe(1)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	testutil.AssertNoError(t, limiter.Acquire(ctx))

	const waiters = 5
	var mu sync.Mutex
	var order []int

	for i := 0; i < waiters; i++ {
		i := i
		go func() {
			if err := limiter.Acquire(ctx); err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		// Stagger arrivals so queue order is deterministic
		testutil.Eventually(t, time.Second, func() bool {
			return limiter.Waiting() == i+1
		})
	}

	for i := 0; i < waiters; i++ {
		limiter.Release()
		testutil.Eventually(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == i+1
		})
	}
	limiter.Release()

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Errorf("waiter woken out of order: position %d got waiter %d", i, got)
		}
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	limiter, err := NewSafe(1)
	testutil.AssertNoError(t, err)

	bg := context.Background()
	testutil.AssertNoError(t, limiter.Acquire(bg))

	ctx, cancel := context.WithCancel(bg)
	done := make(chan error, 1)
	go func() {
		done <- limiter.Acquire(ctx)
	}()

	testutil.Eventually(t, time.Second, func() bool {
		return limiter.Waiting() == 1
	})
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Acquire returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not observe cancellation")
	}

	// Canceled waiter left the queue without consuming a permit
	testutil.AssertEqual(t, limiter.Waiting(), 0)
	testutil.AssertEqual(t, limiter.InUse(), 1)
}

func TestReleasePanicsWithoutAcquire(t *testing.T) {
	limiter, err := NewSafe(1)
	testutil.AssertNoError(t, err)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Release without Acquire should panic")
		}
	}()
	limiter.Release()
}

func TestInUseNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	limiter, err := NewSafe(capacity)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	var inFlight, maxInFlight int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx); err != nil {
				return
			}
			defer limiter.Release()

			n := atomic.AddInt64(&inFlight, 1)
			for {
				prev := atomic.LoadInt64(&maxInFlight)
				if n <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}

	wg.Wait()
	if got := atomic.LoadInt64(&maxInFlight); got > capacity {
		t.Errorf("observed %d concurrent holders, capacity is %d", got, capacity)
	}
	testutil.AssertEqual(t, limiter.InUse(), 0)
	testutil.AssertEqual(t, limiter.Available(), capacity)
}

func TestSetCapacity(t *testing.T) {
	limiter, err := NewSafe(2)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	testutil.AssertNoError(t, limiter.Acquire(ctx))
	testutil.AssertNoError(t, limiter.Acquire(ctx))

	// A waiter is blocked at capacity 2
	done := make(chan error, 1)
	go func() {
		done <- limiter.Acquire(ctx)
	}()
	testutil.Eventually(t, time.Second, func() bool {
		return limiter.Waiting() == 1
	})

	// Growing the capacity grants the queued waiter
	limiter.SetCapacity(3)
	select {
	case err := <-done:
		testutil.AssertNoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not granted after capacity increase")
	}
	testutil.AssertEqual(t, limiter.Capacity(), 3)
	testutil.AssertEqual(t, limiter.InUse(), 3)

	// Shrinking below current use retires permits as they release
	limiter.SetCapacity(1)
	limiter.Release()
	limiter.Release()
	testutil.AssertEqual(t, limiter.InUse(), 1)
	testutil.AssertEqual(t, limiter.Available(), 0)

	limiter.Release()
	testutil.AssertEqual(t, limiter.Available(), 1)
}
