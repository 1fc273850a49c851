package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/systask/internal/testutil"
	sterrors "github.com/vnykmshr/systask/pkg/common/errors"
	"github.com/vnykmshr/systask/pkg/metrics"
)

func sleepTask(d time.Duration, counter *int32) TaskFunc[struct{}] {
	return func(ctx context.Context) (struct{}, error) {
		time.Sleep(d)
		atomic.AddInt32(counter, 1)
		return struct{}{}, nil
	}
}

func TestNew(t *testing.T) {
	pool := New(3)
	defer pool.Close()

	testutil.AssertEqual(t, pool.WorkerCount(), 0)
	testutil.AssertEqual(t, pool.Name(), "pool")

	pool.Start(0)
	testutil.AssertEqual(t, pool.WorkerCount(), 3)

	pool.Stop()
	testutil.AssertEqual(t, pool.WorkerCount(), 0)
}

func TestNewWithConfigDefaults(t *testing.T) {
	pool := NewWithConfig(Config{})
	defer pool.Close()

	pool.Start(0)
	testutil.AssertEqual(t, pool.WorkerCount(), runtime.NumCPU())
	testutil.AssertEqual(t, pool.MetricsEnabled(), false)
}

func TestPushAllResolved(t *testing.T) {
	pool := New(4)
	defer pool.Close()
	pool.Start(0)

	const numTasks = 200
	futures := make([]*Future[int], numTasks)
	var executed int32
	for i := 0; i < numTasks; i++ {
		i := i
		futures[i] = Push(pool, func(ctx context.Context) (int, error) {
			atomic.AddInt32(&executed, 1)
			return i * i, nil
		})
	}

	pool.Join()

	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(numTasks))
	for i, f := range futures {
		v, err, ok := f.TryGet()
		testutil.AssertEqual(t, ok, true)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, v, i*i)
		testutil.AssertEqual(t, f.State(), StateReady)
	}

	stats := pool.Stats()
	testutil.AssertEqual(t, stats.Submitted, int64(numTasks))
	testutil.AssertEqual(t, stats.Completed, int64(numTasks))
	testutil.AssertEqual(t, stats.Pending, 0)
}

func TestPushBeforeStart(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	f := Push(pool, func(ctx context.Context) (string, error) {
		return "queued", nil
	})
	testutil.AssertEqual(t, f.State(), StatePending)
	testutil.AssertEqual(t, pool.PendingCount(), 1)

	pool.Start(0)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	v, err := f.Get(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, "queued")
}

func TestPushDelayedNotBeforeStartTime(t *testing.T) {
	pool := New(2)
	defer pool.Close()
	pool.Start(0)

	startAt := time.Now().Add(80 * time.Millisecond)
	f := PushDelayed(pool, startAt, func(ctx context.Context) (time.Time, error) {
		return time.Now(), nil
	})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	ranAt, err := f.Get(ctx)
	testutil.AssertNoError(t, err)

	if ranAt.Before(startAt) {
		t.Fatalf("task started at %v, before its scheduled time %v", ranAt, startAt)
	}
}

func TestDelayedTaskRunsWithoutFurtherSubmissions(t *testing.T) {
	pool := New(1)
	defer pool.Close()
	pool.Start(0)

	var executed int32
	PushAfter(pool, 30*time.Millisecond, sleepTask(0, &executed))

	// Nothing else is pushed; the worker must wake on its own.
	testutil.WaitForInt32(t, &executed, 1, time.Second)
}

func TestDelayedOrderAmongReadyTasks(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	var mu sync.Mutex
	var order []int
	record := func(n int) Job {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		}
	}

	past := time.Now().Add(-time.Second)
	pool.SubmitAt(past, record(1))
	pool.SubmitAt(past.Add(-time.Minute), record(2))
	pool.Submit(record(3))

	pool.Start(0)
	pool.Join()

	// Ready tasks run in insertion order, not by scheduled time.
	testutil.AssertEqual(t, fmt.Sprint(order), "[1 2 3]")
}

func TestClearCancelsPending(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	var executed int32
	f := Push(pool, sleepTask(0, &executed))
	delayed := PushAfter(pool, time.Hour, sleepTask(0, &executed))

	testutil.AssertEqual(t, pool.Clear(), 2)

	pool.Start(0)
	pool.Join()

	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(0))
	for _, fut := range []*Future[struct{}]{f, delayed} {
		testutil.AssertEqual(t, fut.State(), StateCancelled)
		_, err := fut.Wait()
		if !errors.Is(err, sterrors.ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	}
	testutil.AssertEqual(t, pool.Stats().Cancelled, int64(2))
}

func TestClearDoesNotAffectClaimedTask(t *testing.T) {
	pool := New(1)
	defer pool.Close()
	pool.Start(0)

	release := make(chan struct{})
	running := Push(pool, func(ctx context.Context) (int, error) {
		<-release
		return 7, nil
	})
	testutil.AssertEventually(t, func() bool { return pool.ActiveCount() == 1 })

	waiting := Push(pool, func(ctx context.Context) (int, error) {
		return 8, nil
	})
	testutil.AssertEqual(t, pool.Clear(), 1)
	close(release)

	v, err := running.Wait()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 7)

	_, err = waiting.Wait()
	testutil.AssertEqual(t, sterrors.IsCancelled(err), true)
}

func TestWorkerCount(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	pool.Start(3)
	testutil.AssertEqual(t, pool.WorkerCount(), 3)

	// Starting again replaces the worker set.
	pool.Start(5)
	testutil.AssertEqual(t, pool.WorkerCount(), 5)

	pool.Stop()
	testutil.AssertEqual(t, pool.WorkerCount(), 0)

	pool.Stop()
	testutil.AssertEqual(t, pool.WorkerCount(), 0)
}

func TestRestartKeepsQueuedTasks(t *testing.T) {
	pool := New(2)
	defer pool.Close()
	pool.Start(0)

	var executed int32
	delayed := PushAfter(pool, 200*time.Millisecond, sleepTask(0, &executed))

	// Delayed work survives Stop and runs after the next Start.
	pool.Stop()
	testutil.AssertEqual(t, delayed.State(), StatePending)
	testutil.AssertEqual(t, pool.PendingCount(), 1)

	pool.Start(1)
	testutil.WaitForInt32(t, &executed, 1, time.Second)
	testutil.AssertEqual(t, delayed.State(), StateReady)
}

func TestActiveCountNeverExceedsWorkerCount(t *testing.T) {
	pool := New(3)
	defer pool.Close()
	pool.Start(0)

	const numTasks = 12
	var executed int32
	for i := 0; i < numTasks; i++ {
		Push(pool, sleepTask(20*time.Millisecond, &executed))
	}

	var maxActive int
	for atomic.LoadInt32(&executed) < numTasks {
		active := pool.ActiveCount()
		if active > pool.WorkerCount() {
			t.Fatalf("active=%d exceeds workers=%d", active, pool.WorkerCount())
		}
		maxActive = max(maxActive, active)
		time.Sleep(time.Millisecond)
	}

	testutil.AssertEqual(t, maxActive > 0, true)
	pool.Join()
	testutil.AssertEqual(t, pool.ActiveCount(), 0)
}

func TestTwoWorkersRunConcurrently(t *testing.T) {
	pool := New(2)
	defer pool.Close()
	pool.Start(0)

	var counter int32
	start := time.Now()
	for i := 0; i < 4; i++ {
		Push(pool, sleepTask(50*time.Millisecond, &counter))
	}
	pool.Join()
	elapsed := time.Since(start)

	testutil.AssertEqual(t, atomic.LoadInt32(&counter), int32(4))
	if elapsed < 100*time.Millisecond {
		t.Errorf("elapsed %v, want at least 100ms", elapsed)
	}
	if elapsed >= 190*time.Millisecond {
		t.Errorf("elapsed %v, tasks did not run two at a time", elapsed)
	}
}

func TestFailureIsolation(t *testing.T) {
	var panicked atomic.Value
	pool := NewWithConfig(Config{
		WorkerCount: 1,
		PanicHandler: func(id uuid.UUID, recovered any) {
			panicked.Store(recovered)
		},
	})
	defer pool.Close()
	pool.Start(0)

	boom := Push(pool, func(ctx context.Context) (int, error) {
		panic("boom")
	})
	failing := Push(pool, func(ctx context.Context) (int, error) {
		return 0, errors.New("task failed")
	})
	healthy := Push(pool, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	_, err := boom.Wait()
	testutil.AssertEqual(t, boom.State(), StateFailed)
	if !errors.Is(err, sterrors.ErrTaskPanicked) {
		t.Fatalf("expected ErrTaskPanicked, got %v", err)
	}
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected *PanicError, got %T", err)
	}
	testutil.AssertEqual(t, panicErr.Value, any("boom"))

	_, err = failing.Wait()
	testutil.AssertEqual(t, failing.State(), StateFailed)
	testutil.AssertEqual(t, err.Error(), "task failed")

	v, err := healthy.Wait()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 42)

	testutil.AssertEqual(t, panicked.Load(), any("boom"))
	testutil.AssertEqual(t, pool.WorkerCount(), 1)
	testutil.AssertEqual(t, pool.Stats().Failed, int64(2))
}

func TestStopDrainsReadyTasks(t *testing.T) {
	pool := New(1)
	defer pool.Close()
	pool.Start(0)

	var executed int32
	futures := make([]*Future[struct{}], 10)
	for i := range futures {
		futures[i] = Push(pool, sleepTask(time.Millisecond, &executed))
	}

	pool.Stop()

	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(10))
	for _, f := range futures {
		testutil.AssertEqual(t, f.State(), StateReady)
	}
}

func TestCloseCancelsDelayedTasks(t *testing.T) {
	pool := New(1)
	pool.Start(0)

	f := PushAfter(pool, time.Hour, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	pool.Close()

	_, err := f.Wait()
	testutil.AssertEqual(t, f.State(), StateCancelled)
	if !errors.Is(err, sterrors.ErrClosed) || !errors.Is(err, sterrors.ErrCancelled) {
		t.Fatalf("expected ErrCancelled wrapping ErrClosed, got %v", err)
	}
	testutil.AssertEqual(t, pool.WorkerCount(), 0)
}

func TestPushAfterClose(t *testing.T) {
	pool := New(1)
	pool.Close()

	f := pool.Submit(func(ctx context.Context) error { return nil })
	testutil.AssertEqual(t, f.State(), StateCancelled)
	testutil.AssertEqual(t, pool.PendingCount(), 0)
}

func TestNilTask(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	f := Push[int](pool, nil)
	_, err := f.Wait()
	testutil.AssertEqual(t, sterrors.IsValidationError(err), true)

	g := pool.Submit(nil)
	_, err = g.Wait()
	testutil.AssertEqual(t, sterrors.IsValidationError(err), true)
	testutil.AssertEqual(t, pool.PendingCount(), 0)
}

func TestMockClockControlsReadiness(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	pool := NewWithConfig(Config{WorkerCount: 1, Clock: clock})
	defer pool.Close()
	pool.Start(0)

	var executed int32
	delayed := PushAfter(pool, time.Hour, sleepTask(0, &executed))

	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, delayed.State(), StatePending)

	clock.Advance(time.Hour)
	// Any submission makes the worker rescan the collection.
	Push(pool, sleepTask(0, &executed))

	testutil.WaitForInt32(t, &executed, 2, time.Second)
	testutil.AssertEqual(t, delayed.State(), StateReady)
}

func TestWorkerIDInContext(t *testing.T) {
	pool := New(2)
	defer pool.Close()
	pool.Start(0)

	f := Push(pool, func(ctx context.Context) (int, error) {
		id, ok := WorkerID(ctx)
		if !ok {
			return -1, errors.New("no worker id in context")
		}
		return id, nil
	})

	id, err := f.Wait()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, id >= 0 && id < 2, true)

	_, ok := WorkerID(context.Background())
	testutil.AssertEqual(t, ok, false)
}

func TestWorkerCallbacks(t *testing.T) {
	workerStarted := testutil.NewCallbackTracker()
	workerStopped := testutil.NewCallbackTracker()
	taskStarted := testutil.NewCallbackTracker()
	var completed atomic.Value

	pool := NewWithConfig(Config{
		WorkerCount:   2,
		OnWorkerStart: func(workerID int) { workerStarted.Mark() },
		OnWorkerStop:  func(workerID int) { workerStopped.Mark() },
		OnTaskStart:   func(workerID int, id uuid.UUID) { taskStarted.Mark() },
		OnTaskComplete: func(workerID int, result Result) {
			completed.Store(result)
		},
	})
	defer pool.Close()
	pool.Start(0)

	f := pool.Submit(func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	_, err := f.Wait()
	testutil.AssertNoError(t, err)

	pool.Stop()

	workerStarted.AssertCallCount(t, 2)
	workerStopped.AssertCallCount(t, 2)
	taskStarted.AssertCallCount(t, 1)

	result := completed.Load().(Result)
	testutil.AssertEqual(t, result.ID, f.ID())
	testutil.AssertEqual(t, result.Error, nil)
	testutil.AssertEqual(t, result.Duration >= 5*time.Millisecond, true)
}

func TestConcurrentPushAndStop(t *testing.T) {
	pool := New(4)
	pool.Start(0)

	const numGoroutines = 8
	const tasksPerGoroutine = 50

	var mu sync.Mutex
	var futures []*Future[struct{}]
	var executed int32
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < tasksPerGoroutine; j++ {
				f := Push(pool, sleepTask(0, &executed))
				mu.Lock()
				futures = append(futures, f)
				mu.Unlock()
			}
		}()
	}

	pool.Stop()
	pool.Start(2)
	wg.Wait()
	pool.Close()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	var ready, cancelled int
	for _, f := range futures {
		_, err := f.Get(ctx)
		switch f.State() {
		case StateReady:
			ready++
		case StateCancelled:
			cancelled++
		default:
			t.Fatalf("unexpected state %v (err %v)", f.State(), err)
		}
	}
	testutil.AssertEqual(t, ready+cancelled, numGoroutines*tasksPerGoroutine)
	testutil.AssertEqual(t, int32(ready), atomic.LoadInt32(&executed))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pool := NewWithConfig(Config{
		WorkerCount: 2,
		Name:        "metered",
		Metrics:     metrics.NewRegistry(reg),
	})
	defer pool.Close()
	testutil.AssertEqual(t, pool.MetricsEnabled(), true)

	pool.Start(0)
	pool.Submit(func(ctx context.Context) error { return nil })
	pool.Submit(func(ctx context.Context) error { return errors.New("nope") })
	pool.Join()

	PushAfter(pool, time.Hour, func(ctx context.Context) (int, error) { return 0, nil })
	pool.Clear()

	m := pool.metrics
	testutil.AssertEqual(t, promtestutil.ToFloat64(m.TasksSubmitted.WithLabelValues("metered")), 3.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(m.TasksCompleted.WithLabelValues("metered")), 1.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(m.TasksFailed.WithLabelValues("metered")), 1.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(m.TasksCancelled.WithLabelValues("metered")), 1.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(m.WorkerPoolSize.WithLabelValues("metered")), 0.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(m.WorkerPoolQueued.WithLabelValues("metered")), 0.0)
}

func TestNewWithMetrics(t *testing.T) {
	pool := NewWithMetrics(2, "standalone")
	defer pool.Close()

	testutil.AssertEqual(t, pool.MetricsEnabled(), true)
	testutil.AssertEqual(t, pool.Name(), "standalone")
}

func TestDefault(t *testing.T) {
	var wg sync.WaitGroup
	pools := make([]*Pool, 8)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pools[i] = Default()
		}(i)
	}
	wg.Wait()

	for _, p := range pools {
		if p != pools[0] {
			t.Fatal("Default returned different pools")
		}
	}
	t.Cleanup(pools[0].Stop)

	testutil.AssertEqual(t, pools[0].Name(), "default")
	v, err := Push(pools[0], func(ctx context.Context) (int, error) { return 1, nil }).Wait()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, 1)
}

func TestCancelRemovesOnePendingTask(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	var executed int64
	job := func(context.Context) error {
		atomic.AddInt64(&executed, 1)
		return nil
	}

	dropped := pool.SubmitAt(time.Now().Add(time.Hour), job)
	kept := pool.Submit(job)

	droppedDone := testutil.NewCallbackTracker()
	keptDone := testutil.NewCallbackTracker()
	dropped.OnDone(func(State) { droppedDone.Mark() })
	kept.OnDone(func(State) { keptDone.Mark() })

	testutil.AssertEqual(t, pool.Cancel(dropped.ID()), true)
	testutil.AssertEqual(t, pool.Cancel(dropped.ID()), false)
	testutil.AssertEqual(t, pool.Cancel(uuid.New()), false)

	droppedDone.AssertCalled(t)
	keptDone.AssertNotCalled(t)
	testutil.AssertEqual(t, dropped.State(), StateCancelled)
	testutil.AssertEqual(t, pool.PendingCount(), 1)
	testutil.AssertEqual(t, pool.Stats().Cancelled, int64(1))

	_, err := dropped.Wait()
	testutil.AssertEqual(t, sterrors.IsCancelled(err), true)

	pool.Start(0)
	testutil.WaitForInt64(t, &executed, 1, time.Second)
	keptDone.AssertCallCount(t, 1)
	testutil.AssertEqual(t, kept.State(), StateReady)
}

func TestCancelIgnoresClaimedTask(t *testing.T) {
	pool := New(1)
	pool.Start(0)
	defer pool.Close()

	release := make(chan struct{})
	running := pool.Submit(func(context.Context) error {
		<-release
		return nil
	})
	testutil.AssertEventually(t, func() bool { return pool.ActiveCount() == 1 })

	testutil.AssertEqual(t, pool.Cancel(running.ID()), false)
	close(release)

	_, err := running.Wait()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, running.State(), StateReady)
}
