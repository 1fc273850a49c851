package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sterrors "github.com/vnykmshr/systask/pkg/common/errors"
)

var (
	cancelledErr = sterrors.ErrCancelled
	closedErr    = fmt.Errorf("%w: %w", sterrors.ErrCancelled, sterrors.ErrClosed)
)

// Push queues fn for immediate execution and returns its Future.
// It is equivalent to PushDelayed with the pool clock's current time.
func Push[R any](p *Pool, fn TaskFunc[R]) *Future[R] {
	return PushDelayed(p, p.clock.Now(), fn)
}

// PushAfter queues fn to run no earlier than d from now.
func PushAfter[R any](p *Pool, d time.Duration, fn TaskFunc[R]) *Future[R] {
	return PushDelayed(p, p.clock.Now().Add(d), fn)
}

// PushDelayed queues fn to run no earlier than startAt and returns its Future
// without blocking. A value or error returned by fn, or a panic raised in it,
// is delivered only through the Future.
func PushDelayed[R any](p *Pool, startAt time.Time, fn TaskFunc[R]) *Future[R] {
	id := uuid.New()
	f := newFuture[R](id)

	if fn == nil {
		f.resolve(*new(R), sterrors.NewValidationError("workerpool", "task", nil, "cannot be nil"))
		return f
	}

	p.enqueue(&task{
		id:       id,
		runAt:    startAt,
		enqueued: p.clock.Now(),
		run: func(ctx context.Context) error {
			v, err := invoke(ctx, fn)
			f.resolve(v, err)
			return err
		},
		cancel: f.cancel,
	})
	return f
}

// Submit queues a Job for immediate execution.
func (p *Pool) Submit(job Job) *Future[struct{}] {
	return p.SubmitAt(p.clock.Now(), job)
}

// SubmitAt queues a Job to run no earlier than startAt.
func (p *Pool) SubmitAt(startAt time.Time, job Job) *Future[struct{}] {
	var fn TaskFunc[struct{}]
	if job != nil {
		fn = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, job(ctx)
		}
	}
	return PushDelayed(p, startAt, fn)
}

func invoke[R any](ctx context.Context, fn TaskFunc[R]) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

func (p *Pool) enqueue(t *task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.cancel(closedErr)
		p.totalCancelled.Add(1)
		p.observeCancelled(1)
		return
	}
	p.tasks.PushBack(t)
	queued := p.tasks.Len()
	p.mu.Unlock()

	p.totalSubmitted.Add(1)
	p.observeSubmitted(queued)
	p.signal()
}

// signal wakes one waiting worker. A pending token already covers it.
func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// claim removes the first ready task in insertion order. When nothing is
// ready it reports how long until the earliest pending task becomes ready;
// wait is negative when the collection is empty.
func (p *Pool) claim() (t *task, wait time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tasks.Len() == 0 {
		return nil, -1
	}

	now := p.clock.Now()
	var earliest time.Time
	for i := 0; i < p.tasks.Len(); i++ {
		candidate := p.tasks.At(i)
		if !candidate.runAt.After(now) {
			p.tasks.Remove(i)
			p.observeQueued(p.tasks.Len())
			if p.tasks.Len() > 0 {
				p.signal()
			}
			return candidate, 0
		}
		if earliest.IsZero() || candidate.runAt.Before(earliest) {
			earliest = candidate.runAt
		}
	}
	return nil, earliest.Sub(now)
}

type workerKey struct{}

// WorkerID returns the index of the worker executing the task that owns ctx.
func WorkerID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(workerKey{}).(int)
	return id, ok
}

// worker represents a single worker in the pool.
type worker struct {
	id   int
	pool *Pool
	quit <-chan struct{}
}

func (w *worker) name() string {
	return w.pool.config.Name + " " + strconv.Itoa(w.id)
}

// start runs the worker loop under pprof labels naming the worker.
func (w *worker) start() {
	defer w.pool.wg.Done()

	ctx := context.WithValue(context.Background(), workerKey{}, w.id)
	labels := pprof.Labels("pool", w.pool.config.Name, "worker", strconv.Itoa(w.id))
	pprof.Do(ctx, labels, w.run)
}

// run is the main loop for a worker: wait, claim a ready task, execute, repeat.
// It returns once shutdown is requested and no task is ready.
func (w *worker) run(ctx context.Context) {
	p := w.pool
	log := p.logger.With(zap.String("worker", w.name()))

	if p.config.OnWorkerStart != nil {
		p.config.OnWorkerStart(w.id)
	}
	log.Debug("worker started")
	defer func() {
		log.Debug("worker stopped")
		if p.config.OnWorkerStop != nil {
			p.config.OnWorkerStop(w.id)
		}
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		t, wait := p.claim()
		if t != nil {
			w.execute(ctx, t, log)
			continue
		}
		if p.shutdown.Load() {
			return
		}

		var timeout <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timeout = timer.C
		}

		select {
		case <-p.wake:
		case <-w.quit:
		case <-timeout:
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// execute runs one claimed task and records its outcome.
func (w *worker) execute(ctx context.Context, t *task, log *zap.Logger) {
	p := w.pool
	start := p.clock.Now()
	delay := start.Sub(t.runAt)

	if p.config.OnTaskStart != nil {
		p.config.OnTaskStart(w.id, t.id)
	}

	p.active.Add(1)
	p.observeActive()
	err := t.run(ctx)
	p.active.Add(-1)
	p.observeActive()

	duration := p.clock.Now().Sub(start)

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		log.Error("task panicked",
			zap.Stringer("task_id", t.id),
			zap.Any("panic", panicErr.Value),
			zap.ByteString("stack", panicErr.Stack))
		if p.config.PanicHandler != nil {
			p.config.PanicHandler(t.id, panicErr.Value)
		}
	}

	if err != nil {
		p.totalFailed.Add(1)
	} else {
		p.totalCompleted.Add(1)
	}
	p.observeExecution(err, duration, delay)

	if p.config.OnTaskComplete != nil {
		p.config.OnTaskComplete(w.id, Result{
			ID:       t.id,
			Error:    err,
			Duration: duration,
			Delay:    delay,
			WorkerID: w.id,
		})
	}
}
