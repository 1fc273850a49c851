package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vnykmshr/systask/pkg/metrics"
)

// TaskFunc is a unit of work producing a value of type R.
// Arguments are bound by the closure; ctx carries the executing worker's identity.
type TaskFunc[R any] func(ctx context.Context) (R, error)

// Job is a TaskFunc without a result value.
type Job func(ctx context.Context) error

// Result describes one finished execution and is passed to OnTaskComplete.
type Result struct {
	// ID identifies the task
	ID uuid.UUID

	// Error is the task's failure, nil on success
	Error error

	// Duration is how long the task body ran
	Duration time.Duration

	// Delay is how late the task started relative to its scheduled time
	Delay time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Clock supplies the timestamps used for scheduling decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Workers   int
	Active    int
	Pending   int
	Submitted int64
	Completed int64
	Failed    int64
	Cancelled int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers Start spawns when called with n <= 0.
	// Defaults to runtime.NumCPU().
	WorkerCount int

	// Name labels worker goroutines, log entries and metrics. Defaults to "pool".
	Name string

	// Clock decides when delayed tasks become ready. Defaults to the wall clock.
	Clock Clock

	// Logger receives lifecycle and failure events. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics enables Prometheus instrumentation when non-nil.
	Metrics *metrics.Registry

	// PanicHandler is called when a task panics. The panic is still delivered
	// to the task's Future as a *PanicError.
	PanicHandler func(id uuid.UUID, recovered any)

	// OnWorkerStart is called when a worker starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker stops.
	OnWorkerStop func(workerID int)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, id uuid.UUID)

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(workerID int, result Result)
}

// task is one pending unit of work. run executes the body and resolves the
// Future; cancel resolves the Future as cancelled.
type task struct {
	id       uuid.UUID
	runAt    time.Time
	enqueued time.Time
	run      func(ctx context.Context) error
	cancel   func(err error)
}

// Pool is a fixed set of workers pulling from one pending-task collection.
// Tasks may be delayed; every task yields a Future.
type Pool struct {
	config  Config
	clock   Clock
	logger  *zap.Logger
	metrics *metrics.Registry

	// mu guards tasks and closed
	mu     sync.Mutex
	tasks  deque.Deque[*task]
	closed bool
	wake   chan struct{}

	// lifecycle serializes Start, Stop and Close
	lifecycle sync.Mutex
	quit      chan struct{}
	wg        sync.WaitGroup

	shutdown atomic.Bool
	workers  atomic.Int64
	active   atomic.Int64

	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalCancelled atomic.Int64
}

// New creates a pool whose Start(0) spawns workerCount workers.
// No workers run until Start is called; tasks pushed before that are queued.
func New(workerCount int) *Pool {
	return NewWithConfig(Config{WorkerCount: workerCount})
}

// NewWithConfig creates a new pool with the specified configuration.
func NewWithConfig(config Config) *Pool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = runtime.NumCPU()
	}
	if config.Name == "" {
		config.Name = "pool"
	}

	clock := config.Clock
	if clock == nil {
		clock = systemClock{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		config:  config,
		clock:   clock,
		logger:  logger.With(zap.String("pool", config.Name)),
		metrics: config.Metrics,
		wake:    make(chan struct{}, 1),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.config.Name
}

// Clock returns the clock the pool uses to decide task readiness.
func (p *Pool) Clock() Clock {
	return p.clock
}

// Start stops any running workers, then spawns workerCount new ones.
// A workerCount <= 0 uses Config.WorkerCount.
func (p *Pool) Start(workerCount int) {
	if workerCount <= 0 {
		workerCount = p.config.WorkerCount
	}

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.stopLocked()

	p.shutdown.Store(false)
	p.quit = make(chan struct{})
	p.workers.Store(int64(workerCount))
	p.observeSize()

	for i := 0; i < workerCount; i++ {
		w := &worker{id: i, pool: p, quit: p.quit}
		p.wg.Add(1)
		go w.start()
	}

	p.logger.Debug("workers started", zap.Int("workers", workerCount))
}

// Stop requests shutdown and waits for every worker to exit.
// Workers first drain all tasks that are ready; tasks still delayed stay
// pending for a later Start. Stop is idempotent and must not be called from
// inside a task.
func (p *Pool) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.stopLocked()
}

// Join is an alias for Stop.
func (p *Pool) Join() {
	p.Stop()
}

func (p *Pool) stopLocked() {
	if p.quit == nil {
		return
	}

	p.shutdown.Store(true)
	close(p.quit)
	p.wg.Wait()

	p.quit = nil
	p.workers.Store(0)
	p.observeSize()

	p.logger.Debug("workers stopped")
}

// Close stops the pool and cancels every task left pending.
// Tasks pushed after Close are cancelled immediately.
func (p *Pool) Close() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.stopLocked()

	p.mu.Lock()
	p.closed = true
	dropped := p.drainLocked()
	p.mu.Unlock()

	p.cancelAll(dropped, closedErr)
}

// Clear removes every pending task and resolves their Futures as cancelled.
// Tasks already claimed by a worker are unaffected. It returns the number
// of tasks removed.
func (p *Pool) Clear() int {
	p.mu.Lock()
	dropped := p.drainLocked()
	p.mu.Unlock()

	p.cancelAll(dropped, cancelledErr)
	if len(dropped) > 0 {
		p.logger.Info("pending tasks cleared", zap.Int("count", len(dropped)))
	}
	return len(dropped)
}

// Cancel removes the pending task with the given ID and resolves its Future
// as cancelled. It returns false when the task is unknown or a worker has
// already claimed it.
func (p *Pool) Cancel(id uuid.UUID) bool {
	p.mu.Lock()
	var found *task
	for i := 0; i < p.tasks.Len(); i++ {
		if p.tasks.At(i).id == id {
			found = p.tasks.Remove(i)
			break
		}
	}
	if found != nil {
		p.observeQueued(p.tasks.Len())
	}
	p.mu.Unlock()

	if found == nil {
		return false
	}
	p.cancelAll([]*task{found}, cancelledErr)
	return true
}

func (p *Pool) drainLocked() []*task {
	dropped := make([]*task, 0, p.tasks.Len())
	for p.tasks.Len() > 0 {
		dropped = append(dropped, p.tasks.PopFront())
	}
	p.observeQueued(0)
	return dropped
}

func (p *Pool) cancelAll(dropped []*task, err error) {
	for _, t := range dropped {
		t.cancel(err)
	}
	p.totalCancelled.Add(int64(len(dropped)))
	p.observeCancelled(len(dropped))
}

// WorkerCount returns the number of workers in the current worker set.
func (p *Pool) WorkerCount() int {
	return int(p.workers.Load())
}

// ActiveCount returns how many workers are executing a task body right now.
// The value is approximate and meant for diagnostics.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// PendingCount returns the number of tasks not yet claimed by a worker.
func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Len()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.WorkerCount(),
		Active:    p.ActiveCount(),
		Pending:   p.PendingCount(),
		Submitted: p.totalSubmitted.Load(),
		Completed: p.totalCompleted.Load(),
		Failed:    p.totalFailed.Load(),
		Cancelled: p.totalCancelled.Load(),
	}
}
