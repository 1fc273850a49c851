package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	sterrors "github.com/vnykmshr/systask/pkg/common/errors"
	"github.com/vnykmshr/systask/pkg/common/validation"
	"github.com/vnykmshr/systask/pkg/metrics"
	"github.com/vnykmshr/systask/pkg/scheduling/workerpool"
)

const (
	moduleName = "scheduler"

	// MaxIDLength is the longest task ID accepted.
	MaxIDLength = 255

	// DefaultMaxTasks bounds the number of live schedules when Config.MaxTasks is unset.
	DefaultMaxTasks = 10000
)

// Kind describes how a scheduled task recurs.
type Kind string

const (
	// KindOnce runs a single time and is then removed.
	KindOnce Kind = "once"
	// KindRepeating runs again a fixed interval after each run returns.
	KindRepeating Kind = "repeating"
	// KindCron runs at the times matched by a cron expression.
	KindCron Kind = "cron"
)

// Task is a snapshot of one live schedule.
type Task struct {
	ID       string
	Kind     Kind
	RunAt    time.Time
	Interval time.Duration // Zero for one-time and cron tasks
	CronExpr string
	Created  time.Time
	Runs     int
}

// Scheduler runs jobs at a time, on an interval, or on a cron schedule.
// Every occurrence executes on the underlying worker pool.
type Scheduler interface {
	// Basic scheduling
	Schedule(id string, job workerpool.Job, runAt time.Time) error
	ScheduleAfter(id string, job workerpool.Job, delay time.Duration) error
	ScheduleRepeating(id string, job workerpool.Job, interval time.Duration) error

	// Cron scheduling
	ScheduleCron(id string, cronExpr string, job workerpool.Job) error

	// Task management
	Cancel(id string) bool
	CancelAll()
	List() []Task
	Next(id string) (time.Time, bool)

	// Lifecycle
	Stop()
}

// Config holds scheduler configuration.
type Config struct {
	// Pool executes occurrences. When nil the scheduler starts and owns a
	// pool of runtime.NumCPU() workers, closed by Stop.
	Pool *workerpool.Pool

	// Name labels log entries and metrics. Defaults to "scheduler".
	Name string

	// Location is used for cron evaluation. Defaults to time.Local.
	Location *time.Location

	// Clock supplies the current time. Defaults to the pool's clock.
	Clock workerpool.Clock

	// MaxTasks is the maximum number of live schedules (default: 10000).
	MaxTasks int

	Metrics *metrics.Registry
	Logger  *zap.Logger
}

type scheduledTask struct {
	id       string
	kind     Kind
	job      workerpool.Job
	runAt    time.Time
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
	created  time.Time
	runs     int

	// pending is the pool task holding the occurrence queued by arm call gen
	pending uuid.UUID
	gen     uint64
}

type scheduler struct {
	pool       *workerpool.Pool
	ownPool    bool
	name       string
	location   *time.Location
	clock      workerpool.Clock
	maxTasks   int
	cronParser cron.Parser
	metrics    *metrics.Registry
	logger     *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	stopped bool
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a scheduler that runs its jobs on pool.
func New(pool *workerpool.Pool) Scheduler {
	return NewWithConfig(Config{Pool: pool})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) Scheduler {
	pool := cfg.Pool
	ownPool := false
	if pool == nil {
		pool = workerpool.NewWithConfig(workerpool.Config{
			Name:    "scheduler",
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
		pool.Start(0)
		ownPool = true
	}

	name := cfg.Name
	if name == "" {
		name = "scheduler"
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	clock := cfg.Clock
	if clock == nil {
		clock = pool.Clock()
	}

	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &scheduler{
		pool:       pool,
		ownPool:    ownPool,
		name:       name,
		location:   location,
		clock:      clock,
		maxTasks:   maxTasks,
		cronParser: cronParser,
		metrics:    cfg.Metrics,
		logger:     logger.With(zap.String("scheduler", name)),
		tasks:      make(map[string]*scheduledTask),
	}
}

// ValidateCron reports whether expr is an accepted cron expression: six
// fields with seconds, or a descriptor such as "@hourly" or "@every 5m".
func ValidateCron(expr string) error {
	if err := validation.ValidateNotEmpty(moduleName, "cronExpr", expr); err != nil {
		return err
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return sterrors.NewOperationError(moduleName, "ParseCron", err).WithContext(expr)
	}
	return nil
}

func validateTask(id string, job workerpool.Job) error {
	if err := validation.ValidateNotEmpty(moduleName, "id", id); err != nil {
		return err
	}
	if err := validation.ValidateMaxLength(moduleName, "id", id, MaxIDLength); err != nil {
		return err
	}
	if job == nil {
		return sterrors.NewValidationError(moduleName, "job", nil, "cannot be nil")
	}
	return nil
}

func (s *scheduler) Schedule(id string, job workerpool.Job, runAt time.Time) error {
	if err := validateTask(id, job); err != nil {
		return err
	}
	if runAt.IsZero() {
		return sterrors.NewValidationError(moduleName, "runAt", runAt, "cannot be zero")
	}

	return s.add(&scheduledTask{
		id:    id,
		kind:  KindOnce,
		job:   job,
		runAt: runAt,
	})
}

func (s *scheduler) ScheduleAfter(id string, job workerpool.Job, delay time.Duration) error {
	return s.Schedule(id, job, s.clock.Now().Add(delay))
}

// ScheduleRepeating runs job now and then again interval after each run finishes.
func (s *scheduler) ScheduleRepeating(id string, job workerpool.Job, interval time.Duration) error {
	if err := validateTask(id, job); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration(moduleName, "interval", interval); err != nil {
		return err
	}

	return s.add(&scheduledTask{
		id:       id,
		kind:     KindRepeating,
		job:      job,
		runAt:    s.clock.Now(),
		interval: interval,
	})
}

func (s *scheduler) ScheduleCron(id string, cronExpr string, job workerpool.Job) error {
	if err := validateTask(id, job); err != nil {
		return err
	}
	if err := ValidateCron(cronExpr); err != nil {
		return err
	}

	schedule, _ := s.cronParser.Parse(cronExpr)
	runAt := schedule.Next(s.clock.Now().In(s.location))
	if runAt.IsZero() {
		return sterrors.NewValidationError(moduleName, "cronExpr", cronExpr, "never matches").
			WithHint("check that the day and month fields can occur together")
	}

	return s.add(&scheduledTask{
		id:       id,
		kind:     KindCron,
		job:      job,
		runAt:    runAt,
		cronExpr: cronExpr,
		schedule: schedule,
	})
}

func (s *scheduler) add(st *scheduledTask) error {
	s.mu.Lock()
	if err := s.insertLocked(st); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.arm(st)
	return nil
}

func (s *scheduler) insertLocked(st *scheduledTask) error {
	if s.stopped {
		return sterrors.NewOperationError(moduleName, "Schedule", sterrors.ErrClosed).WithContext(st.id)
	}

	if _, exists := s.tasks[st.id]; exists {
		return sterrors.NewValidationError(moduleName, "id", st.id, "already scheduled").
			WithHint("use a different ID or cancel the existing task first")
	}

	if len(s.tasks) >= s.maxTasks {
		return sterrors.NewOperationError(moduleName, "Schedule", sterrors.ErrCapacityExceeded).
			WithContext(fmt.Sprintf("maximum of %d tasks reached", s.maxTasks))
	}

	st.created = s.clock.Now()
	s.tasks[st.id] = st

	s.observeScheduled(st.kind, len(s.tasks))
	s.logger.Debug("task scheduled",
		zap.String("id", st.id),
		zap.String("kind", string(st.kind)),
		zap.Time("run_at", st.runAt))
	return nil
}

// arm queues the next occurrence of st on the pool. Callers must not hold s.mu.
func (s *scheduler) arm(st *scheduledTask) {
	s.mu.Lock()
	st.gen++
	gen := st.gen
	runAt := st.runAt
	s.mu.Unlock()

	f := s.pool.SubmitAt(runAt, func(ctx context.Context) error {
		return s.fire(ctx, st)
	})
	id := f.ID()

	s.mu.Lock()
	live := s.tasks[st.id] == st
	if live && st.gen == gen {
		st.pending = id
	}
	s.mu.Unlock()

	if !live {
		// Cancelled while the occurrence was being queued.
		s.pool.Cancel(id)
		return
	}

	f.OnDone(func(state workerpool.State) {
		if state == workerpool.StateCancelled {
			s.dropCancelled(st, id)
		}
	})
}

// dropCancelled removes a schedule whose queued occurrence was cancelled by
// the pool itself, through Clear or Close. Re-arming would undo the Clear.
func (s *scheduler) dropCancelled(st *scheduledTask, occurrence uuid.UUID) {
	s.mu.Lock()
	if s.tasks[st.id] != st || st.pending != occurrence {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, st.id)
	live := len(s.tasks)
	s.mu.Unlock()

	s.observeLive(live)
	s.logger.Warn("schedule dropped, pending occurrence was cancelled by the pool",
		zap.String("id", st.id))
}

// fire runs one occurrence. An entry that was cancelled or replaced since
// it was armed is skipped.
func (s *scheduler) fire(ctx context.Context, st *scheduledTask) error {
	s.mu.Lock()
	if s.tasks[st.id] != st {
		s.mu.Unlock()
		return nil
	}
	st.runs++
	if st.kind == KindOnce {
		delete(s.tasks, st.id)
	}
	live := len(s.tasks)
	s.mu.Unlock()

	s.observeFired(live)

	if st.kind != KindOnce {
		defer s.rearm(st)
	}

	err := st.job(ctx)
	if err != nil {
		s.logger.Warn("scheduled task failed", zap.String("id", st.id), zap.Error(err))
	}
	return err
}

func (s *scheduler) rearm(st *scheduledTask) {
	s.mu.Lock()
	if s.tasks[st.id] != st {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	var next time.Time
	switch st.kind {
	case KindRepeating:
		next = now.Add(st.interval)
	case KindCron:
		next = st.schedule.Next(now.In(s.location))
	}

	if next.IsZero() {
		delete(s.tasks, st.id)
		live := len(s.tasks)
		s.mu.Unlock()

		s.observeLive(live)
		s.logger.Warn("schedule dropped, no further run time", zap.String("id", st.id))
		return
	}

	st.runAt = next
	s.mu.Unlock()

	s.arm(st)
}

// Cancel removes the schedule with the given ID and its queued occurrence.
// An occurrence already handed to a worker finishes.
func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	st, exists := s.tasks[id]
	if !exists {
		s.mu.Unlock()
		return false
	}
	delete(s.tasks, id)
	live := len(s.tasks)
	s.mu.Unlock()

	s.observeLive(live)
	s.pool.Cancel(st.pending)
	return true
}

func (s *scheduler) CancelAll() {
	s.mu.Lock()
	pending := s.takeAllLocked()
	s.mu.Unlock()

	s.observeLive(0)
	s.cancelPending(pending)
}

// takeAllLocked empties the schedule map and returns the queued occurrences.
func (s *scheduler) takeAllLocked() []uuid.UUID {
	pending := make([]uuid.UUID, 0, len(s.tasks))
	for _, st := range s.tasks {
		pending = append(pending, st.pending)
	}
	s.tasks = make(map[string]*scheduledTask)
	return pending
}

func (s *scheduler) cancelPending(pending []uuid.UUID) {
	for _, id := range pending {
		s.pool.Cancel(id)
	}
}

// List returns the live schedules ordered by next run time.
func (s *scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, Task{
			ID:       t.id,
			Kind:     t.kind,
			RunAt:    t.runAt,
			Interval: t.interval,
			CronExpr: t.cronExpr,
			Created:  t.created,
			Runs:     t.runs,
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].RunAt.Equal(tasks[j].RunAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].RunAt.Before(tasks[j].RunAt)
	})

	return tasks
}

// Next returns when the schedule with the given ID runs next.
func (s *scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return t.runAt, true
}

// Stop cancels every schedule, removes their queued occurrences from the pool
// and rejects new ones. A pool created by the
// scheduler is closed; a pool passed in Config stays running.
func (s *scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	pending := s.takeAllLocked()
	s.mu.Unlock()

	s.observeLive(0)
	s.cancelPending(pending)
	if s.ownPool {
		s.pool.Close()
	}
	s.logger.Debug("scheduler stopped")
}

func (s *scheduler) observeScheduled(kind Kind, live int) {
	if s.metrics == nil {
		return
	}
	s.metrics.TasksScheduled.WithLabelValues(s.name, string(kind)).Inc()
	s.metrics.ScheduledTasks.WithLabelValues(s.name).Set(float64(live))
}

func (s *scheduler) observeFired(live int) {
	if s.metrics == nil {
		return
	}
	s.metrics.TasksFired.WithLabelValues(s.name).Inc()
	s.metrics.ScheduledTasks.WithLabelValues(s.name).Set(float64(live))
}

func (s *scheduler) observeLive(live int) {
	if s.metrics == nil {
		return
	}
	s.metrics.ScheduledTasks.WithLabelValues(s.name).Set(float64(live))
}
