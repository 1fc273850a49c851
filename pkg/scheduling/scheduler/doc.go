/*
Package scheduler runs jobs at a point in time, on a fixed interval, or on a
cron schedule, using a workerpool.Pool for execution.

Basic Usage:

	pool := workerpool.New(4)
	pool.Start(0)
	defer pool.Close()

	s := scheduler.New(pool)
	defer s.Stop()

	job := func(ctx context.Context) error {
		fmt.Println("Task executed!")
		return nil
	}

	// Schedule a one-time task
	s.Schedule("my-task", job, time.Now().Add(time.Second))

	// Schedule with delay
	s.ScheduleAfter("warmup", job, 5*time.Minute)

	// Run now and then every 30 seconds after each run finishes
	s.ScheduleRepeating("report", job, 30*time.Second)

Cron Expressions:

Cron schedules take six fields, seconds first, or a descriptor:

	s.ScheduleCron("backup", "0 30 2 * * *", job)    // 02:30:00 every day
	s.ScheduleCron("sweep", "0/10 * * * * *", job)   // every 10 seconds
	s.ScheduleCron("rotate", "@hourly", job)
	s.ScheduleCron("probe", "@every 1m30s", job)

Expressions are evaluated in Config.Location. ValidateCron checks an
expression without scheduling anything.

How Occurrences Run:

Each occurrence is one delayed task on the pool. Repeating and cron schedules
queue the next occurrence when the current one returns, so a schedule never
overlaps itself. A job that returns an error or panics keeps its schedule.

A schedule is dropped when its queued occurrence is cancelled by the pool
(Pool.Clear or Pool.Close), and when a cron expression has no further match.
Expressions that never match, such as "0 0 0 30 2 *", are rejected up front.

Task Management:

	for _, t := range s.List() { // ordered by next run
		fmt.Println(t.ID, t.Kind, t.RunAt, t.Runs)
	}

	next, ok := s.Next("backup")

	s.Cancel("backup") // also removes the queued occurrence from the pool
	s.CancelAll()

Errors:

Invalid arguments return a *errors.ValidationError (empty or overlong ID, nil
job, zero run time, non-positive interval, duplicate ID, cron expression
that never matches). A malformed cron
expression returns an *errors.OperationError wrapping the parser error.
Scheduling past Config.MaxTasks wraps errors.ErrCapacityExceeded, and
scheduling after Stop wraps errors.ErrClosed.

Retries:

BackoffTask retries a job with exponential backoff:

	retrying := scheduler.BackoffTask{
		Job:          job,
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
	s.ScheduleCron("sync", "@every 5m", retrying.Run)
*/
package scheduler
