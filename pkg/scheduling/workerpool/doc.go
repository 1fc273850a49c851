/*
Package workerpool provides a fixed-size worker pool with delayed task execution.

A Pool owns a set of long-lived worker goroutines that pull from one pending-task
collection. Every pushed task returns a Future that resolves with the task's value,
its failure, or a cancellation.

Basic usage:

	pool := workerpool.New(4) // Start(0) spawns 4 workers
	pool.Start(0)
	defer pool.Close()

	f := workerpool.Push(pool, func(ctx context.Context) (int, error) {
		return 6 * 7, nil
	})

	v, err := f.Wait()

Delayed Tasks:

	// Run no earlier than the given time
	workerpool.PushDelayed(pool, deadline, fn)

	// Run no earlier than 5 minutes from now
	workerpool.PushAfter(pool, 5*time.Minute, fn)

A waiting worker arms a timer for the earliest pending task, so a delayed task
runs close to its scheduled time even when nothing else is submitted.

Ordering:

Workers scan the pending collection in insertion order and take the first task
whose scheduled time has passed. Tasks are not reordered by scheduled time, and
there are no priorities.

Tasks Without Results:

	f := pool.Submit(func(ctx context.Context) error {
		return flush(ctx)
	})

Error Handling:

Errors returned by a task and panics raised in it are delivered only through
its Future. A panic becomes a *PanicError that matches errors.ErrTaskPanicked;
the worker keeps running.

Lifecycle:

  - Tasks may be pushed before Start; they wait until workers exist.
  - Start(n) stops any running workers and spawns n new ones.
  - Stop (or Join) waits for every worker to exit after draining the tasks that
    are ready. Tasks still delayed stay queued for a later Start.
  - Clear drops every pending task; their Futures report StateCancelled.
  - Close stops the pool and cancels whatever is left. Call it when the pool is
    no longer needed so that no waiter blocks forever.

Inspection:

	pool.WorkerCount()  // size of the current worker set
	pool.ActiveCount()  // workers inside a task body right now (approximate)
	pool.PendingCount() // tasks not yet claimed
	pool.Stats()        // totals for submitted, completed, failed, cancelled

Worker Identity:

Workers run under pprof labels pool=<name> and worker=<index>, and a task can
read the index of the worker running it with WorkerID(ctx).

Thread Safety:

All Pool methods are safe for concurrent use. Stop, Join and Close must not be
called from inside a task running on the same pool.
*/
package workerpool
