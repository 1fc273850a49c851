/*
Package scheduling groups the task execution packages:

  - workerpool: fixed set of workers running immediate and delayed tasks, each with a Future
  - scheduler: one-time, repeating and cron schedules executed on a workerpool

Worker Pool:

	pool := workerpool.New(4)
	pool.Start(0)
	defer pool.Close()

	f := workerpool.PushAfter(pool, time.Second, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	v, err := f.Wait()

Task Scheduler:

	s := scheduler.New(pool)
	defer s.Stop()

	s.ScheduleCron("cleanup", "0 0 * * * *", func(ctx context.Context) error {
		return cleanup(ctx)
	})
*/
package scheduling
