/*
Package systask provides a fixed-size worker pool with delayed task execution
and a scheduler built on top of it.

Task Scheduling (pkg/scheduling):
  - workerpool: Workers pulling immediate and delayed tasks, each with a Future
  - scheduler: One-time, repeating and cron schedules run on a workerpool

Supporting packages:
  - metrics: Prometheus instruments for pools and schedulers
  - common/errors: Sentinel errors and structured validation errors
  - common/validation: Argument checks shared by the packages above

Example usage:

	import (
		"github.com/vnykmshr/systask/pkg/scheduling/scheduler"
		"github.com/vnykmshr/systask/pkg/scheduling/workerpool"
	)

	pool := workerpool.New(5)
	pool.Start(0)
	defer pool.Close()

	report := workerpool.PushAfter(pool, time.Minute, buildReport)

	s := scheduler.New(pool)
	defer s.Stop()
	s.ScheduleCron("rotate", "@hourly", rotateLogs)

	r, err := report.Wait()

The systask command (cmd/systask) runs sample workloads and serves pool
metrics over HTTP.
*/
package systask
