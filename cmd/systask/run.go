package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sterrors "github.com/vnykmshr/systask/pkg/common/errors"
	"github.com/vnykmshr/systask/pkg/common/validation"
	"github.com/vnykmshr/systask/pkg/scheduling/workerpool"
)

type runOptions struct {
	name    string
	workers int
	tasks   int
	sleep   time.Duration
	delay   time.Duration
}

func (o runOptions) validate() error {
	if err := validation.ValidatePositive("run", "workers", o.workers); err != nil {
		return err
	}
	if err := validation.ValidatePositive("run", "tasks", o.tasks); err != nil {
		return err
	}
	if o.sleep < 0 {
		return sterrors.NewValidationError("run", "sleep", o.sleep, "cannot be negative")
	}
	if o.delay < 0 {
		return sterrors.NewValidationError("run", "delay", o.delay, "cannot be negative")
	}
	return nil
}

func newRunCmd(a *app) *cobra.Command {
	opts := runOptions{tasks: 8, sleep: 100 * time.Millisecond}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sleep workload and report per-task outcomes",
		Example: `  systask run --workers 2 --tasks 4 --sleep 50ms
  systask run --tasks 10 --delay 1s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.name = a.cfg.Pool.Name
			if opts.workers == 0 {
				opts.workers = a.cfg.Pool.Workers
			}
			return runWorkload(cmd.Context(), cmd.OutOrStdout(), a.log, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Number of workers (default $SYSTASK_WORKERS or CPU count)")
	cmd.Flags().IntVarP(&opts.tasks, "tasks", "n", opts.tasks, "Number of tasks to push")
	cmd.Flags().DurationVarP(&opts.sleep, "sleep", "s", opts.sleep, "How long each task works")
	cmd.Flags().DurationVarP(&opts.delay, "delay", "d", 0, "Delay before tasks become ready")
	return cmd
}

type outcome struct {
	worker  int
	started time.Duration
}

func runWorkload(ctx context.Context, out io.Writer, log *zap.Logger, opts runOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	pool := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount: opts.workers,
		Name:        opts.name,
		Logger:      log,
	})
	pool.Start(0)
	defer pool.Close()

	log.Info("workload started",
		zap.Int("workers", opts.workers),
		zap.Int("tasks", opts.tasks),
		zap.Duration("sleep", opts.sleep),
		zap.Duration("delay", opts.delay))

	start := time.Now()
	futures := make([]*workerpool.Future[outcome], opts.tasks)
	for i := range futures {
		futures[i] = workerpool.PushAfter(pool, opts.delay, func(ctx context.Context) (outcome, error) {
			id, _ := workerpool.WorkerID(ctx)
			began := time.Since(start)
			time.Sleep(opts.sleep)
			return outcome{worker: id, started: began}, nil
		})
	}

	for i, f := range futures {
		o, err := f.Get(ctx)
		if err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		fmt.Fprintf(out, "task %d: worker %d, started after %v\n", i, o.worker, o.started.Round(time.Millisecond))
	}

	elapsed := time.Since(start)
	stats := pool.Stats()
	fmt.Fprintf(out, "%d tasks on %d workers finished in %v (completed=%d failed=%d)\n",
		opts.tasks, opts.workers, elapsed.Round(time.Millisecond), stats.Completed, stats.Failed)
	return nil
}
