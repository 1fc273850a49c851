package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vnykmshr/systask/pkg/metrics"
	"github.com/vnykmshr/systask/pkg/scheduling/scheduler"
	"github.com/vnykmshr/systask/pkg/scheduling/workerpool"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	name     string
	workers  int
	interval time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a probe schedule on the pool and expose /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			return serve(cmd.Context(), ln, a.log, serveOptions{
				name:     a.cfg.Pool.Name,
				workers:  a.cfg.Pool.Workers,
				interval: a.cfg.Metrics.ProbeInterval,
			})
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", a.cfg.Metrics.Addr, "Metrics listen address")
	cmd.Flags().IntVarP(&a.cfg.Pool.Workers, "workers", "w", a.cfg.Pool.Workers, "Number of workers")
	cmd.Flags().DurationVar(&a.cfg.Metrics.ProbeInterval, "probe-interval", a.cfg.Metrics.ProbeInterval, "Interval between probe tasks")
	return cmd
}

// serve runs the pool and its probe schedule until ctx is done, serving
// Prometheus metrics on ln.
func serve(ctx context.Context, ln net.Listener, log *zap.Logger, opts serveOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.Config{Enabled: true, Registry: reg}.Build()

	pool := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount: opts.workers,
		Name:        opts.name,
		Logger:      log,
		Metrics:     m,
		PanicHandler: func(id uuid.UUID, recovered any) {
			log.Warn("probe panicked", zap.Stringer("task_id", id), zap.Any("panic", recovered))
		},
	})
	pool.Start(0)
	defer pool.Close()

	sched := scheduler.NewWithConfig(scheduler.Config{
		Pool:    pool,
		Name:    opts.name,
		Metrics: m,
		Logger:  log,
	})
	defer sched.Stop()

	probe := func(ctx context.Context) error {
		id, _ := workerpool.WorkerID(ctx)
		stats := pool.Stats()
		log.Debug("probe",
			zap.Int("worker", id),
			zap.Int("pending", stats.Pending),
			zap.Int64("completed", stats.Completed))
		return nil
	}
	if err := sched.ScheduleRepeating("probe", probe, opts.interval); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
