// Package metrics provides Prometheus instrumentation for systask components.
//
// # Overview
//
// The Registry groups the collectors used by:
//   - Worker pools (submitted, completed, failed and cancelled tasks, execution
//     time, start delay, pool size, active workers, queued tasks)
//   - Schedulers (schedules created, occurrences fired, live schedules)
//
// # Quick Start
//
//	reg := prometheus.NewRegistry()
//	pool := workerpool.NewWithConfig(workerpool.Config{
//		Name:    "io",
//		Metrics: metrics.NewRegistry(reg),
//	})
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Labels
//
// Pool collectors carry a pool_name label and scheduler collectors a
// scheduler_name label, so several components can share one Registry.
package metrics
