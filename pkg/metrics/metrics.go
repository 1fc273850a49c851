// Package metrics provides Prometheus instrumentation for systask components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for systask components.
type Registry struct {
	// Worker Pool Metrics
	TasksSubmitted        *prometheus.CounterVec
	TasksCompleted        *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TasksCancelled        *prometheus.CounterVec
	TaskExecutionDuration *prometheus.HistogramVec
	TaskStartDelay        *prometheus.HistogramVec
	WorkerPoolSize        *prometheus.GaugeVec
	WorkerPoolActive      *prometheus.GaugeVec
	WorkerPoolQueued      *prometheus.GaugeVec

	// Scheduler Metrics
	TasksScheduled *prometheus.CounterVec
	TasksFired     *prometheus.CounterVec
	ScheduledTasks *prometheus.GaugeVec
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry bound to prometheus.DefaultRegisterer.
// It is created on first use and shared afterwards, so repeated calls never
// attempt a second registration.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace)
}

func newRegistry(reg prometheus.Registerer, namespace string) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks pushed to the pool",
			},
			[]string{"pool_name"},
		),

		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks completed successfully",
			},
			[]string{"pool_name"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that returned an error or panicked",
			},
			[]string{"pool_name"},
		),

		TasksCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_cancelled_total",
				Help:      "Total number of pending tasks dropped before execution",
			},
			[]string{"pool_name"},
		),

		TaskExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing task bodies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool_name"},
		),

		TaskStartDelay: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "task_start_delay_seconds",
				Help:      "Time between a task's scheduled start and the moment a worker claimed it",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool_name"},
		),

		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "size",
				Help:      "Current worker pool size",
			},
			[]string{"pool_name"},
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "active_workers",
				Help:      "Number of workers executing a task body",
			},
			[]string{"pool_name"},
		),

		WorkerPoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "queued_tasks",
				Help:      "Number of tasks waiting in the pending collection",
			},
			[]string{"pool_name"},
		),

		TasksScheduled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_scheduled_total",
				Help:      "Total number of tasks scheduled",
			},
			[]string{"scheduler_name", "kind"},
		),

		TasksFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_fired_total",
				Help:      "Total number of scheduled occurrences handed to a worker",
			},
			[]string{"scheduler_name"},
		),

		ScheduledTasks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "scheduled_tasks",
				Help:      "Number of live schedules",
			},
			[]string{"scheduler_name"},
		),
	}
}
