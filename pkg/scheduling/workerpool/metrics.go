package workerpool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vnykmshr/systask/pkg/metrics"
)

// NewWithMetrics creates a pool instrumented on its own Prometheus registry.
// Use Config.Metrics to share a registry between components.
func NewWithMetrics(workerCount int, name string) *Pool {
	// Use a separate registry for each metrics-enabled component to avoid conflicts
	registry := prometheus.NewRegistry()

	return NewWithConfig(Config{
		WorkerCount: workerCount,
		Name:        name,
		Metrics:     metrics.NewRegistry(registry),
	})
}

// MetricsEnabled returns true if the pool records Prometheus metrics.
func (p *Pool) MetricsEnabled() bool {
	return p.metrics != nil
}

func (p *Pool) observeSize() {
	if p.metrics == nil {
		return
	}
	p.metrics.WorkerPoolSize.WithLabelValues(p.config.Name).Set(float64(p.workers.Load()))
}

func (p *Pool) observeActive() {
	if p.metrics == nil {
		return
	}
	p.metrics.WorkerPoolActive.WithLabelValues(p.config.Name).Set(float64(p.active.Load()))
}

func (p *Pool) observeQueued(n int) {
	if p.metrics == nil {
		return
	}
	p.metrics.WorkerPoolQueued.WithLabelValues(p.config.Name).Set(float64(n))
}

func (p *Pool) observeSubmitted(queued int) {
	if p.metrics == nil {
		return
	}
	p.metrics.TasksSubmitted.WithLabelValues(p.config.Name).Inc()
	p.observeQueued(queued)
}

func (p *Pool) observeCancelled(n int) {
	if p.metrics == nil || n == 0 {
		return
	}
	p.metrics.TasksCancelled.WithLabelValues(p.config.Name).Add(float64(n))
}

func (p *Pool) observeExecution(err error, duration, delay time.Duration) {
	if p.metrics == nil {
		return
	}

	name := p.config.Name
	p.metrics.TaskExecutionDuration.WithLabelValues(name).Observe(duration.Seconds())
	p.metrics.TaskStartDelay.WithLabelValues(name).Observe(max(delay, 0).Seconds())

	if err != nil {
		p.metrics.TasksFailed.WithLabelValues(name).Inc()
	} else {
		p.metrics.TasksCompleted.WithLabelValues(name).Inc()
	}
}
