package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric unless Config.Namespace overrides it.
const DefaultNamespace = "systask"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "systask" namespace for metrics.
	Namespace string

	// Labels are constant labels added to all metrics.
	Labels prometheus.Labels
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
	}
}

// Build creates the Registry described by c. It returns nil when c is disabled,
// which components treat as "no instrumentation".
func (c Config) Build() *Registry {
	if !c.Enabled {
		return nil
	}
	reg := c.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(c.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(c.Labels, reg)
	}
	ns := c.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return newRegistry(reg, ns)
}
