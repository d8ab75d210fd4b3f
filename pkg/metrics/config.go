package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Config controls whether a component records Prometheus metrics and
// where they are registered. Components resolve it once at construction.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registerer collectors are attached to.
	// If nil, the shared default registerer is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns a configuration recording to the default
// Prometheus registerer.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Registry: prometheus.DefaultRegisterer,
	}
}

// Resolve returns the Registry a component should record to: nil when
// metrics are disabled, a registry bound to c.Registry when one is set,
// and the process-wide default otherwise.
//
// Callers sharing a custom Registerer should resolve once and reuse the
// result; resolving twice against the same Registerer registers the
// collectors twice.
func (c Config) Resolve() *Registry {
	if !c.Enabled {
		return nil
	}
	if c.Registry != nil {
		return NewRegistry(c.Registry)
	}
	return DefaultRegistry
}

// Instrumentable is implemented by the metric-collecting decorators so
// callers can toggle collection after construction.
type Instrumentable interface {
	// EnableMetrics enables metrics collection for this component.
	EnableMetrics(config Config) error

	// DisableMetrics disables metrics collection for this component.
	DisableMetrics()

	// MetricsEnabled returns true if metrics are currently enabled.
	MetricsEnabled() bool
}
