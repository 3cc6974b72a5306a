package circuitbreaker

import (
	"sync"

	"github.com/commercekit/gateway/internal/observability"
)

// Registry owns at most one breaker per downstream service name, created
// lazily on first reference.
type Registry struct {
	breakers sync.Map
	defaults Config
	perName  map[string]Config
	logger   observability.Logger
	metrics  *observability.Metrics
}

// RegistryOption is a functional option for the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithRegistryMetrics sets the metrics sink.
func WithRegistryMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithServiceConfigs sets per-service breaker configs, overriding the
// defaults for those names.
func WithServiceConfigs(perName map[string]Config) RegistryOption {
	return func(r *Registry) { r.perName = perName }
}

// NewRegistry creates a registry with the given default config.
func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	defaults.normalize()
	r := &Registry{
		defaults: defaults,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for a service name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*Breaker)
	}

	config := r.defaults
	if override, ok := r.perName[name]; ok {
		config = override
	}

	created := NewBreaker(name, config,
		WithBreakerLogger(r.logger),
		WithBreakerMetrics(r.metrics))

	// LoadOrStore keeps exactly one breaker per name under concurrent
	// first use.
	actual, loaded := r.breakers.LoadOrStore(name, created)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("service", name))
	return created
}

// Stats returns statistics for all breakers, keyed by service name.
func (r *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	r.breakers.Range(func(key, value interface{}) bool {
		stats[key.(string)] = value.(*Breaker).Stats()
		return true
	})
	return stats
}
