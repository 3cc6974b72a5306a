// Package gateway assembles the request pipeline: credential validation,
// role and tenant authorization, rate limiting and resilient proxying to
// downstream services.
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commercekit/gateway/internal/auth"
	"github.com/commercekit/gateway/internal/authz"
	"github.com/commercekit/gateway/internal/circuitbreaker"
	"github.com/commercekit/gateway/internal/config"
	"github.com/commercekit/gateway/internal/health"
	"github.com/commercekit/gateway/internal/metrics"
	"github.com/commercekit/gateway/internal/observability"
	"github.com/commercekit/gateway/internal/proxy"
	"github.com/commercekit/gateway/internal/ratelimit"
	"github.com/commercekit/gateway/internal/retry"
)

// Runtime owns every pipeline component for one gateway instance. There
// are no package-level singletons; tests construct isolated runtimes.
type Runtime struct {
	validator *auth.Validator
	router    *authz.Router
	breakers  *circuitbreaker.Registry
	executor  *retry.Executor
	forwarder *proxy.Forwarder
	limiter   *ratelimit.Limiter
	collector *metrics.Collector
	metrics   *observability.Metrics
	logger    observability.Logger

	redisClient *redis.Client
}

// RuntimeOption is a functional option for the runtime.
type RuntimeOption func(*runtimeSettings)

type runtimeSettings struct {
	logger  observability.Logger
	metrics *observability.Metrics
}

// WithLogger sets the runtime logger.
func WithLogger(logger observability.Logger) RuntimeOption {
	return func(s *runtimeSettings) { s.logger = logger }
}

// WithMetrics sets the Prometheus metrics sink shared by all components.
func WithMetrics(m *observability.Metrics) RuntimeOption {
	return func(s *runtimeSettings) { s.metrics = m }
}

// New builds a runtime from validated configuration. The signing secret
// in cfg.Auth must already be resolved; misconfiguration is fatal here,
// not deferred to request time.
func New(cfg *config.Config, opts ...RuntimeOption) (*Runtime, error) {
	settings := &runtimeSettings{
		logger:  observability.NopLogger(),
		metrics: observability.NewMetrics("gateway"),
	}
	for _, opt := range opts {
		opt(settings)
	}
	logger := settings.logger
	m := settings.metrics

	hierarchy, err := auth.NewHierarchy(auth.HierarchyConfig{
		Edges:            cfg.Roles.Hierarchy,
		TopLevelRole:     cfg.Roles.TopLevelRole,
		CrossTenantRoles: cfg.Roles.CrossTenantRoles,
		DefaultRole:      cfg.Roles.DefaultRole,
	})
	if err != nil {
		return nil, fmt.Errorf("building role hierarchy: %w", err)
	}

	rt := &Runtime{
		metrics: m,
		logger:  logger,
	}

	revocations := auth.NewMemoryRevocations()
	if cfg.Redis.Enabled {
		rt.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		revocations = auth.NewRedisRevocations(rt.redisClient, cfg.Auth.MaxTokenAge.Duration())
	}

	validatorOpts := []auth.ValidatorOption{
		auth.WithValidatorLogger(logger),
		auth.WithValidatorMetrics(m),
		auth.WithRevocationStore(revocations),
	}
	if cfg.Auth.IntrospectionURL != "" {
		introspector := auth.NewIntrospectionClient(
			cfg.Auth.IntrospectionURL,
			cfg.Auth.IntrospectionTimeout.Duration(),
			auth.WithIntrospectionLogger(logger),
		)
		validatorOpts = append(validatorOpts, auth.WithIntrospector(introspector))
	}
	rt.validator, err = auth.NewValidator(auth.ValidatorConfig{
		Secret:          []byte(cfg.Auth.Secret),
		Issuer:          cfg.Auth.Issuer,
		Audience:        cfg.Auth.Audience,
		ClockSkew:       cfg.Auth.ClockSkew.Duration(),
		MaxTokenAge:     cfg.Auth.MaxTokenAge.Duration(),
		CacheTTL:        cfg.Auth.CacheTTL.Duration(),
		CacheMaxEntries: cfg.Auth.CacheMaxEntries,
	}, validatorOpts...)
	if err != nil {
		return nil, fmt.Errorf("building token validator: %w", err)
	}

	tiers := tierTable(cfg.RateLimit)
	rt.router, err = authz.NewRouter(routeRules(cfg.Routes), hierarchy,
		authz.WithRouterLogger(logger),
		authz.WithRouterMetrics(m),
		authz.WithTiers(tiers),
	)
	if err != nil {
		rt.validator.Close()
		return nil, fmt.Errorf("compiling route rules: %w", err)
	}

	rt.breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(),
		circuitbreaker.WithRegistryLogger(logger),
		circuitbreaker.WithRegistryMetrics(m),
		circuitbreaker.WithServiceConfigs(breakerConfigs(cfg.Services)),
	)
	rt.executor = retry.NewExecutor(rt.breakers,
		retry.WithExecutorLogger(logger),
		retry.WithExecutorMetrics(m),
	)

	targets, err := proxyTargets(cfg.Services)
	if err != nil {
		rt.validator.Close()
		return nil, err
	}
	rt.forwarder = proxy.NewForwarder(targets, rt.executor,
		proxy.WithForwarderLogger(logger),
	)

	if cfg.RateLimit.Enabled {
		rt.limiter = ratelimit.New(&tiers, ratelimit.WithLimiterLogger(logger))
	}

	rt.collector = metrics.NewCollector(
		cfg.Metrics.WindowSize,
		cfg.Metrics.ResetInterval.Duration(),
		metrics.WithCollectorLogger(logger),
	)

	return rt, nil
}

// Reload swaps the route table from fresh configuration. Service targets,
// breaker settings and auth settings are fixed at startup; a changed set
// there requires a restart and is logged as ignored.
func (rt *Runtime) Reload(cfg *config.Config) error {
	if err := rt.router.Reload(routeRules(cfg.Routes)); err != nil {
		return fmt.Errorf("reloading route rules: %w", err)
	}
	rt.logger.Info("route table reloaded",
		observability.Int("rules", len(cfg.Routes)))
	return nil
}

// Validator exposes the token validator for admin operations.
func (rt *Runtime) Validator() *auth.Validator { return rt.validator }

// Breakers exposes the circuit breaker registry.
func (rt *Runtime) Breakers() *circuitbreaker.Registry { return rt.breakers }

// Collector exposes the in-process metrics collector.
func (rt *Runtime) Collector() *metrics.Collector { return rt.collector }

// Metrics exposes the Prometheus metrics sink.
func (rt *Runtime) Metrics() *observability.Metrics { return rt.metrics }

// RegisterHealthChecks adds readiness probes for the runtime's external
// dependencies.
func (rt *Runtime) RegisterHealthChecks(checker *health.Checker) {
	if rt.redisClient != nil {
		checker.Register("redis", func(ctx context.Context) error {
			return rt.redisClient.Ping(ctx).Err()
		})
	}
}

// Close releases background goroutines and connections.
func (rt *Runtime) Close() error {
	rt.validator.Close()
	rt.collector.Close()
	if rt.limiter != nil {
		rt.limiter.Close()
	}
	if rt.redisClient != nil {
		return rt.redisClient.Close()
	}
	return nil
}

func routeRules(rules []config.RouteRule) []authz.Rule {
	out := make([]authz.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, authz.Rule{
			Pattern:     r.Pattern,
			Methods:     r.Methods,
			TenantCheck: r.TenantCheck,
			Service:     r.Service,
		})
	}
	return out
}

func tierTable(cfg config.RateLimitConfig) authz.TierTable {
	if len(cfg.Tiers) == 0 {
		return authz.DefaultTiers()
	}
	byRole := make(map[string]authz.Tier, len(cfg.Tiers))
	fallback := authz.Tier{Window: time.Minute, MaxRequests: 60}
	for role, limit := range cfg.Tiers {
		tier := authz.Tier{
			Window:      limit.Window.Duration(),
			MaxRequests: limit.MaxRequests,
		}
		if role == "*" {
			fallback = tier
			continue
		}
		byRole[role] = tier
	}
	return authz.NewTierTable(byRole, fallback)
}

func breakerConfigs(services map[string]config.ServiceConfig) map[string]circuitbreaker.Config {
	out := make(map[string]circuitbreaker.Config, len(services))
	for name, svc := range services {
		out[name] = circuitbreaker.Config{
			Threshold:    svc.Breaker.Threshold,
			ResetTimeout: svc.Breaker.ResetTimeout.Duration(),
		}
	}
	return out
}

func proxyTargets(services map[string]config.ServiceConfig) (map[string]*proxy.Target, error) {
	out := make(map[string]*proxy.Target, len(services))
	for name, svc := range services {
		base, err := url.Parse(svc.URL)
		if err != nil {
			return nil, fmt.Errorf("service %q url: %w", name, err)
		}
		out[name] = &proxy.Target{
			BaseURL: base,
			Timeout: svc.Timeout.Duration(),
			Policy:  retryPolicy(svc.Retry),
		}
	}
	return out, nil
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.Policy{
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.BaseDelay.Duration(),
		MaxDelay:          cfg.MaxDelay.Duration(),
		JitterMax:         cfg.JitterMax.Duration(),
		Exponential:       true,
		RetryableStatuses: cfg.RetryableStatuses,
	}
	if cfg.Exponential != nil {
		policy.Exponential = *cfg.Exponential
	}
	return policy
}
