// Package config provides configuration management for the back-office
// gateway. Configuration is loaded from a YAML file with environment
// variable overrides for secrets.
package config

import (
	"fmt"
	"time"

	"github.com/commercekit/gateway/internal/observability"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Log       observability.LogConfig  `yaml:"log"`
	Auth      AuthConfig               `yaml:"auth"`
	Roles     RolesConfig              `yaml:"roles"`
	Routes    []RouteRule              `yaml:"routes"`
	Services  map[string]ServiceConfig `yaml:"services"`
	RateLimit RateLimitConfig          `yaml:"rateLimit"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Redis     RedisConfig              `yaml:"redis"`
	Vault     VaultConfig              `yaml:"vault"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// AuthConfig holds token validation settings.
type AuthConfig struct {
	// Secret is the HMAC signing secret. Overridden by the GATEWAY_AUTH_SECRET
	// environment variable or by Vault when configured.
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// ClockSkew is the tolerance applied to exp/nbf checks.
	ClockSkew Duration `yaml:"clockSkew"`

	// MaxTokenAge bounds exposure from long-lived leaked credentials.
	// Tokens issued more than this long ago are rejected even if unexpired.
	MaxTokenAge Duration `yaml:"maxTokenAge"`

	// CacheTTL bounds how long a verified principal is served from the cache
	// without re-verification. Kept shorter than token expiry.
	CacheTTL        Duration `yaml:"cacheTTL"`
	CacheMaxEntries int      `yaml:"cacheMaxEntries"`

	// IntrospectionURL, when set, is consulted on cache miss for opaque
	// credentials instead of local verification.
	IntrospectionURL     string   `yaml:"introspectionURL"`
	IntrospectionTimeout Duration `yaml:"introspectionTimeout"`
}

// RolesConfig holds the role reachability graph and tenant access policy.
type RolesConfig struct {
	// Hierarchy maps a role to the roles it can act as. Validated as a
	// cycle-free directed graph at startup.
	Hierarchy map[string][]string `yaml:"hierarchy"`

	// TopLevelRole bypasses tenant isolation entirely.
	TopLevelRole string `yaml:"topLevelRole"`

	// CrossTenantRoles may access foreign tenants listed in the principal's
	// tenant allow-list claim.
	CrossTenantRoles []string `yaml:"crossTenantRoles"`

	// DefaultRole is the lowest-privilege role required for routes without
	// an explicit rule.
	DefaultRole string `yaml:"defaultRole"`
}

// RouteRule declares required roles for a path pattern.
type RouteRule struct {
	// Pattern is an anchored path template. Segments may be literals,
	// named parameters (":id") or single-segment wildcards ("*").
	Pattern string `yaml:"pattern"`

	// Methods maps an HTTP method (or "*" as catch-all) to required roles.
	Methods map[string][]string `yaml:"methods"`

	// TenantCheck enables tenant isolation enforcement for this route.
	TenantCheck bool `yaml:"tenantCheck"`

	// Service names the downstream target for matched requests.
	Service string `yaml:"service"`
}

// ServiceConfig holds per-downstream-service settings.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout Duration      `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
	Retry   RetryConfig   `yaml:"retry"`
}

// BreakerConfig holds circuit breaker settings for a service.
type BreakerConfig struct {
	Threshold    int      `yaml:"threshold"`
	ResetTimeout Duration `yaml:"resetTimeout"`
}

// RetryConfig holds retry settings for a service.
type RetryConfig struct {
	MaxAttempts       int      `yaml:"maxAttempts"`
	BaseDelay         Duration `yaml:"baseDelay"`
	MaxDelay          Duration `yaml:"maxDelay"`
	JitterMax         Duration `yaml:"jitterMax"`
	Exponential       *bool    `yaml:"exponential"`
	RetryableStatuses []int    `yaml:"retryableStatuses"`
}

// RateLimitConfig maps roles to rate limit tiers.
type RateLimitConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Tiers   map[string]TierLimit `yaml:"tiers"`
}

// TierLimit is a request budget over a window, consumed by the limiter.
type TierLimit struct {
	Window      Duration `yaml:"window"`
	MaxRequests int      `yaml:"maxRequests"`
}

// MetricsConfig holds metrics collector settings.
type MetricsConfig struct {
	WindowSize    int      `yaml:"windowSize"`
	ResetInterval Duration `yaml:"resetInterval"`
}

// RedisConfig holds settings for the shared revocation store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// VaultConfig holds settings for sourcing the signing secret from Vault.
type VaultConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	Token      string `yaml:"token"`
	SecretPath string `yaml:"secretPath"`
	SecretKey  string `yaml:"secretKey"`
}

// Default configuration values.
const (
	DefaultAddr            = ":8080"
	DefaultClockSkew       = 60 * time.Second
	DefaultMaxTokenAge     = 7 * 24 * time.Hour
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 10000
	DefaultServiceTimeout  = 30 * time.Second
	DefaultThreshold       = 5
	DefaultResetTimeout    = 30 * time.Second
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 1 * time.Second
	DefaultMaxDelay        = 30 * time.Second
	DefaultJitterMax       = 100 * time.Millisecond
	DefaultWindowSize      = 1000
	DefaultResetInterval   = 5 * time.Minute
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			IdleTimeout:     Duration(90 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: observability.DefaultLogConfig(),
		Auth: AuthConfig{
			ClockSkew:       Duration(DefaultClockSkew),
			MaxTokenAge:     Duration(DefaultMaxTokenAge),
			CacheTTL:        Duration(DefaultCacheTTL),
			CacheMaxEntries: DefaultCacheMaxEntries,
		},
		Roles: RolesConfig{
			Hierarchy: map[string][]string{
				"super_admin":    {"admin"},
				"admin":          {"manager"},
				"manager":        {"user"},
				"tenant_manager": {"user"},
			},
			TopLevelRole:     "super_admin",
			CrossTenantRoles: []string{"tenant_manager"},
			DefaultRole:      "user",
		},
		Services: map[string]ServiceConfig{},
		Metrics: MetricsConfig{
			WindowSize:    DefaultWindowSize,
			ResetInterval: Duration(DefaultResetInterval),
		},
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(15 * time.Second)
	}
	if c.Log.Level == "" {
		c.Log = observability.DefaultLogConfig()
	}
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = Duration(DefaultClockSkew)
	}
	if c.Auth.MaxTokenAge == 0 {
		c.Auth.MaxTokenAge = Duration(DefaultMaxTokenAge)
	}
	if c.Auth.CacheTTL == 0 {
		c.Auth.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.Auth.CacheMaxEntries == 0 {
		c.Auth.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if c.Roles.DefaultRole == "" {
		c.Roles.DefaultRole = "user"
	}
	if c.Roles.TopLevelRole == "" {
		c.Roles.TopLevelRole = "super_admin"
	}
	if c.Metrics.WindowSize == 0 {
		c.Metrics.WindowSize = DefaultWindowSize
	}
	if c.Metrics.ResetInterval == 0 {
		c.Metrics.ResetInterval = Duration(DefaultResetInterval)
	}
	for name, svc := range c.Services {
		if svc.Timeout == 0 {
			svc.Timeout = Duration(DefaultServiceTimeout)
		}
		if svc.Breaker.Threshold == 0 {
			svc.Breaker.Threshold = DefaultThreshold
		}
		if svc.Breaker.ResetTimeout == 0 {
			svc.Breaker.ResetTimeout = Duration(DefaultResetTimeout)
		}
		if svc.Retry.MaxAttempts == 0 {
			svc.Retry.MaxAttempts = DefaultMaxAttempts
		}
		if svc.Retry.BaseDelay == 0 {
			svc.Retry.BaseDelay = Duration(DefaultBaseDelay)
		}
		if svc.Retry.MaxDelay == 0 {
			svc.Retry.MaxDelay = Duration(DefaultMaxDelay)
		}
		if svc.Retry.JitterMax == 0 {
			svc.Retry.JitterMax = Duration(DefaultJitterMax)
		}
		c.Services[name] = svc
	}
}

// Validate checks the configuration for errors that must prevent startup.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" && !c.Vault.Enabled && c.Auth.IntrospectionURL == "" {
		return fmt.Errorf("auth: no signing secret, vault source or introspection endpoint configured")
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("routes: at least one route rule is required")
	}
	for i, rule := range c.Routes {
		if rule.Pattern == "" {
			return fmt.Errorf("routes[%d]: pattern is empty", i)
		}
		if len(rule.Methods) == 0 {
			return fmt.Errorf("routes[%d] (%s): no methods declared", i, rule.Pattern)
		}
		if rule.Service == "" {
			return fmt.Errorf("routes[%d] (%s): no downstream service", i, rule.Pattern)
		}
		if _, ok := c.Services[rule.Service]; !ok {
			return fmt.Errorf("routes[%d] (%s): unknown service %q", i, rule.Pattern, rule.Service)
		}
	}
	for name, svc := range c.Services {
		if svc.URL == "" {
			return fmt.Errorf("services[%s]: url is required", name)
		}
	}
	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault: address is required when enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis: addr is required when enabled")
	}
	return nil
}
