package authz

import (
	"fmt"
	"sync/atomic"

	"github.com/commercekit/gateway/internal/auth"
	"github.com/commercekit/gateway/internal/observability"
)

// Denial codes returned to clients.
const (
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeInsufficientRole      = "INSUFFICIENT_ROLE"
	CodeTenantAccessViolation = "TENANT_ACCESS_VIOLATION"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
}

// Allow is the affirmative decision.
var Allow = Decision{Allowed: true}

// Deny builds a denial decision.
func Deny(code, reason string) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason}
}

// Match is the result of resolving a request against the route table.
type Match struct {
	// Rule is the matched rule; nil when the conservative default applied.
	Rule *CompiledRule

	// RequiredRoles for the request's method.
	RequiredRoles []string

	// TenantCheck indicates the matched rule requires tenant isolation.
	TenantCheck bool

	// Service is the downstream target; empty when no rule matched.
	Service string

	// PathParams holds named parameter values from the pattern.
	PathParams map[string]string

	// Default is true when no rule matched and the conservative default
	// (authenticated, lowest-privilege role) was applied.
	Default bool
}

// Public reports whether the matched route requires no authentication.
func (m *Match) Public() bool {
	for _, role := range m.RequiredRoles {
		if role == auth.RolePublic {
			return true
		}
	}
	return false
}

// routeTable is an immutable snapshot of compiled rules. Reload swaps the
// whole table so readers never observe a partially-updated rule set.
type routeTable struct {
	rules []*CompiledRule
}

// Router resolves (path, method) to required roles and evaluates them
// against a Principal using the role hierarchy.
type Router struct {
	table     atomic.Pointer[routeTable]
	hierarchy *auth.Hierarchy
	tiers     TierTable
	logger    observability.Logger
	metrics   *observability.Metrics
}

// RouterOption is a functional option for the router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger observability.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithRouterMetrics sets the metrics sink.
func WithRouterMetrics(m *observability.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithTiers sets the rate limit tier table.
func WithTiers(tiers TierTable) RouterOption {
	return func(r *Router) { r.tiers = tiers }
}

// NewRouter compiles the given rules in registration order and creates a
// router. Compilation failure is a startup-fatal misconfiguration.
func NewRouter(rules []Rule, hierarchy *auth.Hierarchy, opts ...RouterOption) (*Router, error) {
	r := &Router{
		hierarchy: hierarchy,
		tiers:     DefaultTiers(),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	table, err := compileTable(rules)
	if err != nil {
		return nil, err
	}
	r.table.Store(table)

	return r, nil
}

func compileTable(rules []Rule) (*routeTable, error) {
	table := &routeTable{rules: make([]*CompiledRule, 0, len(rules))}
	for i, rule := range rules {
		compiled, err := Compile(rule, i)
		if err != nil {
			return nil, fmt.Errorf("route rule %d: %w", i, err)
		}
		table.rules = append(table.rules, compiled)
	}
	return table, nil
}

// Reload replaces the route table copy-on-write. In-flight requests keep
// the snapshot they started with.
func (r *Router) Reload(rules []Rule) error {
	table, err := compileTable(rules)
	if err != nil {
		return err
	}
	r.table.Store(table)
	r.logger.Info("route table reloaded",
		observability.Int("rules", len(table.rules)))
	return nil
}

// Resolve maps (path, method) to its required roles. Exact-pattern matches
// take precedence over parameterized and wildcard matches; among equally
// specific matches the first registered wins. Without any match the
// conservative default applies: authenticated with the lowest-privilege
// role rather than failing open.
func (r *Router) Resolve(path, method string) *Match {
	table := r.table.Load()

	var first *Match
	for _, rule := range table.rules {
		matched, params := rule.Match(path)
		if !matched {
			continue
		}
		roles, ok := rule.RolesFor(method)
		if !ok {
			continue
		}
		m := &Match{
			Rule:          rule,
			RequiredRoles: roles,
			TenantCheck:   rule.TenantCheck,
			Service:       rule.Service,
			PathParams:    params,
		}
		if rule.exact {
			// Exact beats any earlier wildcard match.
			return m
		}
		if first == nil {
			first = m
		}
	}
	if first != nil {
		return first
	}

	return &Match{
		RequiredRoles: []string{r.hierarchy.DefaultRole()},
		Default:       true,
	}
}

// Authorize evaluates the role check and then, only when the request
// carries a tenant identifier and the matched rule requires it, the tenant
// check. Collaborators are expected to attach a tenant identifier to
// tenant-scoped resources; the router does not infer one.
func (r *Router) Authorize(p *auth.Principal, match *Match, resourceTenantID string) Decision {
	if !match.Public() {
		if p == nil {
			r.recordDecision("denied_unauthenticated")
			return Deny(CodeUnauthorized, "authentication required")
		}
		if !r.hierarchy.HasAnyRole(p, match.RequiredRoles) {
			r.recordDecision("denied_role")
			r.logger.Info("insufficient role",
				observability.String("subject", p.SubjectID),
				observability.String("role", p.Role),
				observability.Strings("required", match.RequiredRoles))
			return Deny(CodeInsufficientRole, "role not permitted for this route")
		}
	}

	if match.TenantCheck && resourceTenantID != "" && p != nil {
		if !r.hierarchy.CheckTenantAccess(p, resourceTenantID) {
			r.recordDecision("denied_tenant")
			r.logger.Info("tenant access violation",
				observability.String("subject", p.SubjectID),
				observability.String("principalTenant", p.TenantID),
				observability.String("resourceTenant", resourceTenantID))
			return Deny(CodeTenantAccessViolation, "tenant access not permitted")
		}
	}

	r.recordDecision("allowed")
	return Allow
}

// RateLimitTier returns the limit tier for a role, consumed by the
// request limiter.
func (r *Router) RateLimitTier(role string) Tier {
	return r.tiers.For(role)
}

func (r *Router) recordDecision(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordAuthDecision("authorize", outcome)
	}
}
