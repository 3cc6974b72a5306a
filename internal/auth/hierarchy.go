package auth

import (
	"fmt"
	"sort"
)

// Hierarchy is a fixed, statically-configured role reachability graph.
// An edge role → other means a principal holding role may act as other.
// The graph is validated cycle-free at construction and never mutated
// afterwards, so lookups need no locking.
type Hierarchy struct {
	edges        map[string][]string
	topLevel     string
	crossTenant  map[string]bool
	defaultRole  string
	reachability map[string]map[string]bool
}

// HierarchyConfig holds the inputs for building a Hierarchy.
type HierarchyConfig struct {
	// Edges maps a role to the roles it can act as.
	Edges map[string][]string

	// TopLevelRole bypasses tenant isolation.
	TopLevelRole string

	// CrossTenantRoles may access foreign tenants through an explicit
	// allow-list on the principal.
	CrossTenantRoles []string

	// DefaultRole is the lowest-privilege authenticated role.
	DefaultRole string
}

// NewHierarchy builds and validates a role hierarchy. It returns an error
// if the graph contains a cycle; a cyclic graph would make every role in
// the cycle equivalent and is always a configuration mistake.
func NewHierarchy(cfg HierarchyConfig) (*Hierarchy, error) {
	h := &Hierarchy{
		edges:       make(map[string][]string, len(cfg.Edges)),
		topLevel:    cfg.TopLevelRole,
		crossTenant: make(map[string]bool, len(cfg.CrossTenantRoles)),
		defaultRole: cfg.DefaultRole,
	}
	for role, reachable := range cfg.Edges {
		h.edges[role] = append([]string(nil), reachable...)
	}
	for _, role := range cfg.CrossTenantRoles {
		h.crossTenant[role] = true
	}

	if err := h.checkAcyclic(); err != nil {
		return nil, err
	}

	h.reachability = h.computeReachability()
	return h, nil
}

// checkAcyclic runs a depth-first search over the graph and rejects cycles.
func (h *Hierarchy) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(h.edges))

	var visit func(role string, path []string) error
	visit = func(role string, path []string) error {
		switch state[role] {
		case visiting:
			return fmt.Errorf("role hierarchy cycle involving %q (path %v)", role, path)
		case done:
			return nil
		}
		state[role] = visiting
		for _, next := range h.edges[role] {
			if err := visit(next, append(path, role)); err != nil {
				return err
			}
		}
		state[role] = done
		return nil
	}

	// Deterministic traversal order keeps error messages stable.
	roles := make([]string, 0, len(h.edges))
	for role := range h.edges {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		if err := visit(role, nil); err != nil {
			return err
		}
	}
	return nil
}

// computeReachability materializes the transitive closure so that HasRole
// is a flat two-level map lookup on the request path.
func (h *Hierarchy) computeReachability() map[string]map[string]bool {
	closure := make(map[string]map[string]bool, len(h.edges))

	var expand func(role string, seen map[string]bool)
	expand = func(role string, seen map[string]bool) {
		for _, next := range h.edges[role] {
			if seen[next] {
				continue
			}
			seen[next] = true
			expand(next, seen)
		}
	}

	for role := range h.edges {
		seen := map[string]bool{role: true}
		expand(role, seen)
		closure[role] = seen
	}
	return closure
}

// HasRole reports whether a principal satisfies a required role. A nil
// principal satisfies only the public role.
func (h *Hierarchy) HasRole(p *Principal, required string) bool {
	if required == RolePublic {
		return true
	}
	if p == nil {
		return false
	}
	if p.Role == required {
		return true
	}
	if reachable, ok := h.reachability[p.Role]; ok {
		return reachable[required]
	}
	return false
}

// HasAnyRole reports whether a principal satisfies at least one of the
// required roles.
func (h *Hierarchy) HasAnyRole(p *Principal, required []string) bool {
	for _, role := range required {
		if h.HasRole(p, role) {
			return true
		}
	}
	return false
}

// CheckTenantAccess reports whether a principal may touch a resource owned
// by resourceTenantID. The top-level role is unrestricted; everyone else is
// confined to their own tenant unless they hold a cross-tenant role with an
// explicit allow-list entry.
func (h *Hierarchy) CheckTenantAccess(p *Principal, resourceTenantID string) bool {
	if p == nil {
		return false
	}
	if p.Role == h.topLevel {
		return true
	}
	if p.TenantID == resourceTenantID {
		return true
	}
	if h.crossTenant[p.Role] && p.MayAccessTenant(resourceTenantID) {
		return true
	}
	return false
}

// DefaultRole returns the lowest-privilege authenticated role, used for
// routes without an explicit rule.
func (h *Hierarchy) DefaultRole() string {
	return h.defaultRole
}
