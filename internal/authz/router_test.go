package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/gateway/internal/auth"
)

func testHierarchy(t *testing.T) *auth.Hierarchy {
	t.Helper()
	h, err := auth.NewHierarchy(auth.HierarchyConfig{
		Edges: map[string][]string{
			"super_admin":    {"admin"},
			"admin":          {"manager"},
			"manager":        {"user"},
			"tenant_manager": {"user"},
		},
		TopLevelRole:     "super_admin",
		CrossTenantRoles: []string{"tenant_manager"},
		DefaultRole:      "user",
	})
	require.NoError(t, err)
	return h
}

func testRules() []Rule {
	return []Rule{
		{
			Pattern: "/api/catalog/products",
			Methods: map[string][]string{
				"GET":  {"public"},
				"POST": {"manager"},
			},
			Service: "catalog",
		},
		{
			Pattern: "/api/catalog/products/:id",
			Methods: map[string][]string{
				"GET":    {"public"},
				"DELETE": {"admin"},
			},
			Service: "catalog",
		},
		{
			Pattern:     "/api/tenants/:tenant_id/orders",
			Methods:     map[string][]string{"*": {"user"}},
			TenantCheck: true,
			Service:     "orders",
		},
		{
			Pattern: "/api/admin/*",
			Methods: map[string][]string{"*": {"admin"}},
			Service: "admin",
		},
		{
			// Exact pattern registered after the wildcard one.
			Pattern: "/api/admin/reports",
			Methods: map[string][]string{"GET": {"manager"}},
			Service: "reports",
		},
	}
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter(testRules(), testHierarchy(t))
	require.NoError(t, err)
	return r
}

func TestResolve_ExactMatch(t *testing.T) {
	r := newTestRouter(t)

	m := r.Resolve("/api/catalog/products", "POST")
	require.NotNil(t, m.Rule)
	assert.Equal(t, []string{"manager"}, m.RequiredRoles)
	assert.Equal(t, "catalog", m.Service)
	assert.False(t, m.Default)
}

func TestResolve_ParamMatchExtractsPathParams(t *testing.T) {
	r := newTestRouter(t)

	m := r.Resolve("/api/tenants/t42/orders", "GET")
	require.NotNil(t, m.Rule)
	assert.Equal(t, "orders", m.Service)
	assert.True(t, m.TenantCheck)
	assert.Equal(t, "t42", m.PathParams["tenant_id"])
}

func TestResolve_ExactBeatsWildcardRegardlessOfOrder(t *testing.T) {
	r := newTestRouter(t)

	m := r.Resolve("/api/admin/reports", "GET")
	require.NotNil(t, m.Rule)
	assert.Equal(t, "reports", m.Service)
	assert.Equal(t, []string{"manager"}, m.RequiredRoles)
}

func TestResolve_WildcardFallback(t *testing.T) {
	r := newTestRouter(t)

	m := r.Resolve("/api/admin/settings", "PUT")
	require.NotNil(t, m.Rule)
	assert.Equal(t, "admin", m.Service)
	assert.Equal(t, []string{"admin"}, m.RequiredRoles)
}

func TestResolve_UnmatchedRouteGetsConservativeDefault(t *testing.T) {
	r := newTestRouter(t)

	m := r.Resolve("/api/unknown/path", "GET")
	assert.Nil(t, m.Rule)
	assert.True(t, m.Default)
	assert.Equal(t, []string{"user"}, m.RequiredRoles)
	assert.Empty(t, m.Service)
}

func TestResolve_MethodNotCoveredFallsThrough(t *testing.T) {
	r := newTestRouter(t)

	// PATCH is not declared on the exact product rule, so the request
	// falls through to the conservative default.
	m := r.Resolve("/api/catalog/products", "PATCH")
	assert.True(t, m.Default)
}

func TestAuthorize_PublicRouteNeedsNoPrincipal(t *testing.T) {
	r := newTestRouter(t)
	m := r.Resolve("/api/catalog/products", "GET")

	d := r.Authorize(nil, m, "")
	assert.True(t, d.Allowed)
}

func TestAuthorize_ProtectedRouteRejectsAnonymous(t *testing.T) {
	r := newTestRouter(t)
	m := r.Resolve("/api/catalog/products", "POST")

	d := r.Authorize(nil, m, "")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeUnauthorized, d.Code)
}

func TestAuthorize_InsufficientRole(t *testing.T) {
	r := newTestRouter(t)
	m := r.Resolve("/api/catalog/products", "POST")
	user := &auth.Principal{SubjectID: "u1", Role: "user", TenantID: "t1"}

	d := r.Authorize(user, m, "")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeInsufficientRole, d.Code)
}

func TestAuthorize_RoleSatisfiedThroughHierarchy(t *testing.T) {
	r := newTestRouter(t)
	m := r.Resolve("/api/catalog/products", "POST")
	admin := &auth.Principal{SubjectID: "a1", Role: "admin", TenantID: "t1"}

	d := r.Authorize(admin, m, "")
	assert.True(t, d.Allowed)
}

func TestAuthorize_TenantIsolation(t *testing.T) {
	r := newTestRouter(t)
	m := r.Resolve("/api/tenants/t2/orders", "GET")
	user := &auth.Principal{SubjectID: "u1", Role: "user", TenantID: "t1"}

	d := r.Authorize(user, m, "t2")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeTenantAccessViolation, d.Code)

	d = r.Authorize(user, m, "t1")
	assert.True(t, d.Allowed)
}

func TestAuthorize_RoleCheckedBeforeTenant(t *testing.T) {
	h, err := NewRouter([]Rule{{
		Pattern:     "/api/tenants/:tenant_id/orders",
		Methods:     map[string][]string{"*": {"manager"}},
		TenantCheck: true,
		Service:     "orders",
	}}, testHierarchy(t))
	require.NoError(t, err)

	// Wrong role AND wrong tenant: the role denial wins.
	user := &auth.Principal{SubjectID: "u1", Role: "user", TenantID: "t1"}
	m := h.Resolve("/api/tenants/t2/orders", "GET")
	d := h.Authorize(user, m, "t2")

	assert.Equal(t, CodeInsufficientRole, d.Code)
}

func TestAuthorize_CrossTenantRole(t *testing.T) {
	r := newTestRouter(t)
	m := r.Resolve("/api/tenants/t2/orders", "GET")
	mgr := &auth.Principal{
		SubjectID:      "m1",
		Role:           "tenant_manager",
		TenantID:       "t1",
		AllowedTenants: []string{"t2"},
	}

	d := r.Authorize(mgr, m, "t2")
	assert.True(t, d.Allowed)

	d = r.Authorize(mgr, m, "t9")
	assert.Equal(t, CodeTenantAccessViolation, d.Code)
}

func TestReload_SwapsTableAtomically(t *testing.T) {
	r := newTestRouter(t)

	err := r.Reload([]Rule{{
		Pattern: "/api/v2/products",
		Methods: map[string][]string{"GET": {"public"}},
		Service: "catalog-v2",
	}})
	require.NoError(t, err)

	m := r.Resolve("/api/v2/products", "GET")
	assert.Equal(t, "catalog-v2", m.Service)

	// Old routes are gone; the default applies.
	m = r.Resolve("/api/catalog/products", "GET")
	assert.True(t, m.Default)
}

func TestReload_InvalidRulesKeepPreviousTable(t *testing.T) {
	r := newTestRouter(t)

	err := r.Reload([]Rule{{Pattern: "no-leading-slash"}})
	require.Error(t, err)

	m := r.Resolve("/api/catalog/products", "GET")
	assert.Equal(t, "catalog", m.Service)
}

func TestCompile_RejectsBadPatterns(t *testing.T) {
	_, err := Compile(Rule{Pattern: ""}, 0)
	assert.Error(t, err)

	_, err = Compile(Rule{Pattern: "relative/path"}, 0)
	assert.Error(t, err)
}

func TestCompiledRule_AnchoredMatching(t *testing.T) {
	rule, err := Compile(Rule{
		Pattern: "/api/orders/:id",
		Methods: map[string][]string{"GET": {"user"}},
	}, 0)
	require.NoError(t, err)

	matched, params := rule.Match("/api/orders/o1")
	assert.True(t, matched)
	assert.Equal(t, "o1", params["id"])

	// Segment counts must line up exactly.
	matched, _ = rule.Match("/api/orders")
	assert.False(t, matched)
	matched, _ = rule.Match("/api/orders/o1/items")
	assert.False(t, matched)
}

func TestTierTable_ForRoleWithFallback(t *testing.T) {
	tiers := DefaultTiers()

	assert.Equal(t, 1000, tiers.For("super_admin").MaxRequests)
	assert.Equal(t, 120, tiers.For("user").MaxRequests)
	assert.Equal(t, 60, tiers.For("unknown-role").MaxRequests)
	assert.Equal(t, 60, tiers.For("").MaxRequests)
}
