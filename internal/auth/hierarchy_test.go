package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHierarchy(t *testing.T) *Hierarchy {
	t.Helper()
	h, err := NewHierarchy(HierarchyConfig{
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

func TestNewHierarchy_RejectsCycle(t *testing.T) {
	_, err := NewHierarchy(HierarchyConfig{
		Edges: map[string][]string{
			"a": {"b"},
			"b": {"c"},
			"c": {"a"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestHasRole_TransitiveReachability(t *testing.T) {
	h := testHierarchy(t)
	admin := &Principal{SubjectID: "u1", Role: "admin", TenantID: "t1"}

	assert.True(t, h.HasRole(admin, "admin"))
	assert.True(t, h.HasRole(admin, "manager"))
	assert.True(t, h.HasRole(admin, "user"))
	assert.False(t, h.HasRole(admin, "super_admin"))
	assert.False(t, h.HasRole(admin, "tenant_manager"))
}

func TestHasRole_NoUpwardReachability(t *testing.T) {
	h := testHierarchy(t)
	user := &Principal{SubjectID: "u2", Role: "user", TenantID: "t1"}

	assert.True(t, h.HasRole(user, "user"))
	assert.False(t, h.HasRole(user, "manager"))
	assert.False(t, h.HasRole(user, "admin"))
}

func TestHasRole_PublicAlwaysSatisfied(t *testing.T) {
	h := testHierarchy(t)

	assert.True(t, h.HasRole(nil, RolePublic))
	assert.True(t, h.HasRole(&Principal{Role: "user"}, RolePublic))
}

func TestHasRole_NilPrincipal(t *testing.T) {
	h := testHierarchy(t)
	assert.False(t, h.HasRole(nil, "user"))
}

func TestHasRole_UnknownRole(t *testing.T) {
	h := testHierarchy(t)
	ghost := &Principal{SubjectID: "u3", Role: "intern", TenantID: "t1"}

	assert.False(t, h.HasRole(ghost, "user"))
	assert.True(t, h.HasRole(ghost, "intern"))
}

func TestCheckTenantAccess_SameTenant(t *testing.T) {
	h := testHierarchy(t)
	p := &Principal{SubjectID: "u1", Role: "user", TenantID: "t1"}

	assert.True(t, h.CheckTenantAccess(p, "t1"))
	assert.False(t, h.CheckTenantAccess(p, "t2"))
}

func TestCheckTenantAccess_TopLevelUnrestricted(t *testing.T) {
	h := testHierarchy(t)
	p := &Principal{SubjectID: "root", Role: "super_admin", TenantID: "t1"}

	assert.True(t, h.CheckTenantAccess(p, "t1"))
	assert.True(t, h.CheckTenantAccess(p, "t2"))
}

func TestCheckTenantAccess_CrossTenantAllowList(t *testing.T) {
	h := testHierarchy(t)
	p := &Principal{
		SubjectID:      "mgr",
		Role:           "tenant_manager",
		TenantID:       "t1",
		AllowedTenants: []string{"t2", "t3"},
	}

	assert.True(t, h.CheckTenantAccess(p, "t1"))
	assert.True(t, h.CheckTenantAccess(p, "t2"))
	assert.False(t, h.CheckTenantAccess(p, "t4"))
}

func TestCheckTenantAccess_AllowListWithoutCrossTenantRole(t *testing.T) {
	h := testHierarchy(t)

	// The allow-list claim alone grants nothing without the role.
	p := &Principal{
		SubjectID:      "u5",
		Role:           "user",
		TenantID:       "t1",
		AllowedTenants: []string{"t2"},
	}
	assert.False(t, h.CheckTenantAccess(p, "t2"))
}

func TestTokenCache_LRUEviction(t *testing.T) {
	c := newTokenCache(2, time.Minute)
	now := time.Now()
	exp := now.Add(time.Hour)

	c.set("a", &Principal{SubjectID: "a", ExpiresAt: exp}, now)
	c.set("b", &Principal{SubjectID: "b", ExpiresAt: exp}, now)

	// Touch "a" so "b" becomes the LRU victim.
	require.NotNil(t, c.get("a", now))
	c.set("c", &Principal{SubjectID: "c", ExpiresAt: exp}, now)

	assert.NotNil(t, c.get("a", now))
	assert.Nil(t, c.get("b", now))
	assert.NotNil(t, c.get("c", now))
}

func TestTokenCache_PurgeExpired(t *testing.T) {
	c := newTokenCache(10, time.Minute)
	now := time.Now()

	c.set("short", &Principal{SubjectID: "s", ExpiresAt: now.Add(10 * time.Second)}, now)
	c.set("long", &Principal{SubjectID: "l", ExpiresAt: now.Add(time.Hour)}, now)

	assert.Equal(t, 1, c.purgeExpired(now.Add(30*time.Second)))
	assert.Equal(t, 1, c.size())
}
