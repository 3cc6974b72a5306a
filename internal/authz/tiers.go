package authz

import "time"

// Tier is a request budget over a window. The router only resolves tiers;
// enforcement lives in the request limiter.
type Tier struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"maxRequests"`
}

// TierTable maps roles to rate limit tiers with a fallback default.
type TierTable struct {
	byRole   map[string]Tier
	fallback Tier
}

// NewTierTable builds a tier table. The fallback applies to roles without
// an explicit tier, including anonymous requests (empty role).
func NewTierTable(byRole map[string]Tier, fallback Tier) TierTable {
	copied := make(map[string]Tier, len(byRole))
	for role, tier := range byRole {
		copied[role] = tier
	}
	return TierTable{byRole: copied, fallback: fallback}
}

// DefaultTiers gives higher-privilege roles coarser limits.
func DefaultTiers() TierTable {
	return NewTierTable(map[string]Tier{
		"super_admin": {Window: time.Minute, MaxRequests: 1000},
		"admin":       {Window: time.Minute, MaxRequests: 600},
		"manager":     {Window: time.Minute, MaxRequests: 300},
		"user":        {Window: time.Minute, MaxRequests: 120},
	}, Tier{Window: time.Minute, MaxRequests: 60})
}

// For resolves the tier for a role.
func (t TierTable) For(role string) Tier {
	if tier, ok := t.byRole[role]; ok {
		return tier
	}
	return t.fallback
}
