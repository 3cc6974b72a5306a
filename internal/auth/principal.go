// Package auth provides bearer credential validation, the token cache,
// revocation handling and the role/tenant authorization primitives used by
// the gateway pipeline.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Claim names the gateway requires beyond the registered JWT claims.
const (
	ClaimTenantID       = "tenant_id"
	ClaimRole           = "role"
	ClaimPermissions    = "permissions"
	ClaimAllowedTenants = "allowed_tenants"
)

// RolePublic grants access without authentication.
const RolePublic = "public"

// Principal is the authenticated identity derived from a verified
// credential. It is immutable and scoped to one request or one cache
// entry's lifetime.
type Principal struct {
	// SubjectID is the unique identifier of the authenticated subject.
	SubjectID string `json:"sub"`

	// Role is the subject's role name.
	Role string `json:"role"`

	// TenantID is the tenant the subject belongs to.
	TenantID string `json:"tenant_id"`

	// Permissions are fine-grained grants carried by the credential.
	Permissions []string `json:"permissions,omitempty"`

	// AllowedTenants is the explicit cross-tenant allow-list carried by
	// privileged principals.
	AllowedTenants []string `json:"allowed_tenants,omitempty"`

	// IssuedAt is when the credential was issued.
	IssuedAt time.Time `json:"iat"`

	// ExpiresAt is when the credential expires.
	ExpiresAt time.Time `json:"exp"`
}

// HasPermission checks if the principal carries a specific permission.
func (p *Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// MayAccessTenant checks the explicit allow-list.
func (p *Principal) MayAccessTenant(tenantID string) bool {
	for _, t := range p.AllowedTenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// IsExpired reports whether the principal's credential has expired.
func (p *Principal) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// HashToken returns the hex-encoded SHA-256 digest of a raw credential.
// The digest is the key for the token cache and the revocation set; raw
// credentials are never stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
