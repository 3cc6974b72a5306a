package auth

import (
	"net/http"
	"strings"
)

// bearerPrefix is the expected Authorization scheme.
const bearerPrefix = "Bearer "

// ExtractBearer pulls the bearer credential out of a request. A missing
// header returns ErrNoCredentials; a present header with a different scheme
// returns ErrTokenMalformed. Neither path performs any cryptographic work.
func ExtractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrTokenMalformed
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrTokenMalformed
	}
	return token, nil
}

// TenantHeader and TenantQueryParam are where collaborators attach the
// tenant identifier for tenant-scoped resources.
const (
	TenantHeader     = "X-Tenant-ID"
	TenantQueryParam = "tenant_id"
)

// ExtractTenantID pulls the tenant identifier from the request, preferring
// the header over the query parameter. Path parameters are resolved by the
// route matcher and take precedence over both.
func ExtractTenantID(r *http.Request) string {
	if v := r.Header.Get(TenantHeader); v != "" {
		return v
	}
	return r.URL.Query().Get(TenantQueryParam)
}
