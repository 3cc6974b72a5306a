package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential validation. Authentication failures are
// terminal for the request and are never retried.
var (
	// ErrNoCredentials indicates that no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrTokenMalformed indicates a structurally invalid credential.
	ErrTokenMalformed = errors.New("malformed token")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenTooOld indicates that the token exceeds the maximum absolute age.
	ErrTokenTooOld = errors.New("token exceeds maximum age")

	// ErrTokenRevoked indicates that the token has been revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrInvalidSignature indicates that the token signature is invalid.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidIssuer indicates that the token issuer is invalid.
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience indicates that the token audience is invalid.
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrMissingClaim indicates that a required claim is missing.
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidClaim indicates that a claim value has the wrong type.
	ErrInvalidClaim = errors.New("invalid claim value")

	// ErrRevocationStore indicates that the revocation store could not be
	// consulted. Validation fails closed on this error.
	ErrRevocationStore = errors.New("revocation store unavailable")
)

// ValidationError wraps a validation failure with context.
type ValidationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token validation: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("token validation: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
