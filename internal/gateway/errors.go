package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/commercekit/gateway/internal/auth"
	"github.com/commercekit/gateway/internal/circuitbreaker"
	"github.com/commercekit/gateway/internal/proxy"
)

// Machine-readable error codes returned to clients.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeForbidden           = "FORBIDDEN"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen         = "CIRCUIT_BREAKER_OPEN"
	CodeRouteNotFound       = "ROUTE_NOT_FOUND"
	CodeAuthUnavailable     = "AUTH_UNAVAILABLE"
	CodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	CodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// errorResponse is the JSON body for every gateway-originated error.
type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RequestID  string `json:"requestId,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: RequestIDFrom(c),
	})
}

func writeCircuitOpen(c *gin.Context, retryAfter int) {
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
		Error:      "downstream service temporarily unavailable",
		Code:       CodeCircuitOpen,
		RequestID:  RequestIDFrom(c),
		RetryAfter: retryAfter,
	})
}

// authErrorStatus maps a validation error to an HTTP status and error
// code. Validation failures never leak verification detail beyond the
// coarse code.
func authErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrNoCredentials):
		return http.StatusUnauthorized, CodeUnauthorized, "authentication required"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired, "token expired"
	case errors.Is(err, auth.ErrTokenTooOld):
		return http.StatusUnauthorized, CodeTokenExpired, "token exceeds maximum age"
	case errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized, CodeUnauthorized, "token revoked"
	case errors.Is(err, auth.ErrRevocationStore),
		errors.Is(err, auth.ErrIntrospectionUnavailable):
		return http.StatusServiceUnavailable, CodeAuthUnavailable, "authentication backend unavailable"
	default:
		return http.StatusUnauthorized, CodeInvalidToken, "invalid token"
	}
}

// writeProxyError maps a forwarding failure onto a client response.
func (rt *Runtime) writeProxyError(c *gin.Context, serviceName string, err error) {
	var unknown *proxy.ErrUnknownService
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		retryAfter := int(rt.breakers.Get(serviceName).RetryAfter().Seconds())
		writeCircuitOpen(c, retryAfter)
	case errors.As(err, &unknown):
		writeError(c, http.StatusBadGateway, CodeUpstreamUnreachable, "downstream service not configured")
	case isTimeout(err):
		writeError(c, http.StatusGatewayTimeout, CodeUpstreamTimeout, "downstream service timed out")
	default:
		writeError(c, http.StatusBadGateway, CodeUpstreamUnreachable, "downstream service unreachable")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
