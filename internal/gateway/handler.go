package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/commercekit/gateway/internal/auth"
	"github.com/commercekit/gateway/internal/authz"
	"github.com/commercekit/gateway/internal/metrics"
	"github.com/commercekit/gateway/internal/observability"
)

// Headers carrying the authenticated identity to downstream services.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderTenantID = "X-Tenant-ID"
)

// Handle runs the full pipeline for one proxied request: route
// resolution, authentication, authorization, rate limiting and
// forwarding. Stages run in that fixed order; the first denial
// terminates the request.
func (rt *Runtime) Handle(c *gin.Context) {
	start := time.Now()
	r := c.Request

	match := rt.router.Resolve(r.URL.Path, r.Method)
	service := match.Service
	rt.metrics.RequestStarted(service)
	defer rt.metrics.RequestFinished(service)
	rt.collector.RecordRequest(r.Method + " " + routeKey(match))

	principal, ok := rt.authenticate(c, match)
	if !ok {
		rt.finish(c, match, start)
		return
	}

	resourceTenant := tenantFor(match, r)
	if decision := rt.router.Authorize(principal, match, resourceTenant); !decision.Allowed {
		status := http.StatusForbidden
		if decision.Code == authz.CodeUnauthorized {
			status = http.StatusUnauthorized
		}
		rt.collector.RecordError(decision.Code)
		writeError(c, status, decision.Code, decision.Reason)
		rt.finish(c, match, start)
		return
	}

	if !rt.allowRate(c, principal) {
		rt.finish(c, match, start)
		return
	}

	if service == "" {
		rt.collector.RecordError(CodeRouteNotFound)
		writeError(c, http.StatusNotFound, CodeRouteNotFound, "no downstream service for this route")
		rt.finish(c, match, start)
		return
	}

	rt.annotate(r, principal)
	if err := rt.forwarder.Forward(c.Writer, r, service); err != nil {
		rt.writeProxyError(c, service, err)
		rt.logger.Warn("forwarding failed",
			observability.String("service", service),
			observability.String("path", r.URL.Path),
			observability.Error(err))
	}
	rt.finish(c, match, start)
}

// authenticate validates the bearer credential unless the matched route
// is public. Public routes pass anonymously even when a (possibly bad)
// credential is attached.
func (rt *Runtime) authenticate(c *gin.Context, match *authz.Match) (*auth.Principal, bool) {
	if match.Public() {
		return nil, true
	}

	raw, err := auth.ExtractBearer(c.Request)
	if err != nil {
		status, code, msg := authErrorStatus(err)
		rt.collector.RecordError(code)
		writeError(c, status, code, msg)
		return nil, false
	}

	principal, err := rt.validator.Validate(c.Request.Context(), raw)
	if err != nil {
		status, code, msg := authErrorStatus(err)
		rt.collector.RecordError(code)
		writeError(c, status, code, msg)
		return nil, false
	}
	return principal, true
}

// allowRate applies the role-tier limiter. Anonymous clients are keyed
// by source IP.
func (rt *Runtime) allowRate(c *gin.Context, principal *auth.Principal) bool {
	if rt.limiter == nil {
		return true
	}
	key := c.ClientIP()
	role := ""
	if principal != nil {
		key = principal.SubjectID
		role = principal.Role
	}
	if rt.limiter.Allow(key, role) {
		return true
	}
	rt.metrics.RecordRateLimitHit(role)
	rt.collector.RecordError(CodeRateLimitExceeded)
	writeError(c, http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded")
	return false
}

// annotate attaches the verified identity for downstream services.
func (rt *Runtime) annotate(r *http.Request, principal *auth.Principal) {
	r.Header.Del(HeaderUserID)
	r.Header.Del(HeaderUserRole)
	r.Header.Del(HeaderTenantID)
	if principal == nil {
		return
	}
	r.Header.Set(HeaderUserID, principal.SubjectID)
	r.Header.Set(HeaderUserRole, principal.Role)
	if principal.TenantID != "" {
		r.Header.Set(HeaderTenantID, principal.TenantID)
	}
}

func (rt *Runtime) finish(c *gin.Context, match *authz.Match, start time.Time) {
	duration := time.Since(start)
	status := c.Writer.Status()
	rt.metrics.RecordRequest(c.Request.Method, match.Service, status, duration)
	rt.collector.RecordResponse(metrics.StatusGroup(status), duration)
}

// tenantFor determines the tenant the request targets. A tenant path
// parameter resolved by the route matcher wins over header and query
// hints.
func tenantFor(match *authz.Match, r *http.Request) string {
	if id, ok := match.PathParams["tenant_id"]; ok {
		return id
	}
	if id, ok := match.PathParams["tenantId"]; ok {
		return id
	}
	return auth.ExtractTenantID(r)
}

func routeKey(match *authz.Match) string {
	if match.Rule != nil {
		return match.Rule.Pattern
	}
	return "unmatched"
}
