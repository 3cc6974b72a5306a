package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerAdmin mounts operational introspection endpoints. These expose
// internal state only and must not be reachable from the public listener
// in production deployments.
func (rt *Runtime) registerAdmin(group *gin.RouterGroup) {
	group.GET("/breakers", rt.handleBreakers)
	group.GET("/cache", rt.handleCacheStats)
	group.GET("/latency", rt.handleLatency)
	group.POST("/revoke", rt.handleRevoke)
}

func (rt *Runtime) handleBreakers(c *gin.Context) {
	stats := rt.breakers.Stats()
	out := make(map[string]gin.H, len(stats))
	for name, s := range stats {
		out[name] = gin.H{
			"state":         s.State,
			"failureCount":  s.FailureCount,
			"lastFailureAt": s.LastFailureAt,
			"nextAttemptAt": s.NextAttemptAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"breakers": out})
}

func (rt *Runtime) handleCacheStats(c *gin.Context) {
	stats := rt.validator.CacheStats()
	c.JSON(http.StatusOK, gin.H{
		"size":   stats.Size,
		"hits":   stats.Hits,
		"misses": stats.Misses,
	})
}

func (rt *Runtime) handleLatency(c *gin.Context) {
	snap := rt.collector.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"timestamp": snap.Timestamp,
		"requests":  snap.Requests,
		"responses": snap.Responses,
		"errors":    snap.Errors,
		"latency": gin.H{
			"samples": snap.Latency.Samples,
			"meanMs":  float64(snap.Latency.Mean.Microseconds()) / 1000,
			"p95Ms":   float64(snap.Latency.P95.Microseconds()) / 1000,
		},
	})
}

type revokeRequest struct {
	// Token is the raw credential to revoke.
	Token string `json:"token"`

	// Subject, when set instead of Token, drops every cached credential
	// for that subject on this instance.
	Subject string `json:"subject"`
}

// handleRevoke revokes a credential immediately, for forced-logout and
// compromise response.
func (rt *Runtime) handleRevoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Token == "" && req.Subject == "") {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "token or subject required")
		return
	}

	if req.Subject != "" {
		dropped := rt.validator.InvalidateSubject(req.Subject)
		c.JSON(http.StatusOK, gin.H{"invalidated": dropped})
		return
	}

	if err := rt.validator.Revoke(c.Request.Context(), req.Token); err != nil {
		writeError(c, http.StatusServiceUnavailable, CodeAuthUnavailable, "revocation store unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
