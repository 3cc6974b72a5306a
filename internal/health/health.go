// Package health exposes liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc probes one dependency. A nil error means ready.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// Checker aggregates readiness checks. Liveness is unconditional: a
// process that can answer is alive.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// Register adds a named readiness check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// Healthz reports liveness.
func (c *Checker) Healthz(g *gin.Context) {
	g.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz runs every registered check and reports 503 if any fails.
func (c *Checker) Readyz(g *gin.Context) {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]string, len(checks))
	ready := true
	for name, check := range checks {
		ctx, cancel := context.WithTimeout(g.Request.Context(), checkTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	g.JSON(status, gin.H{"status": state, "checks": results})
}
