package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commercekit/gateway/internal/config"
	"github.com/commercekit/gateway/internal/health"
	"github.com/commercekit/gateway/internal/observability"
)

// NewEngine wires the runtime into a gin engine. Operational endpoints
// are registered explicitly; all remaining traffic flows through the
// proxy pipeline via the NoRoute handler.
func NewEngine(rt *Runtime, checker *health.Checker, logger observability.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(RequestID(), Recovery(logger), AccessLog(logger))

	engine.GET("/healthz", checker.Healthz)
	engine.GET("/readyz", checker.Readyz)
	engine.GET("/metrics", gin.WrapH(rt.metrics.Handler()))
	rt.registerAdmin(engine.Group("/admin"))

	engine.NoRoute(rt.Handle)
	return engine
}

// NewServer builds the HTTP server for the engine using the configured
// listener timeouts.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
		IdleTimeout:  cfg.IdleTimeout.Duration(),
	}
}
