// Package main is the entry point for the back-office gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commercekit/gateway/internal/config"
	"github.com/commercekit/gateway/internal/gateway"
	"github.com/commercekit/gateway/internal/health"
	"github.com/commercekit/gateway/internal/observability"
	"github.com/commercekit/gateway/internal/secrets"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("gateway version %s (%s)\n", version, gitCommit)
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)

	secret, err := secrets.Resolve(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to resolve signing secret", observability.Error(err))
	}
	cfg.Auth.Secret = secret

	rt, err := gateway.New(cfg, gateway.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build gateway", observability.Error(err))
	}
	defer func() { _ = rt.Close() }()

	checker := health.NewChecker()
	rt.RegisterHealthChecks(checker)
	engine := gateway.NewEngine(rt, checker, logger)
	server := gateway.NewServer(cfg.Server, engine)

	watcher := startWatcher(flags.configPath, rt, logger)
	if watcher != nil {
		defer func() { _ = watcher.Stop() }()
	}

	run(server, cfg.Server.ShutdownTimeout.Duration(), logger)
}

func parseFlags() cliFlags {
	configPath := flag.String("config", envOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", envOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadConfig loads and validates the configuration. Any misconfiguration
// is fatal at startup; the gateway never serves with a partial config.
func loadConfig(path string, logger observability.Logger) *config.Config {
	logger.Info("starting gateway",
		observability.String("version", version),
		observability.String("config", path),
	)

	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("addr", cfg.Server.Addr),
		observability.Int("routes", len(cfg.Routes)),
		observability.Int("services", len(cfg.Services)),
		observability.Bool("rate_limit", cfg.RateLimit.Enabled),
		observability.Bool("redis", cfg.Redis.Enabled),
	)
	return cfg
}

// startWatcher hot-reloads the route table on config file changes. A
// reload failure keeps the previous table.
func startWatcher(path string, rt *gateway.Runtime, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		if err := rt.Reload(cfg); err != nil {
			logger.Error("config reload rejected", observability.Error(err))
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config watcher disabled", observability.Error(err))
		return nil
	}
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher disabled", observability.Error(err))
		return nil
	}
	return watcher
}

func run(server *http.Server, shutdownTimeout time.Duration, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server failed", observability.Error(err))
	case sig := <-sigCh:
		logger.Info("shutting down", observability.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown incomplete", observability.Error(err))
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
