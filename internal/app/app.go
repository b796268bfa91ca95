// Package app provides the top-level application lifecycle management for
// the PODx delivery oracle. It wires together every dependency (stores,
// caches, the chain gateway, the session state machine, the settlement
// coordinator) and runs the HTTP server plus a background session-expiry
// sweep until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/podx/oracle/internal/config"
	"github.com/podx/oracle/internal/server"
	"github.com/podx/oracle/internal/server/handler"
	"github.com/podx/oracle/internal/server/middleware"
)

// sweepInterval is how often the background goroutine checks for overdue
// signing sessions to expire.
const sweepInterval = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the HTTP server and the background
// session-expiry sweep, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application", slog.String("log_level", a.cfg.LogLevel))

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	healthHandler := handler.NewHealthHandler(a.logger)
	sessionHandler := handler.NewSessionHandler(deps.SessionService, deps.Coordinator, a.cfg.Server.LinkBaseURL, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:  healthHandler,
		Session: sessionHandler,
	}, deps.RateLimiter, middleware.OpsAuth(deps.OpsAuth), a.logger)

	serverErrs := make(chan error, 1)
	go func() {
		serverErrs <- srv.Start()
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go a.sweepExpiredSessions(sweepCtx, deps)

	select {
	case <-ctx.Done():
		stopSweep()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.ErrorContext(ctx, "server shutdown error", slog.String("error", err.Error()))
		}
		return ctx.Err()
	case err := <-serverErrs:
		stopSweep()
		return fmt.Errorf("app: server: %w", err)
	}
}

// sweepExpiredSessions periodically flips overdue signing sessions to
// EXPIRED so a stalled counterparty doesn't hold a session (and its
// distributed lock key) open indefinitely.
func (a *App) sweepExpiredSessions(ctx context.Context, deps *Dependencies) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := deps.SessionService.ExpireOverdue(ctx); err != nil {
				a.logger.ErrorContext(ctx, "session expiry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
