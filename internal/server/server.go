package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/podx/oracle/internal/domain"
	"github.com/podx/oracle/internal/server/handler"
	"github.com/podx/oracle/internal/server/middleware"
)

// sessionCreateRateLimit bounds how many signing-session creation requests
// a single courier IP may make in sessionCreateRateWindow (spec §5's
// abuse-resistance note on the public creation endpoint).
const (
	sessionCreateRateLimit  = 20
	sessionCreateRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Session *handler.SessionHandler
}

// Server is the headless HTTP API server for the delivery oracle.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the
// ServeMux. It wires up middleware (logging, CORS, per-IP rate limiting on
// session creation, ops auth on the reconciliation endpoints).
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, opsAuth func(http.Handler) http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.Handle("POST /signing-sessions",
		middleware.RateLimit(limiter, sessionCreateRateLimit, sessionCreateRateWindow)(
			http.HandlerFunc(handlers.Session.CreateSession)))
	mux.HandleFunc("GET /signing-sessions/{sessionId}", handlers.Session.ResolveSession)
	mux.HandleFunc("POST /signing-sessions/{sessionId}/sign", handlers.Session.CompleteSession)

	mux.Handle("POST /ops/reconcile/{shipmentId}/pickup", opsAuth(http.HandlerFunc(handlers.Session.ReconcilePickup)))
	mux.Handle("POST /ops/reconcile/{shipmentId}/drop", opsAuth(http.HandlerFunc(handlers.Session.ReconcileDrop)))

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
