package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldline/fence/internal/storage"
)

// Server is the fence diagnostics HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	DB     *storage.DB
	Logger *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &Handlers{
		db:      cfg.DB,
		logger:  cfg.Logger,
		version: cfg.Version,
	}

	mux := http.NewServeMux()

	// Health (no auth, used by orchestration probes).
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Per-tenant audit trail and security events.
	mux.HandleFunc("GET /v1/tenants/{tenant_id}/audit", h.HandleTenantAudit)
	mux.HandleFunc("GET /v1/tenants/{tenant_id}/security-events", h.HandleTenantSecurityEvents)

	// Global security events. Missing-tenant anomalies carry no tenant id and
	// are only visible here.
	mux.HandleFunc("GET /v1/security-events", h.HandleSecurityEvents)

	// Middleware chain (outermost executes first):
	// request ID → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
