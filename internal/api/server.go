package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/fundops/harrier/internal/run"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *run.Orchestrator, verifier *export.Verifier, version string) *Server {
	handler := NewHandler(repo, cache, bus, orchestrator, verifier, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Distribution events
	router.Post("/events", handler.CreateEvent)
	router.Get("/events/{id}", handler.GetEvent)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/validate", handler.ValidateRule)

	// Credits
	router.Post("/credits", handler.CreateCredit)
	router.Get("/credits", handler.ListCredits)

	// Calculation runs
	router.Post("/runs", handler.CreateRun)
	router.Get("/runs/{id}", handler.GetRun)
	router.Get("/runs/{id}/results", handler.ListResults)
	router.Post("/runs/{id}/execute", handler.ExecuteRun)
	router.Post("/runs/{id}/approve", handler.ApproveRun)
	router.Post("/runs/{id}/reject", handler.RejectRun)
	router.Post("/runs/{id}/lock", handler.LockRun)

	// Exports and replay verification
	router.Get("/runs/{id}/exports", handler.ListExports)
	router.Get("/runs/{id}/exports/{shape}", handler.GetExportShape)
	router.Post("/runs/{id}/replay", handler.ReplayRun)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
