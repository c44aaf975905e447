// Package api exposes the decision engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/credit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, assessor *credit.Assessor, version string) *Server {
	handler := NewHandler(repo, cache, bus, eng, assessor, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no actor required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (actor required)
	router.Route("/", func(r chi.Router) {
		r.Use(ActorMiddleware)

		// Transaction submission and retrieval
		r.Post("/transactions", handler.SubmitTransaction)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Get("/transactions/reference/{reference}", handler.GetTransactionByReference)
		r.Get("/transactions/{id}/patterns", handler.ListTransactionPatterns)
		r.Get("/users/{id}/transactions", handler.ListUserTransactions)

		// Lifecycle actions
		r.Post("/transactions/{id}/cancel", handler.CancelTransaction)
		r.Post("/transactions/{id}/retry", handler.RetryTransaction)
		r.Post("/transactions/{id}/override", handler.OverrideTransaction)

		// Pattern review surface
		r.Get("/patterns", handler.ListPatterns)
		r.Get("/patterns/unreviewed", handler.ListUnreviewedPatterns)
		r.Get("/patterns/stats", handler.PatternStats)
		r.Get("/patterns/{id}", handler.GetPattern)
		r.Post("/patterns/{id}/review", handler.ReviewPattern)

		// Credit risk assessment
		r.Post("/credit/assess", handler.AssessCredit)
	})

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
