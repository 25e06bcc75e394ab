// Package web provides the HTTP server and JSON API for driving imports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mwestcott/b24import/internal/config"
	"github.com/mwestcott/b24import/internal/crm"
	"github.com/mwestcott/b24import/internal/ledger"
	"github.com/mwestcott/b24import/internal/web/middleware"
)

// Server is the HTTP server for the import service. It exposes the CRM
// field catalog for building mappings, starts import runs from uploaded
// files, and serves run status and ledger downloads.
type Server struct {
	cfg    *config.Config
	client *crm.Client
	store  *ledger.Store // nil when no Postgres mirror is configured
	runs   *registry
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance. store may be nil.
func NewServer(cfg *config.Config, client *crm.Client, store *ledger.Store) *Server {
	s := &Server{
		cfg:    cfg,
		client: client,
		store:  store,
		runs:   newRegistry(),
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))

	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Schema discovery for building mapping documents
		r.Get("/fields/{entity}", s.handleListFields)
		r.Get("/categories", s.handleListCategories)

		// Import runs
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/history", s.handleRunHistory)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/runs/{runID}/ledger", s.handleDownloadLedger)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server. A run in flight keeps going
// until its rows are exhausted; only the listener stops.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
