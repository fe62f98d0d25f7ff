package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/engine"
	"github.com/BadgerOps/jobindex/internal/store"
	"github.com/BadgerOps/jobindex/internal/transport"
)

// Server receives GitHub webhooks and serves read-only views of the index.
type Server struct {
	reconciler *engine.Reconciler // nil when no scraper runs in this process
	store      *store.Store
	config     *config.Config
	publisher  transport.Publisher
	hub        *transport.Hub
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new Server instance. Webhook events are handed to pub;
// when pub is a websocket hub, scrapers can subscribe at /api/events.
func NewServer(
	rec *engine.Reconciler,
	st *store.Store,
	cfg *config.Config,
	pub transport.Publisher,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = transport.NewNone(logger)
	}
	s := &Server{
		reconciler: rec,
		store:      st,
		config:     cfg,
		publisher:  pub,
		logger:     logger,
	}
	if hub, ok := pub.(*transport.Hub); ok {
		s.hub = hub
	}
	return s
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	mux := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/webhook", s.handleWebhook)
	if s.hub != nil {
		mux.Handle("GET /api/events", s.hub)
	}

	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/progress", s.handleAPIProgress)
	mux.HandleFunc("GET /api/repos", s.handleAPIRepos)
	mux.HandleFunc("GET /api/jobs", s.handleAPIJobs)
	mux.HandleFunc("GET /api/roles", s.handleAPIRoles)
	mux.HandleFunc("GET /api/detail/{block_type}/{name}", s.handleAPIDetail)

	return mux
}
