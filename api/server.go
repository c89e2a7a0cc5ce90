// Package api exposes a Coordinator over HTTP for inspection and manual
// cache management.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CreativeUnicorns/tiercache"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	coord        *tiercache.Coordinator
	logger       tiercache.Logger
	router       *chi.Mux
	httpServer   *http.Server
	maxBodyBytes int64
}

// Config holds configuration for the API server.
type Config struct {
	ListenAddress string
	Coordinator   *tiercache.Coordinator
	Logger        tiercache.Logger
	// MaxBodyBytes bounds request bodies. Defaults to 1MB.
	MaxBodyBytes int64
}

// NewServer creates and configures a new API server instance.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator is required", tiercache.ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = tiercache.NewDefaultLogger()
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		coord:        cfg.Coordinator,
		logger:       cfg.Logger,
		router:       chi.NewRouter(),
		maxBodyBytes: cfg.MaxBodyBytes,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until it is shut down.
// A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not start server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("API server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped gracefully")
	return nil
}
