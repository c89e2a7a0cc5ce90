package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/usage", s.handleUsage)
		r.Get("/keys", s.handleKeys)

		r.Route("/entries", func(r chi.Router) {
			r.Delete("/", s.handleClear)

			r.Post("/batch/get", s.handleBatchGet)
			r.Post("/batch/set", s.handleBatchSet)
			r.Post("/batch/delete", s.handleBatchDelete)

			r.Get("/{key}", s.handleGet)
			r.Put("/{key}", s.handleSet)
			r.Delete("/{key}", s.handleDelete)
			r.Post("/{key}/increment", s.handleIncrement)
		})
	})
}
