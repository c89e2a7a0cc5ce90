package api

import (
	"net/http"

	"github.com/CreativeUnicorns/tiercache"
)

// handleHealth reports every tier. The status is 503 when a registered tier is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}

	reports := s.coord.HealthCheck(r.Context(), opts...)
	status := http.StatusOK
	for _, report := range reports {
		if report.Status == tiercache.StatusUnhealthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	s.respondWithJSON(w, r, status, reports)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, s.coord.GetStats(opts...))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, s.coord.MemoryUsage(r.Context(), opts...))
}

// handleKeys lists live keys matching the pattern query parameter.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if _, err := tiercache.CompilePattern(pattern); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid key pattern", err)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, map[string][]string{"keys": s.coord.Keys(r.Context(), pattern, opts...)})
}
