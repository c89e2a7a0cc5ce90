package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/CreativeUnicorns/tiercache"
)

type entryResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type setRequest struct {
	Value      any      `json:"value"`
	TTLSeconds *float64 `json:"ttl_seconds,omitempty"`
}

type incrementRequest struct {
	Delta *int64 `json:"delta,omitempty"`
}

type keysRequest struct {
	Keys []string `json:"keys"`
}

type batchSetRequest struct {
	Items      map[string]any `json:"items"`
	TTLSeconds *float64       `json:"ttl_seconds,omitempty"`
}

// entryKey resolves and validates the {key} parameter, writing a 400 on failure.
func (s *Server) entryKey(w http.ResponseWriter, r *http.Request) (string, []tiercache.CallOption, bool) {
	key, err := keyParam(r)
	if err == nil {
		err = tiercache.ValidateKey(key)
	}
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid cache key", err)
		return "", nil, false
	}
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return "", nil, false
	}
	return key, opts, true
}

// handleGet returns the value stored under a key.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, opts, ok := s.entryKey(w, r)
	if !ok {
		return
	}
	value, found := s.coord.Get(r.Context(), key, opts...)
	if !found {
		s.respondWithError(w, r, http.StatusNotFound, "Cache entry not found", nil)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, entryResponse{Key: key, Value: value})
}

// handleSet writes a value through the selected tiers.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key, opts, ok := s.entryKey(w, r)
	if !ok {
		return
	}

	var req setRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	ttl, err := ttlOption(req.TTLSeconds)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid ttl", err)
		return
	}

	if !s.coord.Set(r.Context(), key, req.Value, append(opts, ttl...)...) {
		s.respondWithError(w, r, http.StatusServiceUnavailable, "No cache tier accepted the write", nil)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, entryResponse{Key: key, Value: req.Value})
}

// handleDelete removes a key from the selected tiers.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, opts, ok := s.entryKey(w, r)
	if !ok {
		return
	}
	if !s.coord.Delete(r.Context(), key, opts...) {
		s.respondWithError(w, r, http.StatusNotFound, "Cache entry not found", nil)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, map[string]bool{"deleted": true})
}

// handleIncrement adds delta (default 1) to an integer counter.
func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	key, opts, ok := s.entryKey(w, r)
	if !ok {
		return
	}

	var req incrementRequest
	if err := s.decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}

	n, ok := s.coord.Increment(r.Context(), key, delta, opts...)
	if !ok {
		s.respondWithError(w, r, http.StatusConflict, "Cache entry is not an integer counter or could not be written", nil)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, entryResponse{Key: key, Value: n})
}

// handleClear empties the selected tiers.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}
	if !s.coord.Clear(r.Context(), opts...) {
		s.respondWithError(w, r, http.StatusServiceUnavailable, "No cache tier could be cleared", nil)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, map[string]bool{"cleared": true})
}

// handleBatchGet returns the entries found for the requested keys.
func (s *Server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}
	var req keysRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	entries := s.coord.BatchGet(r.Context(), req.Keys, opts...)
	s.respondWithJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

// handleBatchSet writes several entries with a shared TTL.
func (s *Server) handleBatchSet(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}
	var req batchSetRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	ttl, err := ttlOption(req.TTLSeconds)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid ttl", err)
		return
	}

	if !s.coord.BatchSet(r.Context(), req.Items, append(opts, ttl...)...) {
		s.respondWithError(w, r, http.StatusServiceUnavailable, "Batch write was not fully accepted", nil)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, map[string]int{"stored": len(req.Items)})
}

// handleBatchDelete removes several keys.
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid level", err)
		return
	}
	var req keysRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	deleted := s.coord.BatchDelete(r.Context(), req.Keys, opts...)
	s.respondWithJSON(w, r, http.StatusOK, map[string]bool{"deleted": deleted})
}
