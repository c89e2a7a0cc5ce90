package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CreativeUnicorns/tiercache"
)

// callOptions builds per-call options from the level and ttl query parameters.
func callOptions(r *http.Request) ([]tiercache.CallOption, error) {
	var opts []tiercache.CallOption
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, err := tiercache.ParseLevel(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tiercache.AtLevel(level))
	}
	return opts, nil
}

// ttlOption converts an optional TTL in seconds. Zero means no expiry.
func ttlOption(seconds *float64) ([]tiercache.CallOption, error) {
	if seconds == nil {
		return nil, nil
	}
	if *seconds < 0 {
		return nil, fmt.Errorf("%w: ttl_seconds must not be negative", tiercache.ErrInvalidConfig)
	}
	return []tiercache.CallOption{tiercache.WithTTL(time.Duration(*seconds * float64(time.Second)))}, nil
}

// keyParam returns the unescaped {key} route parameter.
func keyParam(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "key"))
}

// decodeBody decodes a bounded JSON request body into dst. Numbers in untyped
// values are kept as json.Number.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	return decoder.Decode(dst)
}

// respondWithError is a helper to send JSON error responses.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	resp := map[string]any{
		"error": map[string]string{
			"message": message,
		},
	}
	if err != nil {
		resp["error"].(map[string]string)["details"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("API Error", "status", status, "message", message, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("API client error", "status", status, "message", message, "path", r.URL.Path, "error", err)
	}
	respondWithJSONRaw(w, status, resp)
}

// respondWithJSON is a helper to send JSON responses.
func (s *Server) respondWithJSON(w http.ResponseWriter, _ *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal JSON response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"Failed to marshal response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// respondWithJSONRaw is a lower-level helper used for error responses.
func respondWithJSONRaw(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"Critical: Failed to marshal error response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
