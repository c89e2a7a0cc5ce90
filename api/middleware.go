package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CreativeUnicorns/tiercache"
)

// LoggerMiddleware returns a middleware that logs each request with its route
// pattern, the cache key and tier it addressed, and the response it got.
func LoggerMiddleware(logger tiercache.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t0 := time.Now()
			defer func() {
				args := []any{
					"method", r.Method,
					"route", routePattern(r),
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"latency_ms", float64(time.Since(t0).Microseconds()) / 1000.0,
					"request_id", middleware.GetReqID(r.Context()),
				}
				if key, err := keyParam(r); err == nil && key != "" {
					args = append(args, "key", key)
				}
				if level := r.URL.Query().Get("level"); level != "" {
					args = append(args, "level", level)
				}
				logger.Debug("Served cache request", args...)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// routePattern returns the matched chi pattern, or the raw path when no route matched.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
