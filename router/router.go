// Package router wires the thin HTTP surface the core sits behind: a chi
// mux, the standard request-id/recovery/logging middleware chain, and the
// handful of REST endpoints that front the orchestrator, export engine, and
// cache. No GraphQL/OpenAPI generation and no CORS — transport framing
// beyond this is explicitly out of scope.
package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/solix/warehouse-gateway/caching"
	"github.com/solix/warehouse-gateway/config"
	"github.com/solix/warehouse-gateway/export"
	"github.com/solix/warehouse-gateway/handler"
	gwmw "github.com/solix/warehouse-gateway/middleware"
	"github.com/solix/warehouse-gateway/orchestrator"
)

// NewRouter returns a configured chi Router with the full middleware chain
// and every API route mounted.
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, orch *orchestrator.Orchestrator, exportEngine *export.Engine, cacheEngine *caching.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"warehouse-gateway"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"warehouse-gateway"}`))
	})

	queryHandler := handler.NewQueryHandler(orch, appLogger)
	exportHandler := handler.NewExportHandler(exportEngine, appLogger)
	cacheHandler := handler.NewCacheHandler(cacheEngine, appLogger)

	identityMW := gwmw.NewIdentityMiddleware(appLogger, cfg.APIKeyHeader)

	r.Route("/v1", func(r chi.Router) {
		r.Use(identityMW.Handler)

		r.Post("/query", queryHandler.Query)

		r.Post("/export", exportHandler.Submit)
		r.Get("/export/{id}", exportHandler.Status)

		r.Get("/cache/stats", cacheHandler.Stats)
		r.Post("/cache/flush", cacheHandler.FlushAll)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024 // default 1MB
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("GATEWAY_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
