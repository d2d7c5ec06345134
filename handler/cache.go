package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/solix/warehouse-gateway/caching"
)

// CacheHandler exposes read-only stats and an administrative flush for the
// two-tier result cache (C4).
type CacheHandler struct {
	engine *caching.Engine
	logger zerolog.Logger
}

// NewCacheHandler builds a CacheHandler.
func NewCacheHandler(engine *caching.Engine, logger zerolog.Logger) *CacheHandler {
	return &CacheHandler{
		engine: engine,
		logger: logger.With().Str("handler", "cache").Logger(),
	}
}

// Stats handles GET /v1/cache/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// FlushAll handles POST /v1/cache/flush: clears tier-1 and every tier-2 key
// under the query/export cache namespaces.
func (h *CacheHandler) FlushAll(w http.ResponseWriter, r *http.Request) {
	for _, prefix := range []string{"query", "export"} {
		if err := h.engine.FlushAll(r.Context(), prefix); err != nil {
			writeError(w, err)
			return
		}
	}
	h.logger.Info().Msg("full cache flush")
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
