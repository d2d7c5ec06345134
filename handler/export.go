package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/solix/warehouse-gateway/export"
	"github.com/solix/warehouse-gateway/gwerr"
)

// exportRequest is the wire shape of POST /v1/export: a query spec plus the
// requested output format.
type exportRequest struct {
	Query  queryRequest  `json:"query"`
	Format export.Format `json:"format"`
}

// ExportHandler serves job submission and status lookup for the export
// engine (C9).
type ExportHandler struct {
	engine *export.Engine
	logger zerolog.Logger
}

// NewExportHandler builds an ExportHandler.
func NewExportHandler(engine *export.Engine, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{engine: engine, logger: logger.With().Str("handler", "export").Logger()}
}

// Submit handles POST /v1/export.
func (h *ExportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerr.Wrap(gwerr.KindValidation, "malformed request body", err))
		return
	}

	job, err := h.engine.Submit(r.Context(), export.Config{Spec: req.Query.toSpec(), Format: req.Format})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Status handles GET /v1/export/{id}.
func (h *ExportHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.engine.Status(id)
	if !ok {
		writeError(w, gwerr.Newf(gwerr.KindValidation, "no export job with id %q", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}
