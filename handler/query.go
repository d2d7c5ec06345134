package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/solix/warehouse-gateway/gwerr"
	"github.com/solix/warehouse-gateway/middleware"
	"github.com/solix/warehouse-gateway/orchestrator"
	"github.com/solix/warehouse-gateway/queryspec"
)

// rangeDTO mirrors §6's {min?, max?} numeric range input.
type rangeDTO struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

type dateRangeDTO struct {
	Start *string `json:"start,omitempty"`
	End   *string `json:"end,omitempty"`
}

type sortDTO struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type paginationDTO struct {
	First  *int   `json:"first,omitempty"`
	Last   *int   `json:"last,omitempty"`
	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`
}

// queryRequest is the wire shape of POST /v1/query (§6 typed request inputs).
type queryRequest struct {
	Table           string        `json:"table"`
	Protocols       []string      `json:"protocols,omitempty"`
	ProgramIDs      []string      `json:"programIds,omitempty"`
	Signatures      []string      `json:"signatures,omitempty"`
	DateRange       *dateRangeDTO `json:"dateRange,omitempty"`
	SlotRange       *rangeDTO     `json:"slotRange,omitempty"`
	FeeRange        *rangeDTO     `json:"feeRange,omitempty"`
	ComputeRange    *rangeDTO     `json:"computeRange,omitempty"`
	AccountsCount   *rangeDTO     `json:"accountsCount,omitempty"`
	Success         *bool         `json:"success,omitempty"`
	ErrorPattern    string        `json:"errorPattern,omitempty"`
	LogMessage      string        `json:"logMessage,omitempty"`
	GroupBy         []string      `json:"groupBy,omitempty"`
	Metrics         []string      `json:"metrics,omitempty"`
	Sort            *sortDTO      `json:"sort,omitempty"`
	Pagination      *paginationDTO `json:"pagination,omitempty"`
}

func (q *queryRequest) toSpec() *queryspec.RequestSpec {
	spec := &queryspec.RequestSpec{
		Table: queryspec.Table(q.Table),
		Filters: queryspec.Filters{
			Signature:       q.Signatures,
			ProgramID:       q.ProgramIDs,
			Protocol:        q.Protocols,
			Success:         q.Success,
			ErrorPattern:    q.ErrorPattern,
			LogMessage:      q.LogMessage,
			Date:            q.DateRange.toFilter(),
			Slot:            q.SlotRange.toFilter(),
			Fee:             q.FeeRange.toFilter(),
			ComputeUnits:    q.ComputeRange.toFilter(),
			AccountsCount:   q.AccountsCount.toFilter(),
		},
	}
	for _, d := range q.GroupBy {
		spec.GroupBy = append(spec.GroupBy, queryspec.Dimension(d))
	}
	for _, m := range q.Metrics {
		spec.Metrics = append(spec.Metrics, queryspec.Metric(m))
	}
	if q.Sort != nil {
		spec.Sort = &queryspec.Sort{Field: queryspec.SortField(q.Sort.Field), Direction: queryspec.SortDirection(q.Sort.Direction)}
	}
	if q.Pagination != nil {
		spec.Pagination = &queryspec.Pagination{
			First:  q.Pagination.First,
			Last:   q.Pagination.Last,
			After:  q.Pagination.After,
			Before: q.Pagination.Before,
		}
	}
	return spec
}

func (r *rangeDTO) toFilter() *queryspec.RangeFilter {
	if r == nil {
		return nil
	}
	return &queryspec.RangeFilter{Min: r.Min, Max: r.Max}
}

func (d *dateRangeDTO) toFilter() *queryspec.DateRangeFilter {
	if d == nil {
		return nil
	}
	return &queryspec.DateRangeFilter{Start: d.Start, End: d.End}
}

// edgeDTO / connectionDTO implement the canonical Connection envelope (§6).
type edgeDTO struct {
	Node   interface{} `json:"node"`
	Cursor string      `json:"cursor"`
}

type connectionDTO struct {
	Edges           []edgeDTO   `json:"edges"`
	Nodes           interface{} `json:"nodes"`
	PageInfo        pageInfoDTO `json:"pageInfo"`
	Complexity      interface{} `json:"complexity,omitempty"`
	FromCache       bool        `json:"fromCache"`
}

type pageInfoDTO struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor"`
	EndCursor       string `json:"endCursor"`
}

// QueryHandler serves POST /v1/query against the orchestrator (C8).
type QueryHandler struct {
	orch   *orchestrator.Orchestrator
	logger zerolog.Logger
}

// NewQueryHandler builds a QueryHandler.
func NewQueryHandler(orch *orchestrator.Orchestrator, logger zerolog.Logger) *QueryHandler {
	return &QueryHandler{orch: orch, logger: logger.With().Str("handler", "query").Logger()}
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerr.Wrap(gwerr.KindValidation, "malformed request body", err))
		return
	}

	spec := req.toSpec()
	identity := middleware.Identity(r.Context())
	tier := middleware.Plan(r.Context())

	result, err := h.orch.Execute(r.Context(), "query", identity, tier, spec)
	if err != nil {
		writeError(w, err)
		return
	}

	nodes := make([]interface{}, len(result.Rows))
	edges := make([]edgeDTO, len(result.Rows))
	for i, row := range result.Rows {
		nodes[i] = row
		var cursor string
		if i < len(result.Cursors) {
			cursor = result.Cursors[i]
		}
		edges[i] = edgeDTO{Node: row, Cursor: cursor}
	}

	writeJSON(w, http.StatusOK, connectionDTO{
		Edges: edges,
		Nodes: nodes,
		PageInfo: pageInfoDTO{
			HasNextPage:     result.PageInfo.HasNextPage,
			HasPreviousPage: result.PageInfo.HasPreviousPage,
			StartCursor:     result.PageInfo.StartCursor,
			EndCursor:       result.PageInfo.EndCursor,
		},
		Complexity: result.Complexity,
		FromCache:  result.FromCache,
	})
}
