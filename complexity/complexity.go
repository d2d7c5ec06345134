// Package complexity implements the complexity estimator (C6): a bounded
// count probe plus a cost formula that produces the admission/timeout
// decision inputs the orchestrator (C8) consumes.
package complexity

import (
	"context"
	"math"
	"time"

	"github.com/solix/warehouse-gateway/compiler"
	"github.com/solix/warehouse-gateway/queryspec"
	"github.com/solix/warehouse-gateway/security"
	"github.com/solix/warehouse-gateway/warehouse"
)

const (
	fallbackEstimatedRows = 1_000_000
	probeTimeout          = 1 * time.Second
)

// queryRunner is the subset of warehouse.Pool the estimator needs,
// declared locally so tests can exercise Calculate against a fake without
// a live ClickHouse connection.
type queryRunner interface {
	Query(ctx context.Context, sql string, params map[string]interface{}, timeout time.Duration) ([]warehouse.Row, error)
}

// Estimator runs the bounded count probe against the warehouse pool.
type Estimator struct {
	pool queryRunner
}

// New constructs an Estimator backed by pool.
func New(pool queryRunner) *Estimator {
	return &Estimator{pool: pool}
}

// Calculate implements §4.6: build a minimal WHERE from filters, run a
// bounded count probe, compute the cost formula, and produce
// recommendations.
func (e *Estimator) Calculate(ctx context.Context, spec *queryspec.RequestSpec) (*queryspec.ComplexityRecord, error) {
	table, err := security.SanitizeTableName(string(spec.Table))
	if err != nil {
		return nil, err
	}

	estimatedRows := e.probeRowCount(ctx, table, spec)

	baseCost := float64(estimatedRows) / 10_000
	groupByMultiplier := math.Pow(2, float64(len(spec.GroupBy)))
	aggregationCost := baseCost * 0.1 * float64(len(spec.Metrics))
	score := round2(baseCost*groupByMultiplier + aggregationCost)

	rec := &queryspec.ComplexityRecord{
		Score:             score,
		EstimatedRows:     estimatedRows,
		BaseCost:          round2(baseCost),
		GroupByMultiplier: groupByMultiplier,
		AggregationCost:   round2(aggregationCost),
	}
	rec.Recommendations = recommendations(rec, spec)
	return rec, nil
}

// probeRowCount runs the bounded count() probe; a timeout or error falls
// back to the conservative 1,000,000-row estimate rather than failing the
// request.
func (e *Estimator) probeRowCount(ctx context.Context, table string, spec *queryspec.RequestSpec) int64 {
	sql, params, err := countProbeSQL(table, spec)
	if err != nil {
		return fallbackEstimatedRows
	}

	rows, err := e.pool.Query(ctx, sql, params, probeTimeout)
	if err != nil || len(rows) == 0 {
		return fallbackEstimatedRows
	}
	if n, ok := toInt64(rows[0]["count"]); ok {
		return n
	}
	return fallbackEstimatedRows
}

func countProbeSQL(table string, spec *queryspec.RequestSpec) (string, map[string]interface{}, error) {
	probeSpec := &queryspec.RequestSpec{Table: spec.Table, Filters: spec.Filters}
	where, params, err := compiler.CompileFilters(probeSpec)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT count() AS count FROM " + table
	if where != "" {
		sql += " WHERE " + where
	}
	return sql, params, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func recommendations(rec *queryspec.ComplexityRecord, spec *queryspec.RequestSpec) []string {
	var out []string
	if rec.EstimatedRows > 5_000_000 && len(spec.Filters.Signature) == 0 {
		out = append(out, "narrow filters or paginate")
	}
	if rec.Score > 1000 {
		out = append(out, "use export")
	}
	if len(spec.GroupBy) > 3 {
		out = append(out, "reduce dimensions")
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
