package complexity

import (
	"context"
	"testing"
	"time"

	"github.com/solix/warehouse-gateway/queryspec"
	"github.com/solix/warehouse-gateway/warehouse"
)

type fakePool struct {
	rows      []warehouse.Row
	err       error
	lastSQL   string
	lastParam map[string]interface{}
}

func (f *fakePool) Query(_ context.Context, sql string, params map[string]interface{}, _ time.Duration) ([]warehouse.Row, error) {
	f.lastSQL = sql
	f.lastParam = params
	return f.rows, f.err
}

func TestCalculateScoreFormula(t *testing.T) {
	pool := &fakePool{rows: []warehouse.Row{{"count": int64(50_000)}}}
	est := New(pool)

	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		GroupBy: []queryspec.Dimension{queryspec.DimProtocol},
		Metrics: []queryspec.Metric{queryspec.MetricCount},
	}
	rec, err := est.Calculate(context.Background(), spec)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if rec.EstimatedRows != 50_000 {
		t.Fatalf("EstimatedRows = %d, want 50000", rec.EstimatedRows)
	}
	wantBase := 5.0
	if rec.BaseCost != wantBase {
		t.Fatalf("BaseCost = %v, want %v", rec.BaseCost, wantBase)
	}
	if rec.GroupByMultiplier != 2 {
		t.Fatalf("GroupByMultiplier = %v, want 2", rec.GroupByMultiplier)
	}
	wantAgg := round2(wantBase * 0.1 * 1)
	if rec.AggregationCost != wantAgg {
		t.Fatalf("AggregationCost = %v, want %v", rec.AggregationCost, wantAgg)
	}
	wantScore := round2(wantBase*2 + wantAgg)
	if rec.Score != wantScore {
		t.Fatalf("Score = %v, want %v", rec.Score, wantScore)
	}
}

func TestCalculateFallsBackOnProbeError(t *testing.T) {
	pool := &fakePool{err: context.DeadlineExceeded}
	est := New(pool)
	spec := &queryspec.RequestSpec{Table: queryspec.TableTransactions}

	rec, err := est.Calculate(context.Background(), spec)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if rec.EstimatedRows != fallbackEstimatedRows {
		t.Fatalf("EstimatedRows = %d, want fallback %d", rec.EstimatedRows, fallbackEstimatedRows)
	}
}

func TestCalculateRecommendations(t *testing.T) {
	pool := &fakePool{rows: []warehouse.Row{{"count": int64(6_000_000)}}}
	est := New(pool)
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		GroupBy: []queryspec.Dimension{queryspec.DimProtocol, queryspec.DimDate, queryspec.DimHour, queryspec.DimWeek},
		Metrics: []queryspec.Metric{queryspec.MetricCount},
	}
	rec, err := est.Calculate(context.Background(), spec)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := map[string]bool{"narrow filters or paginate": false, "use export": false, "reduce dimensions": false}
	for _, r := range rec.Recommendations {
		want[r] = true
	}
	for r, got := range want {
		if !got {
			t.Fatalf("expected recommendation %q, got %v", r, rec.Recommendations)
		}
	}
}

func TestProbeSQLHasNoOrderByOrLimit(t *testing.T) {
	pool := &fakePool{rows: []warehouse.Row{{"count": int64(1)}}}
	est := New(pool)
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		Filters: queryspec.Filters{Protocol: []string{"pump_fun"}},
	}
	if _, err := est.Calculate(context.Background(), spec); err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if contains(pool.lastSQL, "ORDER BY") {
		t.Fatalf("expected probe SQL to have no ORDER BY, got %q", pool.lastSQL)
	}
	if contains(pool.lastSQL, "LIMIT") {
		t.Fatalf("expected probe SQL to have no LIMIT, got %q", pool.lastSQL)
	}
	if !contains(pool.lastSQL, "WHERE protocol_name = :protocol") {
		t.Fatalf("expected probe SQL to carry the filter WHERE clause, got %q", pool.lastSQL)
	}
	if pool.lastParam["protocol"] != "pump_fun" {
		t.Fatalf("expected protocol param bound, got %v", pool.lastParam)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestCalculateRejectsUnknownTable(t *testing.T) {
	est := New(&fakePool{})
	spec := &queryspec.RequestSpec{Table: "not_whitelisted"}
	if _, err := est.Calculate(context.Background(), spec); err == nil {
		t.Fatal("expected error for non-whitelisted table")
	}
}
