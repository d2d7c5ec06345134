package compiler

import (
	"strings"
	"testing"

	"github.com/solix/warehouse-gateway/queryspec"
)

func TestCompileScanBasic(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table: queryspec.TableTransactions,
		Filters: queryspec.Filters{
			Protocol: []string{"pump_fun"},
		},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if c.IsAggregation {
		t.Fatal("expected scan, got aggregation")
	}
	if !strings.Contains(c.SQL, "protocol_name = :protocol") {
		t.Fatalf("expected protocol filter in SQL, got %q", c.SQL)
	}
	if !strings.Contains(c.SQL, "FROM transactions") {
		t.Fatalf("expected FROM transactions, got %q", c.SQL)
	}
	if !strings.Contains(c.SQL, "ORDER BY date DESC, slot DESC, signature DESC") {
		t.Fatalf("expected default scan ordering, got %q", c.SQL)
	}
	if c.Params["protocol"] != "pump_fun" {
		t.Fatalf("expected bound param protocol=pump_fun, got %v", c.Params)
	}
}

func TestCompileMultiValueFilterUsesIN(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		Filters: queryspec.Filters{Protocol: []string{"pump_fun", "raydium"}},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(c.SQL, "protocol_name IN (:protocol0, :protocol1)") {
		t.Fatalf("expected IN clause, got %q", c.SQL)
	}
}

func TestCompileAggregation(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		GroupBy: []queryspec.Dimension{queryspec.DimProtocol},
		Metrics: []queryspec.Metric{queryspec.MetricCount, queryspec.MetricSumFee},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !c.IsAggregation {
		t.Fatal("expected aggregation")
	}
	if !strings.Contains(c.SQL, "protocol_name AS protocol") {
		t.Fatalf("expected dimension alias, got %q", c.SQL)
	}
	if !strings.Contains(c.SQL, "sum(fee) AS sumfee") {
		t.Fatalf("expected metric expr, got %q", c.SQL)
	}
	if !strings.Contains(c.SQL, "GROUP BY protocol_name") {
		t.Fatalf("expected GROUP BY, got %q", c.SQL)
	}
}

func TestCompileAggregationDefaultsToCountWhenNoMetrics(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		GroupBy: []queryspec.Dimension{queryspec.DimDate},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(c.SQL, "count() AS count") {
		t.Fatalf("expected implicit count(), got %q", c.SQL)
	}
}

func TestCompileRejectsUnknownTable(t *testing.T) {
	spec := &queryspec.RequestSpec{Table: "drop_all_tables"}
	if _, err := Compile(spec); err == nil {
		t.Fatal("expected error for non-whitelisted table")
	}
}

func TestCompileRejectsErrorPatternOnTransactions(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		Filters: queryspec.Filters{ErrorPattern: "%timeout%"},
	}
	if _, err := Compile(spec); err == nil {
		t.Fatal("expected error for errorPattern on transactions table")
	}
}

func TestCompileAllowsErrorPatternOnFailedTransactions(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableFailedTransactions,
		Filters: queryspec.Filters{ErrorPattern: "%timeout%"},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(c.SQL, "error_message LIKE :errorPattern") {
		t.Fatalf("expected errorPattern clause, got %q", c.SQL)
	}
}

func TestCompileRejectsUnknownDimension(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		GroupBy: []queryspec.Dimension{"NOT_A_DIMENSION"},
	}
	if _, err := Compile(spec); err == nil {
		t.Fatal("expected error for unknown dimension")
	}
}

func TestCompileLimitClampedAndPlusOneForPagination(t *testing.T) {
	first := 50
	spec := &queryspec.RequestSpec{
		Table:      queryspec.TableTransactions,
		Pagination: &queryspec.Pagination{First: &first},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if c.Limit != 50 {
		t.Fatalf("Limit = %d, want 50", c.Limit)
	}
	if !strings.Contains(c.SQL, "LIMIT 51") {
		t.Fatalf("expected LIMIT 51 (limit+1) for pagination, got %q", c.SQL)
	}
}

func TestCompileNoOffsetEmitted(t *testing.T) {
	spec := &queryspec.RequestSpec{Table: queryspec.TableTransactions}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Contains(strings.ToUpper(c.SQL), "OFFSET") {
		t.Fatalf("expected no OFFSET in compiled SQL, got %q", c.SQL)
	}
}

func TestCompilePaginationCursorPredicate(t *testing.T) {
	after := queryspec.EncodeScanCursor(queryspec.ScanCursor{Slot: 100, Signature: "sigA"})
	spec := &queryspec.RequestSpec{
		Table:      queryspec.TableTransactions,
		Pagination: &queryspec.Pagination{After: after},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(c.SQL, "slot < :cursorSlot") {
		t.Fatalf("expected default forward+DESC cursor predicate, got %q", c.SQL)
	}
	if c.Params["cursorSlot"] != uint64(100) || c.Params["cursorSignature"] != "sigA" {
		t.Fatalf("expected cursor params bound, got %v", c.Params)
	}
}

func TestCompileMalformedCursorSilentlyDropped(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:      queryspec.TableTransactions,
		Pagination: &queryspec.Pagination{After: "!!!not-valid!!!"},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Contains(c.SQL, "cursorSlot") {
		t.Fatalf("expected malformed cursor to be dropped, got %q", c.SQL)
	}
}

func TestCompileAggregationCursorPredicateAdvancesPage(t *testing.T) {
	after := queryspec.EncodeAggregationCursor(queryspec.AggregationCursor{
		Keys: []string{"protocol:pump_fun"},
		Hash: "abc123",
	})
	spec := &queryspec.RequestSpec{
		Table:      queryspec.TableTransactions,
		GroupBy:    []queryspec.Dimension{queryspec.DimProtocol},
		Metrics:    []queryspec.Metric{queryspec.MetricCount},
		Pagination: &queryspec.Pagination{After: after},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(c.SQL, "protocol_name < :cursorDim0") {
		t.Fatalf("expected cursor predicate on the group-by column, got %q", c.SQL)
	}
	if c.Params["cursorDim0"] != "pump_fun" {
		t.Fatalf("expected cursor value bound, got %v", c.Params)
	}
}

func TestCompileAggregationCursorPredicateMultiDimension(t *testing.T) {
	after := queryspec.EncodeAggregationCursor(queryspec.AggregationCursor{
		Keys: []string{"protocol:pump_fun", "date:2024-01-01"},
		Hash: "abc123",
	})
	spec := &queryspec.RequestSpec{
		Table:      queryspec.TableTransactions,
		GroupBy:    []queryspec.Dimension{queryspec.DimProtocol, queryspec.DimDate},
		Metrics:    []queryspec.Metric{queryspec.MetricCount},
		Pagination: &queryspec.Pagination{After: after},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(c.SQL, "protocol_name < :cursorDim0 OR (protocol_name = :cursorDim0 AND date < :cursorDim1)") {
		t.Fatalf("expected tuple-comparison cursor predicate, got %q", c.SQL)
	}
	if c.Params["cursorDim0"] != "pump_fun" || c.Params["cursorDim1"] != "2024-01-01" {
		t.Fatalf("expected both cursor dims bound, got %v", c.Params)
	}
}

func TestCompileAggregationCursorMalformedDropped(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:      queryspec.TableTransactions,
		GroupBy:    []queryspec.Dimension{queryspec.DimProtocol},
		Metrics:    []queryspec.Metric{queryspec.MetricCount},
		Pagination: &queryspec.Pagination{After: "!!!not-valid!!!"},
	}
	c, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Contains(c.SQL, "cursorDim") {
		t.Fatalf("expected malformed aggregation cursor to be dropped, got %q", c.SQL)
	}
}

func TestCompileForExportEmitsLimitOffset(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		Filters: queryspec.Filters{Protocol: []string{"pump_fun"}},
	}
	c, err := CompileForExport(spec, 50000, 100000)
	if err != nil {
		t.Fatalf("CompileForExport: %v", err)
	}
	if !strings.Contains(c.SQL, "LIMIT :limit OFFSET :offset") {
		t.Fatalf("expected bound LIMIT/OFFSET clause, got %q", c.SQL)
	}
	if c.Params["limit"] != 50000 || c.Params["offset"] != 100000 {
		t.Fatalf("expected limit/offset bound params, got %v", c.Params)
	}
	if c.Limit != 50000 {
		t.Fatalf("Limit = %d, want 50000", c.Limit)
	}
}

func TestCompileForExportIgnoresPagination(t *testing.T) {
	after := queryspec.EncodeScanCursor(queryspec.ScanCursor{Slot: 100, Signature: "sigA"})
	spec := &queryspec.RequestSpec{
		Table:      queryspec.TableTransactions,
		Pagination: &queryspec.Pagination{After: after},
	}
	c, err := CompileForExport(spec, 1000, 0)
	if err != nil {
		t.Fatalf("CompileForExport: %v", err)
	}
	if strings.Contains(c.SQL, "cursorSlot") {
		t.Fatalf("expected export compile to ignore cursor pagination, got %q", c.SQL)
	}
}

func TestCompileForExportAggregation(t *testing.T) {
	spec := &queryspec.RequestSpec{
		Table:   queryspec.TableTransactions,
		GroupBy: []queryspec.Dimension{queryspec.DimProtocol},
		Metrics: []queryspec.Metric{queryspec.MetricCount},
	}
	c, err := CompileForExport(spec, 50000, 0)
	if err != nil {
		t.Fatalf("CompileForExport: %v", err)
	}
	if !c.IsAggregation {
		t.Fatal("expected aggregation")
	}
	if !strings.Contains(c.SQL, "GROUP BY protocol_name") {
		t.Fatalf("expected GROUP BY clause, got %q", c.SQL)
	}
}
