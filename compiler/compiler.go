// Package compiler implements the safe query compiler (C5): it translates
// a typed queryspec.RequestSpec into parameterized OLAP query text,
// enforcing the table whitelist, filter ordering, and cursor-based
// pagination discipline described alongside it.
package compiler

import (
	"fmt"
	"strings"

	"github.com/solix/warehouse-gateway/gwerr"
	"github.com/solix/warehouse-gateway/queryspec"
	"github.com/solix/warehouse-gateway/security"
)

// Compiled is the output of Compile: ready-to-execute SQL text, its named
// parameters, and whether the spec is an aggregation.
type Compiled struct {
	SQL           string
	Params        map[string]interface{}
	IsAggregation bool
	Limit         int
}

var dimensionExpr = map[queryspec.Dimension]string{
	queryspec.DimProtocol:        "protocol_name",
	queryspec.DimHour:            "hour",
	queryspec.DimDate:            "date",
	queryspec.DimProgramID:       "program_id",
	queryspec.DimInstructionType: "instruction_type",
	queryspec.DimDayOfWeek:       "toDayOfWeek(toDate(date))",
	queryspec.DimWeek:            "toStartOfWeek(toDate(date))",
	queryspec.DimMonth:           "toStartOfMonth(toDate(date))",
}

var metricExpr = map[queryspec.Metric]string{
	queryspec.MetricCount:            "count()",
	queryspec.MetricSumFee:           "sum(fee)",
	queryspec.MetricAvgFee:           "avg(fee)",
	queryspec.MetricMinFee:           "min(fee)",
	queryspec.MetricMaxFee:           "max(fee)",
	queryspec.MetricP50Fee:           "quantile(0.5)(fee)",
	queryspec.MetricP95Fee:           "quantile(0.95)(fee)",
	queryspec.MetricP99Fee:           "quantile(0.99)(fee)",
	queryspec.MetricSumComputeUnits:  "sum(compute_units)",
	queryspec.MetricAvgComputeUnits:  "avg(compute_units)",
	queryspec.MetricMinComputeUnits:  "min(compute_units)",
	queryspec.MetricMaxComputeUnits:  "max(compute_units)",
	queryspec.MetricP50ComputeUnits:  "quantile(0.5)(compute_units)",
	queryspec.MetricP95ComputeUnits:  "quantile(0.95)(compute_units)",
	queryspec.MetricP99ComputeUnits:  "quantile(0.99)(compute_units)",
	queryspec.MetricSumAccountsCount: "sum(accounts_count)",
	queryspec.MetricAvgAccountsCount: "avg(accounts_count)",
}

// scanColumns is the fixed row projection for a non-aggregation scan, with
// camelCase aliases.
var scanColumns = []struct{ expr, alias string }{
	{"signature", "signature"},
	{"slot", "slot"},
	{"date", "date"},
	{"program_id", "programId"},
	{"protocol_name", "protocol"},
	{"instruction_type", "instructionType"},
	{"fee", "fee"},
	{"compute_units", "computeUnits"},
	{"accounts_count", "accountsCount"},
	{"success", "success"},
}

// Compile translates spec into a parameterized query. table has already
// been validated by the caller via security.SanitizeTableName, but Compile
// re-validates defensively since it is the last line of defense before SQL
// text is emitted.
func Compile(spec *queryspec.RequestSpec) (*Compiled, error) {
	table, err := security.SanitizeTableName(string(spec.Table))
	if err != nil {
		return nil, err
	}

	if err := validateFieldAccess(spec, table); err != nil {
		return nil, err
	}
	if err := validateDimensionsAndMetrics(spec); err != nil {
		return nil, err
	}

	where, params, err := compileFilters(spec, table)
	if err != nil {
		return nil, err
	}

	isAgg := spec.IsAggregation()
	limit := effectiveLimit(spec)

	var sql strings.Builder
	if isAgg {
		writeAggregationSelect(&sql, spec)
	} else {
		writeScanSelect(&sql)
	}
	fmt.Fprintf(&sql, " FROM %s", table)

	pagWhere, pagParams := compilePaginationPredicate(spec)
	where = appendClause(where, pagWhere)
	for k, v := range pagParams {
		params[k] = v
	}

	if where != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}

	if isAgg && len(spec.GroupBy) > 0 {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(groupByList(spec.GroupBy))
	}

	sql.WriteString(" ORDER BY ")
	sql.WriteString(orderByClause(spec, isAgg))

	requestLimit := limit
	if spec.Pagination != nil {
		requestLimit = limit + 1
	}
	fmt.Fprintf(&sql, " LIMIT %d", requestLimit)

	return &Compiled{SQL: sql.String(), Params: params, IsAggregation: isAgg, Limit: limit}, nil
}

// CompileFilters validates table and spec's field access, then compiles
// just the WHERE clause and its bound parameters — no SELECT projection,
// ORDER BY, or LIMIT. It exists so components that need a bounded probe
// over the same filters as Compile (e.g. the complexity estimator's count()
// probe) don't have to parse a full compiled statement back apart.
func CompileFilters(spec *queryspec.RequestSpec) (string, map[string]interface{}, error) {
	table, err := security.SanitizeTableName(string(spec.Table))
	if err != nil {
		return "", nil, err
	}
	if err := validateFieldAccess(spec, table); err != nil {
		return "", nil, err
	}
	return compileFilters(spec, table)
}

// CompileForExport builds the same filtered/grouped query as Compile but
// with an explicit LIMIT/OFFSET pair instead of cursor pagination, for the
// export job engine's internal chunked streaming (C9). spec.Pagination is
// ignored entirely: export chunking is driven by offset, not a cursor.
func CompileForExport(spec *queryspec.RequestSpec, limit, offset int) (*Compiled, error) {
	table, err := security.SanitizeTableName(string(spec.Table))
	if err != nil {
		return nil, err
	}
	if err := validateFieldAccess(spec, table); err != nil {
		return nil, err
	}
	if err := validateDimensionsAndMetrics(spec); err != nil {
		return nil, err
	}

	where, params, err := compileFilters(spec, table)
	if err != nil {
		return nil, err
	}

	isAgg := spec.IsAggregation()

	var sql strings.Builder
	if isAgg {
		writeAggregationSelect(&sql, spec)
	} else {
		writeScanSelect(&sql)
	}
	fmt.Fprintf(&sql, " FROM %s", table)

	if where != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}
	if isAgg && len(spec.GroupBy) > 0 {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(groupByList(spec.GroupBy))
	}
	sql.WriteString(" ORDER BY ")
	sql.WriteString(orderByClause(spec, isAgg))

	params["limit"] = limit
	params["offset"] = offset
	fmt.Fprintf(&sql, " LIMIT :limit OFFSET :offset")

	return &Compiled{SQL: sql.String(), Params: params, IsAggregation: isAgg, Limit: limit}, nil
}

func validateFieldAccess(spec *queryspec.RequestSpec, table string) error {
	usesFailedOnly := spec.Filters.ErrorPattern != "" || spec.Filters.LogMessage != ""
	if usesFailedOnly && table != string(queryspec.TableFailedTransactions) {
		return gwerr.New(gwerr.KindValidation, "errorPattern/logMessage filters are only valid on failed_transactions")
	}
	return nil
}

func validateDimensionsAndMetrics(spec *queryspec.RequestSpec) error {
	for _, d := range spec.GroupBy {
		if _, ok := dimensionExpr[d]; !ok {
			return gwerr.Newf(gwerr.KindValidation, "unknown group-by dimension %q", d)
		}
	}
	for _, m := range spec.Metrics {
		if m == queryspec.MetricCount {
			continue
		}
		if _, ok := metricExpr[m]; !ok {
			return gwerr.Newf(gwerr.KindValidation, "unknown metric %q", m)
		}
	}
	return nil
}

func effectiveLimit(spec *queryspec.RequestSpec) int {
	return spec.Pagination.Limit()
}

func writeScanSelect(sql *strings.Builder) {
	sql.WriteString("SELECT ")
	parts := make([]string, len(scanColumns))
	for i, c := range scanColumns {
		parts[i] = fmt.Sprintf("%s AS %s", c.expr, c.alias)
	}
	sql.WriteString(strings.Join(parts, ", "))
}

func writeAggregationSelect(sql *strings.Builder, spec *queryspec.RequestSpec) {
	sql.WriteString("SELECT ")
	var parts []string
	for _, d := range spec.GroupBy {
		parts = append(parts, fmt.Sprintf("%s AS %s", dimensionExpr[d], strings.ToLower(string(d))))
	}
	for _, m := range spec.Metrics {
		parts = append(parts, fmt.Sprintf("%s AS %s", metricExprFor(m), metricAlias(m)))
	}
	if len(spec.Metrics) == 0 && len(spec.GroupBy) > 0 {
		parts = append(parts, "count() AS count")
	}
	sql.WriteString(strings.Join(parts, ", "))
}

func metricExprFor(m queryspec.Metric) string {
	if m == queryspec.MetricCount {
		return "count()"
	}
	return metricExpr[m]
}

func metricAlias(m queryspec.Metric) string {
	return strings.ToLower(strings.ReplaceAll(string(m), "_", ""))
}

func groupByList(dims []queryspec.Dimension) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = dimensionExpr[d]
	}
	return strings.Join(parts, ", ")
}

func orderByClause(spec *queryspec.RequestSpec, isAgg bool) string {
	if spec.Sort != nil {
		col := sortColumn(spec.Sort.Field)
		return fmt.Sprintf("%s %s", col, spec.Sort.Direction)
	}
	if isAgg {
		if len(spec.GroupBy) > 0 {
			return dimensionExpr[spec.GroupBy[0]] + " DESC"
		}
		return "1"
	}
	return "date DESC, slot DESC, signature DESC"
}

func sortColumn(f queryspec.SortField) string {
	switch f {
	case queryspec.SortDate:
		return "date"
	case queryspec.SortSlot:
		return "slot"
	case queryspec.SortSignature:
		return "signature"
	case queryspec.SortFee:
		return "fee"
	default:
		return "date"
	}
}

// compilePaginationPredicate builds the cursor-based WHERE fragment (§4.5
// step 4). A cursor that fails to decode is silently dropped rather than
// rejected.
func compilePaginationPredicate(spec *queryspec.RequestSpec) (string, map[string]interface{}) {
	p := spec.Pagination
	if p == nil {
		return "", nil
	}

	forward := p.Direction()
	desc := defaultDescending(spec)
	token := p.After
	if !forward {
		token = p.Before
	}
	if token == "" {
		return "", nil
	}

	if spec.IsAggregation() {
		return aggregationCursorPredicate(spec, token, forward, desc)
	}

	cur, ok := queryspec.DecodeScanCursor(token)
	if !ok {
		return "", nil
	}

	op := ">"
	switch {
	case forward && desc:
		op = "<"
	case forward && !desc:
		op = ">"
	case !forward && desc:
		op = ">"
	case !forward && !desc:
		op = "<"
	}

	where := fmt.Sprintf("(slot %s :cursorSlot OR (slot = :cursorSlot AND signature %s :cursorSignature))", op, op)
	return where, map[string]interface{}{"cursorSlot": cur.Slot, "cursorSignature": cur.Signature}
}

// aggregationCursorPredicate translates a decoded group-by tuple into a
// lexicographic tuple comparison over the dimension columns, mirroring the
// scan cursor's slot/signature predicate: advance past the cursor row by
// requiring the first dimension strictly past it, OR equal-on-first-and-
// strictly-past-on-second, and so on through the group-by list. A cursor
// with no matching groupBy dimension is silently dropped, same as a
// malformed token.
func aggregationCursorPredicate(spec *queryspec.RequestSpec, token string, forward, desc bool) (string, map[string]interface{}) {
	cur, ok := queryspec.DecodeAggregationCursor(token)
	if !ok || len(cur.Keys) == 0 || len(spec.GroupBy) == 0 {
		return "", nil
	}

	values := make(map[string]string, len(cur.Keys))
	for _, kv := range cur.Keys {
		parts := strings.SplitN(kv, ":", 2)
		if len(parts) != 2 {
			return "", nil
		}
		values[parts[0]] = parts[1]
	}

	op := ">"
	switch {
	case forward && desc:
		op = "<"
	case forward && !desc:
		op = ">"
	case !forward && desc:
		op = ">"
	case !forward && !desc:
		op = "<"
	}

	params := map[string]interface{}{}
	var ors []string
	var equalPrefix []string
	for i, d := range spec.GroupBy {
		alias := strings.ToLower(string(d))
		val, ok := values[alias]
		if !ok {
			return "", nil
		}
		col := dimensionExpr[d]
		paramName := fmt.Sprintf("cursorDim%d", i)
		params[paramName] = val

		clause := fmt.Sprintf("%s %s :%s", col, op, paramName)
		if len(equalPrefix) > 0 {
			clause = fmt.Sprintf("(%s AND %s)", strings.Join(equalPrefix, " AND "), clause)
		}
		ors = append(ors, clause)
		equalPrefix = append(equalPrefix, fmt.Sprintf("%s = :%s", col, paramName))
	}

	return strings.Join(ors, " OR "), params
}

func defaultDescending(spec *queryspec.RequestSpec) bool {
	if spec.Sort != nil {
		return spec.Sort.Direction == queryspec.SortDesc
	}
	return true
}

func appendClause(existing, add string) string {
	if add == "" {
		return existing
	}
	if existing == "" {
		return add
	}
	return existing + " AND " + add
}
