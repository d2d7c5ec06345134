// Package queryspec defines the typed Request Spec the gateway core passes
// between components: filters, grouping, metrics, sort, pagination, and the
// opaque cursor codec shared by the compiler (C5) and orchestrator (C8).
package queryspec

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Table is a whitelisted target table.
type Table string

const (
	TableTransactions       Table = "transactions"
	TableFailedTransactions Table = "failed_transactions"
)

// Dimension is a group-by enum value.
type Dimension string

const (
	DimProtocol        Dimension = "PROTOCOL"
	DimHour            Dimension = "HOUR"
	DimDate            Dimension = "DATE"
	DimProgramID       Dimension = "PROGRAM_ID"
	DimInstructionType Dimension = "INSTRUCTION_TYPE"
	DimDayOfWeek       Dimension = "DAY_OF_WEEK"
	DimWeek            Dimension = "WEEK"
	DimMonth           Dimension = "MONTH"
)

// Metric is an aggregation metric enum value.
type Metric string

const (
	MetricCount             Metric = "COUNT"
	MetricSumFee            Metric = "SUM_FEE"
	MetricAvgFee            Metric = "AVG_FEE"
	MetricMinFee            Metric = "MIN_FEE"
	MetricMaxFee            Metric = "MAX_FEE"
	MetricP50Fee            Metric = "P50_FEE"
	MetricP95Fee            Metric = "P95_FEE"
	MetricP99Fee            Metric = "P99_FEE"
	MetricSumComputeUnits   Metric = "SUM_COMPUTE_UNITS"
	MetricAvgComputeUnits   Metric = "AVG_COMPUTE_UNITS"
	MetricMinComputeUnits   Metric = "MIN_COMPUTE_UNITS"
	MetricMaxComputeUnits   Metric = "MAX_COMPUTE_UNITS"
	MetricP50ComputeUnits   Metric = "P50_COMPUTE_UNITS"
	MetricP95ComputeUnits   Metric = "P95_COMPUTE_UNITS"
	MetricP99ComputeUnits   Metric = "P99_COMPUTE_UNITS"
	MetricSumAccountsCount  Metric = "SUM_ACCOUNTS_COUNT"
	MetricAvgAccountsCount  Metric = "AVG_ACCOUNTS_COUNT"
)

// SortField is the closed set of sortable scan columns.
type SortField string

const (
	SortDate      SortField = "DATE"
	SortSlot      SortField = "SLOT"
	SortSignature SortField = "SIGNATURE"
	SortFee       SortField = "FEE"
)

// SortDirection is ASC or DESC.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// Sort pairs a field with a direction.
type Sort struct {
	Field     SortField
	Direction SortDirection
}

// RangeFilter is an inclusive [Min, Max] bound; a nil pointer means
// unbounded on that side.
type RangeFilter struct {
	Min *float64
	Max *float64
}

// DateRangeFilter is an inclusive date range of ISO-8601 date strings, modeled
// separately from numeric RangeFilter so the compiler can emit the right
// column type without a type switch.
type DateRangeFilter struct {
	Start *string // ISO-8601 date, inclusive
	End   *string // ISO-8601 date, inclusive
}

// Filters holds every filterable field. Set-valued filters are unordered;
// a single element compiles to `=`, multiple to `IN`.
type Filters struct {
	Signature       []string
	ProgramID       []string
	Protocol        []string
	InstructionType []string
	Success         *bool
	ErrorPattern    string // LIKE pattern, failed_transactions only
	LogMessage      string // LIKE pattern, failed_transactions only

	Date          *DateRangeFilter
	Slot          *RangeFilter
	Fee           *RangeFilter
	ComputeUnits  *RangeFilter
	AccountsCount *RangeFilter
}

// Pagination captures the forward/backward cursor window. Exactly one of
// First/Last should be set by validated input; if both are present, Limit
// uses First while Direction reports backward.
type Pagination struct {
	First  *int
	Last   *int
	After  string
	Before string
}

// Direction reports whether the page request is forward (after/first) or
// backward (before/last).
func (p *Pagination) Direction() (forward bool) {
	if p == nil {
		return true
	}
	return p.Before == "" && p.Last == nil
}

// Limit returns the effective row count, clamped to [1, 1000], default 100.
func (p *Pagination) Limit() int {
	if p == nil {
		return 100
	}
	n := p.First
	if n == nil {
		n = p.Last
	}
	if n == nil {
		return 100
	}
	if *n < 1 {
		return 1
	}
	if *n > 1000 {
		return 1000
	}
	return *n
}

// RequestSpec is the immutable, typed description of a single analytical
// request.
type RequestSpec struct {
	Table      Table
	Filters    Filters
	GroupBy    []Dimension
	Metrics    []Metric
	Sort       *Sort
	Pagination *Pagination
}

// IsAggregation is true iff groupBy or metrics is non-empty (§3 invariant).
func (r *RequestSpec) IsAggregation() bool {
	return len(r.GroupBy) > 0 || len(r.Metrics) > 0
}

// ComplexityRecord is the output of the complexity estimator (C6).
type ComplexityRecord struct {
	Score             float64
	EstimatedRows     int64
	BaseCost          float64
	GroupByMultiplier float64
	AggregationCost   float64
	Recommendations   []string
}

// ScanCursor encodes a scan page boundary as "slot:signature".
type ScanCursor struct {
	Slot      uint64
	Signature string
}

// EncodeScanCursor returns the opaque cursor token for a scan row.
func EncodeScanCursor(c ScanCursor) string {
	raw := fmt.Sprintf("%d:%s", c.Slot, c.Signature)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeScanCursor parses a scan cursor token. On malformed input it
// returns ok=false; callers must silently drop the cursor rather than error
// (§4.5: "on decode failure the cursor is silently dropped").
func DecodeScanCursor(token string) (c ScanCursor, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return c, false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return c, false
	}
	var slot uint64
	if _, err := fmt.Sscanf(parts[0], "%d", &slot); err != nil {
		return c, false
	}
	return ScanCursor{Slot: slot, Signature: parts[1]}, true
}

// AggregationCursor encodes a group-by key tuple plus a stability hash.
type AggregationCursor struct {
	Keys []string
	Hash string
}

// EncodeAggregationCursor returns the opaque cursor token for an
// aggregation row: "k1:v1|k2:v2|...|hash:h".
func EncodeAggregationCursor(c AggregationCursor) string {
	raw := strings.Join(c.Keys, "|") + "|hash:" + c.Hash
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeAggregationCursor parses an aggregation cursor token.
func DecodeAggregationCursor(token string) (c AggregationCursor, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return c, false
	}
	segs := strings.Split(string(raw), "|")
	if len(segs) < 1 {
		return c, false
	}
	last := segs[len(segs)-1]
	if !strings.HasPrefix(last, "hash:") {
		return c, false
	}
	return AggregationCursor{Keys: segs[:len(segs)-1], Hash: strings.TrimPrefix(last, "hash:")}, true
}
