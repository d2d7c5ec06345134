package compiler

import (
	"fmt"
	"strings"

	"github.com/solix/warehouse-gateway/queryspec"
)

// compileFilters emits WHERE clauses in the selectivity order mandated by
// §4.5 step 2: signature, program_id, date range, slot range, protocol,
// instruction_type, success, fee range, compute_units range, accounts_count
// range, then the failed-only LIKE filters. Every bound value is a named
// parameter; none are ever inlined.
func compileFilters(spec *queryspec.RequestSpec, table string) (string, map[string]interface{}, error) {
	f := spec.Filters
	params := map[string]interface{}{}
	var clauses []string

	if len(f.Signature) > 0 {
		clauses = append(clauses, setClause("signature", "signature", f.Signature, params))
	}
	if len(f.ProgramID) > 0 {
		clauses = append(clauses, setClause("program_id", "programId", f.ProgramID, params))
	}
	if f.Date != nil {
		clauses = append(clauses, dateRangeClause("date", "date", f.Date, params)...)
	}
	if f.Slot != nil {
		clauses = append(clauses, rangeClause("slot", "slot", f.Slot, params)...)
	}
	if len(f.Protocol) > 0 {
		clauses = append(clauses, setClause("protocol_name", "protocol", f.Protocol, params))
	}
	if len(f.InstructionType) > 0 {
		clauses = append(clauses, setClause("instruction_type", "instructionType", f.InstructionType, params))
	}
	if f.Success != nil {
		clauses = append(clauses, "success = :success")
		params["success"] = *f.Success
	}
	if f.Fee != nil {
		clauses = append(clauses, rangeClause("fee", "fee", f.Fee, params)...)
	}
	if f.ComputeUnits != nil {
		clauses = append(clauses, rangeClause("compute_units", "computeUnits", f.ComputeUnits, params)...)
	}
	if f.AccountsCount != nil {
		clauses = append(clauses, rangeClause("accounts_count", "accountsCount", f.AccountsCount, params)...)
	}
	if table == string(queryspec.TableFailedTransactions) {
		if f.ErrorPattern != "" {
			clauses = append(clauses, "error_message LIKE :errorPattern")
			params["errorPattern"] = f.ErrorPattern
		}
		if f.LogMessage != "" {
			clauses = append(clauses, "log_messages LIKE :logMessage")
			params["logMessage"] = f.LogMessage
		}
	}

	return strings.Join(clauses, " AND "), params, nil
}

// setClause compiles a set-valued filter: a single element binds `=`, more
// than one binds `IN`.
func setClause(column, paramPrefix string, values []string, params map[string]interface{}) string {
	if len(values) == 1 {
		name := paramPrefix
		params[name] = values[0]
		return fmt.Sprintf("%s = :%s", column, name)
	}
	names := make([]string, len(values))
	for i, v := range values {
		name := fmt.Sprintf("%s%d", paramPrefix, i)
		params[name] = v
		names[i] = ":" + name
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(names, ", "))
}

func rangeClause(column, paramPrefix string, r *queryspec.RangeFilter, params map[string]interface{}) []string {
	var out []string
	if r.Min != nil {
		name := paramPrefix + "Min"
		params[name] = *r.Min
		out = append(out, fmt.Sprintf("%s >= :%s", column, name))
	}
	if r.Max != nil {
		name := paramPrefix + "Max"
		params[name] = *r.Max
		out = append(out, fmt.Sprintf("%s <= :%s", column, name))
	}
	return out
}

func dateRangeClause(column, paramPrefix string, r *queryspec.DateRangeFilter, params map[string]interface{}) []string {
	var out []string
	if r.Start != nil {
		name := paramPrefix + "Start"
		params[name] = *r.Start
		out = append(out, fmt.Sprintf("%s >= :%s", column, name))
	}
	if r.End != nil {
		name := paramPrefix + "End"
		params[name] = *r.End
		out = append(out, fmt.Sprintf("%s <= :%s", column, name))
	}
	return out
}
