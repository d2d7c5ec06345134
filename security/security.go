// Package security implements the gateway's query safety boundary (C1):
// table whitelisting, read-only SQL validation, and parameter scrubbing.
// It is the only place in the module allowed to reason about raw SQL text.
package security

import (
	"regexp"
	"strings"

	"github.com/solix/warehouse-gateway/gwerr"
)

// AllowedTables is the closed set of queryable warehouse tables.
var AllowedTables = map[string]bool{
	"transactions":        true,
	"failed_transactions": true,
}

// destructiveKeywords must never appear as a whole word in emitted or
// passthrough SQL. SHOW/DESCRIBE/EXPLAIN/SYSTEM are included because they
// leak schema or control-plane state outside this gateway's remit.
var destructiveKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE",
	"REPLACE", "MERGE", "GRANT", "REVOKE", "KILL", "OPTIMIZE", "ATTACH",
	"DETACH", "EXCHANGE", "RENAME", "SYSTEM", "SHOW", "DESCRIBE", "EXPLAIN",
}

var keywordPattern = buildKeywordPattern(destructiveKeywords)

func buildKeywordPattern(keywords []string) *regexp.Regexp {
	escaped := make([]string, len(keywords))
	for i, k := range keywords {
		escaped[i] = regexp.QuoteMeta(k)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

var (
	limitClausePattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)
	lineCommentPattern = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	whitespacePattern   = regexp.MustCompile(`\s+`)

	// paramInjectionPatterns matches only the shapes a parameter value has
	// no legitimate reason to take (§4.1): a statement-terminating DDL/DML
	// keyword, the classic tautology, a piggybacked UNION SELECT, or a
	// comment opener. It deliberately does NOT scan for bare destructive
	// keywords: real filter values (e.g. an SPL-Token instructionType of
	// "Revoke" or "Create") can legitimately contain one as a whole word.
	paramInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i);\s*(DROP|DELETE|UPDATE|INSERT|ALTER|TRUNCATE)`),
		regexp.MustCompile(`(?i)'\s*OR\s*'1'\s*=\s*'1`),
		regexp.MustCompile(`(?i)'\s*UNION\s*SELECT`),
		regexp.MustCompile(`/\*[\s\S]*?\*/`),
		regexp.MustCompile(`--`),
	}

	maxSQLLength = 100_000
	maxLimitValue = 10_000
)

// ValidationResult is the outcome of validateReadOnly.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// ValidateReadOnly applies the read-only/safety ruleset to a raw SQL string
// in the order specified: non-empty, SELECT/WITH prefix, no destructive
// keyword, bounded length, at most one terminating statement, and a bounded
// LIMIT clause.
func ValidateReadOnly(sql string) ValidationResult {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return ValidationResult{Valid: false, Reason: "empty query"}
	}

	normalized := strings.ToUpper(trimmed)
	if !strings.HasPrefix(normalized, "SELECT") && !strings.HasPrefix(normalized, "WITH") {
		return ValidationResult{Valid: false, Reason: "query must start with SELECT or WITH"}
	}

	if m := keywordPattern.FindString(trimmed); m != "" {
		return ValidationResult{Valid: false, Reason: "destructive keyword not permitted: " + strings.ToUpper(m)}
	}

	if len(trimmed) > maxSQLLength {
		return ValidationResult{Valid: false, Reason: "query exceeds maximum length"}
	}

	if strings.Count(strings.TrimRight(trimmed, ";"), ";") > 0 {
		return ValidationResult{Valid: false, Reason: "multiple statements are not permitted"}
	}

	match := limitClausePattern.FindStringSubmatch(trimmed)
	if match == nil {
		return ValidationResult{Valid: false, Reason: "query must include a bounded LIMIT clause"}
	}
	limit, err := parseLimit(match[1])
	if err != nil || limit > maxLimitValue {
		return ValidationResult{Valid: false, Reason: "LIMIT exceeds maximum of 10000"}
	}

	return ValidationResult{Valid: true}
}

func parseLimit(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, gwerr.New(gwerr.KindQuerySecurity, "non-numeric LIMIT")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// SanitizeTableName resolves a requested table name against the whitelist.
func SanitizeTableName(table string) (string, error) {
	t := strings.TrimSpace(table)
	if !AllowedTables[t] {
		return "", gwerr.Newf(gwerr.KindQuerySecurity, "table %q is not in the whitelist", table)
	}
	return t, nil
}

// ValidateParams rejects string parameter values carrying injection
// fingerprints. Slices are checked element-wise.
func ValidateParams(params map[string]interface{}) error {
	for name, v := range params {
		if err := validateParamValue(name, v); err != nil {
			return err
		}
	}
	return nil
}

func validateParamValue(name string, v interface{}) error {
	switch val := v.(type) {
	case string:
		for _, p := range paramInjectionPatterns {
			if p.MatchString(val) {
				return gwerr.Newf(gwerr.KindQuerySecurity, "parameter %q contains a disallowed pattern", name)
			}
		}
	case []string:
		for _, s := range val {
			if err := validateParamValue(name, s); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, el := range val {
			if err := validateParamValue(name, el); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sanitize strips line and block comments and collapses whitespace. It is
// applied to free-text SQL before validation so that commented-out
// destructive keywords cannot hide from the keyword scan.
func Sanitize(sql string) string {
	s := lineCommentPattern.ReplaceAllString(sql, "")
	s = blockCommentPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
