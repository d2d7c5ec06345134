package security

import "testing"

func TestValidateReadOnly(t *testing.T) {
	cases := []struct {
		name  string
		sql   string
		valid bool
	}{
		{"happy select", "SELECT * FROM transactions LIMIT 100", true},
		{"with cte", "WITH t AS (SELECT 1) SELECT * FROM t LIMIT 10", true},
		{"empty", "", false},
		{"no select prefix", "transactions LIMIT 10", false},
		{"drop keyword", "SELECT * FROM transactions; DROP TABLE transactions; LIMIT 10", false},
		{"delete keyword", "DELETE FROM transactions WHERE 1=1", false},
		{"missing limit", "SELECT * FROM transactions", false},
		{"limit too high", "SELECT * FROM transactions LIMIT 50000", false},
		{"multi statement", "SELECT 1 LIMIT 1; SELECT 2 LIMIT 1;", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ValidateReadOnly(c.sql)
			if got.Valid != c.valid {
				t.Fatalf("ValidateReadOnly(%q) = %+v, want valid=%v", c.sql, got, c.valid)
			}
		})
	}
}

func TestSanitizeTableName(t *testing.T) {
	if _, err := SanitizeTableName("transactions"); err != nil {
		t.Fatalf("expected transactions to be whitelisted: %v", err)
	}
	if _, err := SanitizeTableName("failed_transactions"); err != nil {
		t.Fatalf("expected failed_transactions to be whitelisted: %v", err)
	}
	if _, err := SanitizeTableName("users"); err == nil {
		t.Fatal("expected users to be rejected")
	}
	if _, err := SanitizeTableName("transactions; DROP TABLE transactions"); err == nil {
		t.Fatal("expected injected table name to be rejected")
	}
}

func TestValidateParams(t *testing.T) {
	if err := ValidateParams(map[string]interface{}{"protocol": "pump_fun"}); err != nil {
		t.Fatalf("expected benign param to pass: %v", err)
	}
	injections := []interface{}{
		"'; DROP TABLE transactions; --",
		"x' OR '1'='1",
		"x' UNION SELECT password FROM users",
		"/* comment */ SELECT",
	}
	for _, v := range injections {
		if err := ValidateParams(map[string]interface{}{"signature": v}); err == nil {
			t.Fatalf("expected injection to be rejected: %v", v)
		}
	}
	if err := ValidateParams(map[string]interface{}{"protocols": []string{"pump_fun", "'; DROP TABLE transactions; --"}}); err == nil {
		t.Fatal("expected array element injection to be rejected")
	}
}

func TestValidateParamsAllowsDestructiveWordsAsLegitimateValues(t *testing.T) {
	// Real SPL-Token instruction names collide with the destructive keyword
	// list as bare words; they must not be rejected as injection attempts.
	legit := []interface{}{"Revoke", "Create", "CreateAccount", "revoke delegate"}
	for _, v := range legit {
		if err := ValidateParams(map[string]interface{}{"instructionType": v}); err != nil {
			t.Fatalf("expected legitimate value %q to pass, got %v", v, err)
		}
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize("SELECT 1 -- trailing comment\n/* block */ FROM  transactions")
	if got == "" {
		t.Fatal("sanitize produced empty output")
	}
	for _, bad := range []string{"--", "/*", "*/"} {
		if contains(got, bad) {
			t.Fatalf("sanitized output still contains %q: %q", bad, got)
		}
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
