package queryspec

import "testing"

func TestScanCursorRoundTrip(t *testing.T) {
	c := ScanCursor{Slot: 12345, Signature: "abc123"}
	token := EncodeScanCursor(c)
	got, ok := DecodeScanCursor(token)
	if !ok {
		t.Fatal("expected successful decode")
	}
	if got != c {
		t.Fatalf("DecodeScanCursor round-trip = %+v, want %+v", got, c)
	}
}

func TestDecodeScanCursorMalformedDropsSilently(t *testing.T) {
	if _, ok := DecodeScanCursor("not-base64!!!"); ok {
		t.Fatal("expected ok=false for malformed cursor")
	}
	if _, ok := DecodeScanCursor("aGVsbG8="); ok { // "hello", no colon separator
		t.Fatal("expected ok=false for cursor missing separator")
	}
}

func TestAggregationCursorRoundTrip(t *testing.T) {
	c := AggregationCursor{Keys: []string{"protocol:pump_fun", "date:2026-01-01"}, Hash: "a1b2"}
	token := EncodeAggregationCursor(c)
	got, ok := DecodeAggregationCursor(token)
	if !ok {
		t.Fatal("expected successful decode")
	}
	if len(got.Keys) != 2 || got.Keys[0] != c.Keys[0] || got.Hash != c.Hash {
		t.Fatalf("DecodeAggregationCursor round-trip = %+v, want %+v", got, c)
	}
}

func TestPaginationLimitClamps(t *testing.T) {
	cases := []struct {
		name string
		p    *Pagination
		want int
	}{
		{"nil pagination defaults to 100", nil, 100},
		{"first within range", &Pagination{First: intPtr(250)}, 250},
		{"first clamped to 1000", &Pagination{First: intPtr(5000)}, 1000},
		{"first clamped to 1", &Pagination{First: intPtr(0)}, 1},
		{"last used when first absent", &Pagination{Last: intPtr(50)}, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.Limit(); got != tc.want {
				t.Fatalf("Limit() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPaginationDirection(t *testing.T) {
	if !(&Pagination{}).Direction() {
		t.Fatal("expected default pagination to be forward")
	}
	if (&Pagination{Before: "x"}).Direction() {
		t.Fatal("expected Before set to mean backward")
	}
	last := 10
	if (&Pagination{Last: &last}).Direction() {
		t.Fatal("expected Last set to mean backward")
	}
}

func TestIsAggregation(t *testing.T) {
	r := &RequestSpec{}
	if r.IsAggregation() {
		t.Fatal("expected bare spec to not be an aggregation")
	}
	r.Metrics = []Metric{MetricCount}
	if !r.IsAggregation() {
		t.Fatal("expected spec with metrics to be an aggregation")
	}
}

func intPtr(n int) *int { return &n }
