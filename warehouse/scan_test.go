package warehouse

import (
	"reflect"
	"testing"
)

type fakeRows struct {
	values []interface{}
}

func (f *fakeRows) Scan(dest ...interface{}) error {
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(f.values[i]))
	}
	return nil
}

func TestToNamedParams(t *testing.T) {
	params := toNamedParams(map[string]interface{}{"slotMin": uint64(100)})
	if params["slotMin"] != "100" {
		t.Fatalf("toNamedParams = %v, want slotMin=100", params)
	}
}

func TestScanOneRowBuildsTaggedMap(t *testing.T) {
	rows := &fakeRows{values: []interface{}{"pump_fun", int64(42)}}
	cols := []string{"protocol", "count"}
	scanTypes := []reflect.Type{reflect.TypeOf(""), reflect.TypeOf(int64(0))}

	row, err := scanOneRow(rows, cols, scanTypes)
	if err != nil {
		t.Fatalf("scanOneRow: %v", err)
	}
	if row["protocol"] != "pump_fun" || row["count"] != int64(42) {
		t.Fatalf("row = %+v, want protocol=pump_fun count=42", row)
	}
}
