package warehouse

import (
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// scanner is the subset of driver.Rows that scanOneRow needs, declared
// locally so it can be exercised by tests against a fake.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRows materializes every remaining row into the tagged-map
// representation (§9: "dynamic field shapes on aggregation rows").
func scanRows(rows clickhouse.Rows) ([]Row, error) {
	cols := rows.Columns()
	scanTypes := columnScanTypes(rows.ColumnTypes())

	var out []Row
	for rows.Next() {
		row, err := scanOneRow(rows, cols, scanTypes)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func columnScanTypes(types []clickhouse.ColumnType) []reflect.Type {
	out := make([]reflect.Type, len(types))
	for i, t := range types {
		out[i] = t.ScanType()
	}
	return out
}

// scanOneRow scans the current row using each column's reported scan type,
// so a Request Spec carrying any combination of columns doesn't need a
// compile-time struct for every possible shape.
func scanOneRow(rows scanner, cols []string, scanTypes []reflect.Type) (Row, error) {
	ptrs := make([]interface{}, len(cols))
	for i, t := range scanTypes {
		ptrs[i] = reflect.New(t).Interface()
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cols))
	for i, name := range cols {
		row[name] = reflect.ValueOf(ptrs[i]).Elem().Interface()
	}
	return row, nil
}
