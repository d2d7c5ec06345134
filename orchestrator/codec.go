package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/solix/warehouse-gateway/warehouse"
)

// cachedPage is the JSON envelope written to both cache tiers.
type cachedPage struct {
	Rows     []warehouse.Row `json:"rows"`
	Cursors  []string        `json:"cursors"`
	PageInfo PageInfo        `json:"pageInfo"`
}

func encodeCachedResult(rows []warehouse.Row, cursors []string, pageInfo PageInfo) (string, error) {
	b, err := json.Marshal(cachedPage{Rows: rows, Cursors: cursors, PageInfo: pageInfo})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCachedResult(raw string) ([]warehouse.Row, []string, PageInfo, error) {
	var cp cachedPage
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, nil, PageInfo{}, err
	}
	return cp.Rows, cp.Cursors, cp.PageInfo, nil
}

func toStringFmt(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// hashRow derives a stable tag for a row's values, used as the aggregation
// cursor's trailing hash component so group-by tuples compare cheaply
// without re-encoding every dimension value.
func hashRow(row warehouse.Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var h int32
	for _, k := range keys {
		for _, c := range k {
			h = (h << 5) - h + int32(c)
		}
		for _, c := range fmt.Sprintf("%v", row[k]) {
			h = (h << 5) - h + int32(c)
		}
	}
	if h < 0 {
		h = -h
	}
	return fmt.Sprintf("%x", uint32(h))
}
