package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/solix/warehouse-gateway/gwerr"
	"github.com/solix/warehouse-gateway/warehouse"
)

// rowWriter streams warehouse rows to the underlying (compressed) sink in
// one of the supported export formats.
type rowWriter interface {
	Write(row warehouse.Row) error
	Close() error
}

func newRowWriter(format Format, w io.Writer) (rowWriter, error) {
	switch format {
	case FormatCSV:
		return &csvRowWriter{w: csv.NewWriter(w)}, nil
	case FormatJSONL:
		return &jsonlRowWriter{enc: json.NewEncoder(w)}, nil
	default:
		// PARQUET is accepted as a request value (per the external schema
		// contract's closed format set) and by Submit, but rejected here,
		// when the job starts writing, so the job ends FAILED — no
		// parquet writer appears anywhere in the retrieval pack, and a
		// hand-rolled column encoder is not worth the risk of corrupting
		// export files no one can detect short of opening them.
		return nil, gwerr.Newf(gwerr.KindExportJobCreation, "unsupported export format %q", format)
	}
}

type csvRowWriter struct {
	w      *csv.Writer
	header []string
}

func (c *csvRowWriter) Write(row warehouse.Row) error {
	if c.header == nil {
		c.header = sortedKeys(row)
		if err := c.w.Write(c.header); err != nil {
			return err
		}
	}
	record := make([]string, len(c.header))
	for i, k := range c.header {
		record[i] = fmt.Sprintf("%v", row[k])
	}
	return c.w.Write(record)
}

func (c *csvRowWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}

type jsonlRowWriter struct {
	enc *json.Encoder
}

func (j *jsonlRowWriter) Write(row warehouse.Row) error {
	return j.enc.Encode(row)
}

func (j *jsonlRowWriter) Close() error {
	return nil
}

func sortedKeys(row warehouse.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
