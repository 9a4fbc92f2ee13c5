package fetcher

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/laborwatch/compliance-cli/internal/model"
)

// record is one parsed source row, keyed by lowercased column header (CSV,
// XLSX) or object key (JSON).
type record map[string]string

// parseRecords dispatches on the source's declared format.
func parseRecords(format model.SourceFormat, data []byte) ([]record, error) {
	switch format {
	case model.FormatCSV:
		return parseCSVRecords(data)
	case model.FormatJSON:
		return parseJSONRecords(data)
	case model.FormatXLSX:
		return parseXLSXRecords(data)
	default:
		return nil, eris.Errorf("fetcher: unknown source format %q", format)
	}
}

func parseCSVRecords(data []byte) ([]record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read csv")
	}
	if len(rows) < 2 {
		return nil, eris.New("fetcher: csv has no data rows")
	}

	header := normalizeHeader(rows[0])
	out := make([]record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, rowToRecord(header, row))
	}
	return out, nil
}

func parseJSONRecords(data []byte) ([]record, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		// Some feeds wrap the array in a top-level object.
		var wrapped struct {
			Data []map[string]any `json:"data"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil || wrapped.Data == nil {
			return nil, eris.Wrap(err, "fetcher: parse json")
		}
		raw = wrapped.Data
	}

	out := make([]record, 0, len(raw))
	for _, obj := range raw {
		rec := make(record, len(obj))
		for k, v := range obj {
			rec[strings.ToLower(strings.TrimSpace(k))] = toString(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseXLSXRecords(data []byte) ([]record, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("fetcher: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.New("fetcher: xlsx has no data rows")
	}

	header := normalizeHeader(cellStrings(sheet.Rows[0]))
	out := make([]record, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		out = append(out, rowToRecord(header, cellStrings(row)))
	}
	return out, nil
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		cells[i] = c.String()
	}
	return cells
}

func normalizeHeader(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return out
}

func rowToRecord(header, row []string) record {
	rec := make(record, len(header))
	for i, col := range header {
		if i < len(row) {
			rec[col] = strings.TrimSpace(row[i])
		}
	}
	return rec
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// Avoid scientific notation for the numeric fields feeds send as numbers.
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", t), "0"), ".")
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
