package fetcher

import (
	"regexp"
	"strings"

	"github.com/sells-group/lead-sync/internal/model"
)

// floatID matches integers that a spreadsheet rendered as floats, e.g. "42.0".
var floatID = regexp.MustCompile(`^(-?\d+)\.0+$`)

// NormalizeColumn lowercases and trims a header name.
func NormalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ToRecords maps table rows onto normalized column names. Blank header cells
// and fully blank rows are dropped; a repeated column keeps its first
// occurrence. Missing required columns yield a SchemaError listing all of them.
func ToRecords(t Table) ([]model.RawLeadRecord, error) {
	type column struct {
		name  string
		index int
	}

	var cols []column
	seen := make(map[string]bool, len(t.Header))
	for i, h := range t.Header {
		name := NormalizeColumn(h)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, column{name: name, index: i})
	}

	var missing []string
	for _, req := range model.RequiredColumns {
		if !seen[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}

	records := make([]model.RawLeadRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		if isBlankRow(row) {
			continue
		}
		values := make([]string, len(cols))
		for i, c := range cols {
			if c.index < len(row) {
				values[i] = strings.TrimSpace(row[c.index])
			}
		}
		rec := model.NewRawLeadRecord(names, values)
		rec.Values[model.ColumnID] = normalizeID(rec.Values[model.ColumnID])
		records = append(records, rec)
	}
	return records, nil
}

func normalizeID(id string) string {
	if m := floatID.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	return id
}
