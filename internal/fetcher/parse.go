package fetcher

import (
	"bytes"

	"github.com/rotisserie/eris"
)

// Table is a parsed tabular payload. Header is the raw first row.
type Table struct {
	Format string
	Header []string
	Rows   [][]string
}

type tabularParser struct {
	name  string
	parse func(payload []byte) ([][]string, error)
}

// parsers are tried in order; the first that succeeds wins.
var parsers = []tabularParser{
	{name: "xlsx", parse: parseXLSX},
	{name: "xls", parse: parseXLS},
	{name: "delimited", parse: parseDelimited},
}

// ParseTabular decodes a payload as xlsx, legacy xls or delimited text, in
// that order. When every attempt fails the returned FormatError carries each
// attempt's failure.
func ParseTabular(payload []byte) (Table, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Table{}, &FormatError{Attempts: []error{eris.New("empty payload")}}
	}

	attempts := make([]error, 0, len(parsers))
	for _, p := range parsers {
		rows, err := p.parse(payload)
		if err == nil && len(rows) == 0 {
			err = eris.New("no header row")
		}
		if err != nil {
			attempts = append(attempts, eris.Wrap(err, p.name))
			continue
		}
		return Table{Format: p.name, Header: rows[0], Rows: rows[1:]}, nil
	}
	return Table{}, &FormatError{Attempts: attempts}
}

// trimTrailingBlankRows drops empty rows at the end of a sheet, which
// spreadsheet writers often leave behind.
func trimTrailingBlankRows(rows [][]string) [][]string {
	for len(rows) > 0 && isBlankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if len(bytes.TrimSpace([]byte(c))) > 0 {
			return false
		}
	}
	return true
}
