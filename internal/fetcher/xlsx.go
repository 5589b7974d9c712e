package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

func parseXLSX(payload []byte) ([][]string, error) {
	f, err := xlsx.OpenBinary(payload)
	if err != nil {
		return nil, eris.Wrap(err, "open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("workbook has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return trimTrailingBlankRows(rows), nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
