package fetcher

import (
	"bytes"

	"github.com/extrame/xls"
	"github.com/rotisserie/eris"
)

func parseXLS(payload []byte) (rows [][]string, err error) {
	// The BIFF reader panics on some malformed records.
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, eris.Errorf("corrupt workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(payload), "utf-8")
	if err != nil {
		return nil, eris.Wrap(err, "open workbook")
	}
	if wb.NumSheets() == 0 {
		return nil, eris.New("workbook has no sheets")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, eris.New("first sheet is unreadable")
	}

	rows = make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return trimTrailingBlankRows(rows), nil
}
