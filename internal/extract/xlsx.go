package extract

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX parses the first sheet of an XLSX workbook into a Table.
func ReadXLSX(path string) (*Table, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open xlsx %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("extract: xlsx %s has no sheets", path)
	}

	sheet := wb.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("extract: xlsx %s sheet %s is empty", path, sheet.Name)
	}

	header := cellValues(sheet.Rows[0])
	tbl := &Table{Columns: header}

	for _, row := range sheet.Rows[1:] {
		values := normalizeRow(cellValues(row), len(header))
		if blankRow(values) {
			continue
		}
		tbl.Rows = append(tbl.Rows, values)
	}

	return tbl, nil
}

func cellValues(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		out[i] = strings.TrimSpace(cell.String())
	}
	return out
}

func blankRow(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}
