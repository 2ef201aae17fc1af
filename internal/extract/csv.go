package extract

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ReadCSV parses a CSV extract into a Table. The first row is the header.
// Rows with a different field count than the header are padded or truncated
// rather than rejected; portal exports are not strict about trailing fields.
func ReadCSV(r io.Reader, opts Options) (*Table, error) {
	switch strings.ToLower(opts.Encoding) {
	case "", "utf-8", "utf8":
	case "windows-1252", "cp1252", "latin1", "iso-8859-1":
		r = transform.NewReader(r, charmap.Windows1252.NewDecoder())
	default:
		return nil, eris.Errorf("extract: unsupported encoding %q", opts.Encoding)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("extract: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "extract: read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	tbl := &Table{Columns: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "extract: read row")
		}
		tbl.Rows = append(tbl.Rows, normalizeRow(record, len(header)))
	}

	return tbl, nil
}

func normalizeRow(record []string, width int) []string {
	row := make([]string, width)
	for i := 0; i < width && i < len(record); i++ {
		row[i] = strings.TrimSpace(record[i])
	}
	return row
}
