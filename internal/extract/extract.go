// Package extract loads portal extracts and assignment sheets from local
// files, HTTP, or FTP, and detects their column layout.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a parsed tabular extract: a header row plus data rows.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Options configures extract parsing.
type Options struct {
	// Delimiter for CSV sources; 0 means comma.
	Delimiter rune
	// Encoding of CSV sources: "" or "utf-8", or "windows-1252" for the
	// portal's legacy exports.
	Encoding string
}

// Open loads a tabular extract from src, which may be a local path, an
// http(s):// URL, or an ftp:// URL. Format is chosen by file extension
// (.xlsx vs everything-else-is-CSV).
func Open(ctx context.Context, src string, opts Options) (*Table, error) {
	path := src
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		local, cleanup, err := fetchHTTP(ctx, src)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = local
	case strings.HasPrefix(src, "ftp://"):
		local, cleanup, err := fetchFTP(ctx, src)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = local
	}

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", src)
	}
	defer f.Close() //nolint:errcheck

	return ReadCSV(f, opts)
}
