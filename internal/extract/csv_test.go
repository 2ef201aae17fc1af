package extract

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestReadCSV(t *testing.T) {
	in := strings.NewReader("First Name,Property Zip,Email\nDana,73101,dana@example.com\nMarcus,73102,marcus@example.com\n")

	tbl, err := ReadCSV(in, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"First Name", "Property Zip", "Email"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"Dana", "73101", "dana@example.com"}, tbl.Rows[0])
}

func TestReadCSVStripsBOM(t *testing.T) {
	in := strings.NewReader("\uFEFFFirst Name,Property Zip\nDana,73101\n")

	tbl, err := ReadCSV(in, Options{})
	require.NoError(t, err)
	assert.Equal(t, "First Name", tbl.Columns[0])
}

func TestReadCSVPadsAndTruncatesRaggedRows(t *testing.T) {
	in := strings.NewReader("a,b,c\n1,2\n1,2,3,4\n")

	tbl, err := ReadCSV(in, Options{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"1", "2", ""}, tbl.Rows[0])
	assert.Equal(t, []string{"1", "2", "3"}, tbl.Rows[1])
}

func TestReadCSVWindows1252(t *testing.T) {
	// "Muñoz" encoded as Windows-1252.
	encoded, err := charmap.Windows1252.NewEncoder().Bytes([]byte("Last Name,Property Zip\nMuñoz,73101\n"))
	require.NoError(t, err)

	tbl, err := ReadCSV(bytes.NewReader(encoded), Options{Encoding: "windows-1252"})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Muñoz", tbl.Rows[0][0])
}

func TestReadCSVUnsupportedEncoding(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a\n1\n"), Options{Encoding: "ebcdic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported encoding")
}

func TestReadCSVEmptyFile(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), Options{})
	require.Error(t, err)
}

func TestReadCSVCustomDelimiter(t *testing.T) {
	in := strings.NewReader("a|b\n1|2\n")

	tbl, err := ReadCSV(in, Options{Delimiter: '|'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, []string{"1", "2"}, tbl.Rows[0])
}
