// Package rows supplies the tabular row sources the import engine
// consumes: CSV files and Excel workbooks, exposed behind one interface.
package rows

import "strings"

// Row is an immutable snapshot of one data row keyed by column name.
type Row struct {
	// Ordinal is the 1-based position among data rows (header excluded).
	// Fully empty rows still consume an ordinal so ledger records line
	// up with the source file.
	Ordinal int

	columns []string
	values  map[string]string
}

// NewRow builds a row from a header and raw cells. Cells beyond the
// header width are dropped; missing trailing cells read as empty.
func NewRow(ordinal int, columns []string, cells []string) Row {
	values := make(map[string]string, len(columns))
	for i, col := range columns {
		if col == "" {
			continue
		}
		if i < len(cells) {
			values[col] = CleanCell(cells[i])
		}
	}
	return Row{Ordinal: ordinal, columns: columns, values: values}
}

// Get returns the cleaned cell value for a column. The second return is
// false when the column is absent from the source header.
func (r Row) Get(column string) (string, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Columns returns the header in source order.
func (r Row) Columns() []string { return r.columns }

// IsEmpty reports whether every cell in the row is blank.
func (r Row) IsEmpty() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}

// Source produces a finite, single-pass sequence of rows with a stable
// column set. Next returns io.EOF after the last row.
type Source interface {
	// Columns returns the header of the dataset.
	Columns() []string

	// Next returns the next data row, or io.EOF when exhausted.
	Next() (Row, error)
}

// CleanCell normalizes one raw cell value: trims whitespace, strips the
// Excel formula-literal wrapper (="...") and zero-width characters that
// spreadsheet exports leave behind.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	// Excel exports text-formatted cells as ="value"
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	if strings.ContainsAny(s, "\u200B\uFEFF\u00A0") {
		s = strings.Map(func(r rune) rune {
			switch r {
			case '\u200B', '\uFEFF': // zero-width space, stray BOM
				return -1
			case '\u00A0': // non-breaking space
				return ' '
			}
			return r
		}, s)
	}

	return strings.TrimSpace(s)
}

// CleanHeader normalizes a header cell for column matching.
func CleanHeader(s string) string {
	return CleanCell(s)
}
