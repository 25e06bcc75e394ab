package rows

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXSource reads rows from the first sheet of an Excel workbook.
// The whole sheet is loaded up front; workbook row iteration is cheap
// compared to the remote calls each row triggers.
type XLSXSource struct {
	columns []string
	data    [][]string
	pos     int
	ordinal int
}

// OpenXLSX opens an .xlsx workbook as a row source.
func OpenXLSX(path string) (*XLSXSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	return newXLSXSource(f)
}

// NewXLSXSource reads a workbook from a stream (e.g. an upload body).
func NewXLSXSource(r io.Reader) (*XLSXSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	return newXLSXSource(f)
}

func newXLSXSource(f *excelize.File) (*XLSXSource, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	headerIdx := -1
	for i := 0; i < len(all) && i < MaxHeaderSearchRows; i++ {
		for _, cell := range all[i] {
			if CleanHeader(cell) != "" {
				headerIdx = i
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("no header found in sheet %q", sheets[0])
	}

	columns := make([]string, len(all[headerIdx]))
	for i, cell := range all[headerIdx] {
		columns[i] = CleanHeader(cell)
	}

	return &XLSXSource{columns: columns, data: all[headerIdx+1:]}, nil
}

// Columns returns the header in sheet order.
func (s *XLSXSource) Columns() []string { return s.columns }

// Next returns the next data row, or io.EOF when the sheet is exhausted.
func (s *XLSXSource) Next() (Row, error) {
	if s.pos >= len(s.data) {
		return Row{}, io.EOF
	}

	cells := s.data[s.pos]
	s.pos++
	s.ordinal++
	return NewRow(s.ordinal, s.columns, cells), nil
}

// Close implements io.Closer; the workbook is fully read at open time.
func (s *XLSXSource) Close() error { return nil }

// Open opens a row source by file extension: .csv, .xlsx or .xls.
func Open(path string) (Source, io.Closer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		src, err := OpenCSV(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	case ".xlsx", ".xls":
		src, err := OpenXLSX(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}
