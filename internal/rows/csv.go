package rows

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// MaxHeaderSearchRows is how many leading rows are scanned for a
// non-empty header before giving up.
var MaxHeaderSearchRows = 20

// CSVSource reads rows from a CSV stream. The first non-empty row is the
// header; everything after it is data.
type CSVSource struct {
	reader  *csv.Reader
	columns []string
	ordinal int
	closer  io.Closer
}

// OpenCSV opens a CSV file as a row source. The caller owns Close.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	src, err := NewCSVSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSVSource wraps a reader as a row source. The stream is sanitized
// on the fly: a UTF-8 BOM is skipped and invalid byte sequences are
// replaced, so Windows exports import cleanly.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(newSanitizingReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	src := &CSVSource{reader: cr}
	if err := src.readHeader(); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *CSVSource) readHeader() error {
	for i := 0; i < MaxHeaderSearchRows; i++ {
		record, err := s.reader.Read()
		if err == io.EOF {
			return fmt.Errorf("csv has no header row")
		}
		if err != nil {
			return fmt.Errorf("read csv header: %w", err)
		}

		columns := make([]string, len(record))
		empty := true
		for i, cell := range record {
			columns[i] = CleanHeader(cell)
			if columns[i] != "" {
				empty = false
			}
		}
		if !empty {
			s.columns = columns
			return nil
		}
	}
	return fmt.Errorf("no header found in first %d rows", MaxHeaderSearchRows)
}

// Columns returns the header in file order.
func (s *CSVSource) Columns() []string { return s.columns }

// Next returns the next data row, or io.EOF when the file is exhausted.
func (s *CSVSource) Next() (Row, error) {
	record, err := s.reader.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	if err != nil {
		return Row{}, fmt.Errorf("read csv row %d: %w", s.ordinal+1, err)
	}

	s.ordinal++
	return NewRow(s.ordinal, s.columns, record), nil
}

// Close releases the underlying file, if any.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// sanitizingReader skips a leading UTF-8 BOM and replaces invalid UTF-8
// sequences with '?' as it streams, keeping memory use constant.
type sanitizingReader struct {
	br         *bufio.Reader
	bomChecked bool
}

func newSanitizingReader(r io.Reader) *sanitizingReader {
	return &sanitizingReader{br: bufio.NewReader(r)}
}

func (s *sanitizingReader) Read(p []byte) (int, error) {
	if !s.bomChecked {
		s.bomChecked = true
		if lead, err := s.br.Peek(3); err == nil && lead[0] == 0xEF && lead[1] == 0xBB && lead[2] == 0xBF {
			s.br.Discard(3)
		}
	}

	n := 0
	for n < len(p) {
		r, size, err := s.br.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if r == utf8.RuneError && size == 1 {
			r = '?'
		}
		if n+utf8.RuneLen(r) > len(p) {
			s.br.UnreadRune()
			return n, nil
		}
		n += utf8.EncodeRune(p[n:], r)
	}
	return n, nil
}
