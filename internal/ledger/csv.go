// Package ledger persists the per-row audit trail of an import run.
//
// The canonical ledger is a flat CSV file, one header row and one row per
// processed input row, flushed durably after every record so a crash
// mid-run leaves a trail consistent up to the last completed row. An
// optional Postgres mirror keeps run history queryable after the fact.
package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/mwestcott/b24import/internal/importer"
)

// Header is the column layout of the ledger file.
var Header = []string{
	"row",
	"dedup_value",
	"primary_payload",
	"primary_outcome",
	"dependent_payload",
	"dependent_outcome",
}

// CSVLedger writes records to a CSV file, append-only, single writer.
// It is not safe for concurrent use; the import loop is sequential by
// design, so it never needs to be.
type CSVLedger struct {
	path string
	file *os.File
	w    *csv.Writer
}

// NewCSV creates the ledger file, truncating any previous file at the
// same path, and writes the header row.
func NewCSV(path string) (*CSVLedger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}

	l := &CSVLedger{path: path, file: f, w: csv.NewWriter(f)}
	if err := l.w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write ledger header: %w", err)
	}
	if err := l.flush(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Append writes one record and flushes it to disk before returning.
// Records arrive in row order and are never rewritten.
func (l *CSVLedger) Append(rec importer.Record) error {
	row := []string{
		strconv.Itoa(rec.Ordinal),
		rec.DedupValue,
		marshalPayload(rec.PrimaryPayload),
		rec.PrimaryRef.Outcome(),
		marshalPayload(rec.DependentPayload),
		rec.DependentRef.Outcome(),
	}

	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write ledger record %d: %w", rec.Ordinal, err)
	}
	return l.flush()
}

func (l *CSVLedger) flush() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Path returns the ledger file location.
func (l *CSVLedger) Path() string { return l.path }

// Close flushes and closes the ledger file.
func (l *CSVLedger) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// marshalPayload serializes a payload for a ledger cell. A nil payload
// (build failure) serializes as an empty object rather than "null".
func marshalPayload(p importer.Payload) string {
	if len(p) == 0 {
		return "{}"
	}
	data, err := json.Marshal(p)
	if err != nil {
		// Payload values are strings and []MultiValue; marshal cannot
		// realistically fail, but never lose a ledger row over it.
		return fmt.Sprintf("%v", map[string]any(p))
	}
	return string(data)
}

// Tee fans records out to several ledgers; the first failure wins.
func Tee(ledgers ...importer.Ledger) importer.Ledger {
	return teeLedger(ledgers)
}

type teeLedger []importer.Ledger

func (t teeLedger) Append(rec importer.Record) error {
	for _, l := range t {
		if err := l.Append(rec); err != nil {
			return err
		}
	}
	return nil
}
