package importer

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/mwestcott/b24import/internal/mapping"
	"github.com/mwestcott/b24import/internal/rows"
)

// sliceSource serves rows from memory.
type sliceSource struct {
	columns []string
	rows    []rows.Row
	pos     int
}

func newSliceSource(columns []string, data ...map[string]string) *sliceSource {
	s := &sliceSource{columns: columns}
	for i, cells := range data {
		values := make([]string, len(columns))
		for j, col := range columns {
			values[j] = cells[col]
		}
		s.rows = append(s.rows, rows.NewRow(i+1, columns, values))
	}
	return s
}

func (s *sliceSource) Columns() []string { return s.columns }

func (s *sliceSource) Next() (rows.Row, error) {
	if s.pos >= len(s.rows) {
		return rows.Row{}, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

// memLedger collects records in memory.
type memLedger struct {
	records []Record
	err     error
}

func (l *memLedger) Append(rec Record) error {
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, rec)
	return nil
}

func testMapping() *mapping.Document {
	return &mapping.Document{
		Primary: mapping.Table{
			"name":  {Field: "NAME"},
			"email": {Field: "EMAIL", Subtype: "WORK"},
			"phone": {Field: "PHONE", Subtype: "MOBILE"},
		},
		Dependent: mapping.Table{
			"deal_title": {Field: "TITLE"},
			"amount":     {Field: "OPPORTUNITY"},
		},
		DedupColumn: "email",
	}
}

func newTestRunner(t *testing.T, store *fakeStore, led *memLedger) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{
		Store:            store,
		Ledger:           led,
		Mapping:          testMapping(),
		PrimaryEntity:    "contact",
		PrimaryCatalog:   contactCatalog(t),
		DependentEntity:  "deal",
		DependentCatalog: dealCatalog(t),
		CategoryID:       "4",
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestRunCreatesLinkedEntities(t *testing.T) {
	store := newFakeStore()
	led := &memLedger{}
	r := newTestRunner(t, store, led)

	src := newSliceSource(
		[]string{"name", "email", "phone", "deal_title", "amount"},
		map[string]string{"name": "Alice", "email": "a@x.com", "phone": "1,2", "deal_title": "Deal A", "amount": "100"},
	)

	summary, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.PrimaryCreated != 1 || summary.DependentsMade != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(led.records) != 1 {
		t.Fatalf("got %d ledger records, want 1", len(led.records))
	}

	rec := led.records[0]
	if rec.PrimaryRef.Status != StatusCreated || rec.PrimaryRef.ID == "" {
		t.Errorf("primary ref = %+v", rec.PrimaryRef)
	}
	if rec.DependentRef.Status != StatusCreated {
		t.Errorf("dependent ref = %+v", rec.DependentRef)
	}

	// The dependent payload must carry the category and the link.
	deal := store.created["deal"][0]
	if deal["CATEGORY_ID"] != "4" {
		t.Errorf("CATEGORY_ID = %v, want 4", deal["CATEGORY_ID"])
	}
	if deal["CONTACT_ID"] != rec.PrimaryRef.ID {
		t.Errorf("CONTACT_ID = %v, want %s", deal["CONTACT_ID"], rec.PrimaryRef.ID)
	}
}

func TestRunDedupReusesExisting(t *testing.T) {
	store := newFakeStore()
	led := &memLedger{}
	r := newTestRunner(t, store, led)

	src := newSliceSource(
		[]string{"name", "email", "deal_title"},
		map[string]string{"name": "Bob", "email": "b@x.com", "deal_title": "First"},
		map[string]string{"name": "Bobby", "email": "b@x.com", "deal_title": "Second"},
	)

	summary, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.PrimaryCreated != 1 || summary.PrimaryFound != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(led.records) != 2 {
		t.Fatalf("got %d records, want 2", len(led.records))
	}

	first, second := led.records[0], led.records[1]
	if first.PrimaryRef.Status != StatusCreated {
		t.Errorf("first primary = %+v", first.PrimaryRef)
	}
	if second.PrimaryRef.Status != StatusFound {
		t.Errorf("second primary = %+v", second.PrimaryRef)
	}
	if first.PrimaryRef.ID != second.PrimaryRef.ID {
		t.Errorf("ids differ: %q vs %q", first.PrimaryRef.ID, second.PrimaryRef.ID)
	}

	// Both deals link to the same contact.
	if summary.DependentsMade != 2 {
		t.Errorf("dependents made = %d, want 2", summary.DependentsMade)
	}
}

func TestRunEmptyDedupValueSkipsLookup(t *testing.T) {
	store := newFakeStore()
	led := &memLedger{}
	r := newTestRunner(t, store, led)

	src := newSliceSource(
		[]string{"name", "email", "deal_title"},
		map[string]string{"name": "NoMail", "deal_title": "D"},
	)

	if _, err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if store.queries != 0 {
		t.Errorf("issued %d dedup queries for empty value, want 0", store.queries)
	}
	if led.records[0].PrimaryRef.Status != StatusCreated {
		t.Errorf("primary = %+v, want created without lookup", led.records[0].PrimaryRef)
	}
}

func TestRunCreationFailureSkipsDependent(t *testing.T) {
	store := newFakeStore()
	store.failCreates = 1 // primary create returns no identifier
	led := &memLedger{}
	r := newTestRunner(t, store, led)

	src := newSliceSource(
		[]string{"name", "email", "deal_title"},
		map[string]string{"name": "Fail", "email": "f@x.com", "deal_title": "D"},
		map[string]string{"name": "Next", "email": "n@x.com", "deal_title": "E"},
	)

	summary, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("run must not abort on a row failure: %v", err)
	}

	first := led.records[0]
	if first.PrimaryRef.Status != StatusFailed || first.PrimaryRef.ID != "" {
		t.Errorf("first primary = %+v", first.PrimaryRef)
	}
	if first.DependentRef.Status != StatusSkipped {
		t.Errorf("first dependent = %+v, want skipped", first.DependentRef)
	}

	// The run proceeded: the second row imported normally.
	second := led.records[1]
	if second.PrimaryRef.Status != StatusCreated || second.DependentRef.Status != StatusCreated {
		t.Errorf("second row = %+v / %+v", second.PrimaryRef, second.DependentRef)
	}
	if summary.PrimaryFailed != 1 || summary.DependentsSkips != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunLookupErrorIsRowScoped(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("503 unavailable")
	led := &memLedger{}
	r := newTestRunner(t, store, led)

	src := newSliceSource(
		[]string{"name", "email", "deal_title"},
		map[string]string{"name": "A", "email": "a@x.com", "deal_title": "D"},
	)

	if _, err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := led.records[0]
	if rec.PrimaryRef.Status != StatusFailed {
		t.Errorf("primary = %+v, want creation-failed", rec.PrimaryRef)
	}
	// A failed check must never be treated as confirmed absent.
	if store.creates != 0 {
		t.Errorf("issued %d creates after a failed lookup, want 0", store.creates)
	}
	if rec.DependentRef.Status != StatusSkipped {
		t.Errorf("dependent = %+v, want skipped", rec.DependentRef)
	}
}

func TestRunSkipsEmptyRows(t *testing.T) {
	store := newFakeStore()
	led := &memLedger{}
	r := newTestRunner(t, store, led)

	src := newSliceSource(
		[]string{"name", "email", "deal_title"},
		map[string]string{"name": "A", "email": "a@x.com", "deal_title": "D"},
		map[string]string{},
		map[string]string{"name": "B", "email": "b@x.com", "deal_title": "E"},
	)

	summary, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Rows != 3 || summary.EmptyRows != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(led.records) != 2 {
		t.Fatalf("got %d records, want 2 (empty row unrecorded)", len(led.records))
	}
	// Ordinals still line up with the source file.
	if led.records[1].Ordinal != 3 {
		t.Errorf("second record ordinal = %d, want 3", led.records[1].Ordinal)
	}
}

func TestRunEmptyPrimaryPayload(t *testing.T) {
	store := newFakeStore()
	led := &memLedger{}
	r := newTestRunner(t, store, led)

	// Row carries only dependent columns: nothing to create a contact
	// from, so the deal has nothing to link to.
	src := newSliceSource(
		[]string{"name", "email", "deal_title"},
		map[string]string{"deal_title": "Orphan"},
	)

	if _, err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := led.records[0]
	if rec.PrimaryRef.Status != StatusSkipped {
		t.Errorf("primary = %+v, want skipped", rec.PrimaryRef)
	}
	if rec.DependentRef.Status != StatusSkipped {
		t.Errorf("dependent = %+v, want skipped", rec.DependentRef)
	}
	if store.creates != 0 {
		t.Errorf("creates = %d, want 0", store.creates)
	}
}

func TestRunLedgerFailureAborts(t *testing.T) {
	store := newFakeStore()
	led := &memLedger{err: errors.New("disk full")}
	r := newTestRunner(t, store, led)

	src := newSliceSource(
		[]string{"name", "email", "deal_title"},
		map[string]string{"name": "A", "email": "a@x.com", "deal_title": "D"},
	)

	if _, err := r.Run(context.Background(), src); err == nil {
		t.Fatal("expected run to abort when the ledger cannot be written")
	}
}

func TestNewRunnerValidatesMapping(t *testing.T) {
	doc := testMapping()
	doc.Primary["phone"] = mapping.Entry{Field: "PHONE"} // multi without subtype

	_, err := NewRunner(RunnerConfig{
		Store:            newFakeStore(),
		Ledger:           &memLedger{},
		Mapping:          doc,
		PrimaryEntity:    "contact",
		PrimaryCatalog:   contactCatalog(t),
		DependentEntity:  "deal",
		DependentCatalog: dealCatalog(t),
	})
	if err == nil {
		t.Fatal("expected mapping validation to fail before any row is processed")
	}

	var unresolved *mapping.UnresolvedMultiFieldError
	if !errors.As(err, &unresolved) {
		t.Fatalf("error type = %T, want *UnresolvedMultiFieldError", err)
	}
}
