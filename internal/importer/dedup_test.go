package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

// fakeStore is an in-memory entity store for orchestrator tests.
type fakeStore struct {
	nextID    int
	created   map[string][]map[string]any // entity → created payloads
	ids       map[string][]string         // entity → ids, parallel to created
	queries   int
	creates   int
	findErr   error
	createErr error

	// failCreates makes the next N create calls return no identifier.
	failCreates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		created: make(map[string][]map[string]any),
		ids:     make(map[string][]string),
	}
}

func (f *fakeStore) Create(_ context.Context, entity string, fields map[string]any) (string, bool, error) {
	f.creates++
	if f.createErr != nil {
		return "", false, f.createErr
	}
	if f.failCreates > 0 {
		f.failCreates--
		return "", false, nil
	}

	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.created[entity] = append(f.created[entity], fields)
	f.ids[entity] = append(f.ids[entity], id)
	return id, true, nil
}

func (f *fakeStore) FindFirst(_ context.Context, entity, field, value string) (string, bool, error) {
	f.queries++
	if f.findErr != nil {
		return "", false, f.findErr
	}

	for i, fields := range f.created[entity] {
		if matchesField(fields[field], value) {
			return f.ids[entity][i], true, nil
		}
	}
	return "", false, nil
}

func matchesField(stored any, value string) bool {
	switch v := stored.(type) {
	case string:
		return v == value
	case []MultiValue:
		for _, mv := range v {
			if mv.Value == value {
				return true
			}
		}
	case fmt.Stringer:
		return v.String() == value
	}
	return false
}

func TestFindExistingEmptyValueSkipsQuery(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, "contact", "EMAIL")

	for _, value := range []string{"", "   "} {
		id, found, err := r.FindExisting(context.Background(), value)
		if err != nil {
			t.Fatalf("FindExisting(%q): %v", value, err)
		}
		if found || id != "" {
			t.Errorf("FindExisting(%q) = (%q, %v), want absent", value, id, found)
		}
	}

	if store.queries != 0 {
		t.Errorf("issued %d queries for empty values, want 0", store.queries)
	}
}

func TestFindExistingNoDedupField(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, "contact", "")

	_, found, err := r.FindExisting(context.Background(), "a@x.com")
	if err != nil || found {
		t.Errorf("FindExisting with no field = (found=%v, err=%v), want absent", found, err)
	}
	if store.queries != 0 {
		t.Errorf("issued %d queries without a dedup field, want 0", store.queries)
	}
}

func TestFindExistingMatch(t *testing.T) {
	store := newFakeStore()
	store.Create(context.Background(), "contact", map[string]any{
		"EMAIL": []MultiValue{{Value: "a@x.com", Type: "WORK"}},
	})

	r := NewResolver(store, "contact", "EMAIL")
	id, found, err := r.FindExisting(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FindExisting: %v", err)
	}
	if !found || id != "1" {
		t.Errorf("FindExisting = (%q, %v), want (1, true)", id, found)
	}
}

func TestFindExistingLookupError(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("401 unauthorized")

	r := NewResolver(store, "contact", "EMAIL")
	_, found, err := r.FindExisting(context.Background(), "a@x.com")
	if err == nil {
		t.Fatal("expected LookupError, got nil")
	}
	if found {
		t.Error("found must be false when the check failed")
	}

	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("error type = %T, want *LookupError", err)
	}
}
