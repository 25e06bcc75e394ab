package importer

import (
	"context"
	"fmt"
	"strings"
)

// LookupError reports that a dedup query could not be completed. This is
// distinct from "confirmed absent": callers must not create a primary
// entity on the strength of a failed check.
type LookupError struct {
	Entity string
	Field  string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("dedup lookup on %s.%s: %v", e.Entity, e.Field, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Resolver answers "does a primary entity with this value already
// exist?" with a single equality-filter lookup.
//
// The lookup field is whatever the operator mapped for dedup; the store
// guarantees no uniqueness, so with multiple matches the result is the
// first one the store returns. That choice is non-deterministic across
// equivalent stores and is deliberately left that way.
type Resolver struct {
	store  Store
	entity string
	field  string
}

// NewResolver creates a resolver for one entity type and dedup field.
func NewResolver(store Store, entity, field string) *Resolver {
	return &Resolver{store: store, entity: entity, field: field}
}

// FindExisting returns the identifier of an existing entity whose dedup
// field equals value. An empty value means "no dedup possible": the
// resolver reports absent without issuing a query.
func (r *Resolver) FindExisting(ctx context.Context, value string) (id string, found bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" || r.field == "" {
		return "", false, nil
	}

	id, found, err = r.store.FindFirst(ctx, r.entity, r.field, value)
	if err != nil {
		return "", false, &LookupError{Entity: r.entity, Field: r.field, Err: err}
	}
	return id, found, nil
}
