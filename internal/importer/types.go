// Package importer implements the row-to-entity import engine: payload
// building, duplicate resolution, and the per-row orchestration loop.
// This package has no UI dependencies and can be driven by any frontend.
package importer

import (
	"context"
	"time"
)

// Payload is a request-ready field set for one entity. Values are either
// a normalized scalar string or, for multi-value fields, an ordered
// []MultiValue. Payloads are built fresh per row and never mutated after
// construction; orchestration-level fields (category, link) are merged
// into a copy before submission.
type Payload map[string]any

// MultiValue is one typed value of a multi-value field. The JSON shape
// matches the portal's wire format.
type MultiValue struct {
	Value string `json:"VALUE"`
	Type  string `json:"VALUE_TYPE"`
}

// clone returns a shallow copy safe for orchestration-level merges.
func (p Payload) clone() Payload {
	out := make(Payload, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Status classifies the outcome of one entity resolution.
type Status string

const (
	// StatusCreated means a new entity was created.
	StatusCreated Status = "created"
	// StatusFound means an existing entity was reused via dedup lookup.
	StatusFound Status = "found-existing"
	// StatusFailed means the lookup or create call did not yield an
	// identifier. The run continues; the row is recorded as failed.
	StatusFailed Status = "creation-failed"
	// StatusSkipped means no call was issued (empty payload, or a
	// dependent with no primary identifier to link to).
	StatusSkipped Status = "skipped"
)

// EntityRef is the outcome of one entity resolution within a row.
// ID is non-empty exactly when Status is created or found-existing.
type EntityRef struct {
	Entity string // entity type name, e.g. "contact"
	ID     string
	Status Status
	Detail string // failure description, empty on success
}

// Outcome renders the reference for the ledger's outcome columns.
func (r EntityRef) Outcome() string {
	switch r.Status {
	case StatusCreated, StatusFound:
		return string(r.Status) + ": " + r.ID
	case StatusFailed:
		if r.Detail != "" {
			return string(r.Status) + ": " + r.Detail
		}
		return string(r.Status)
	default:
		return string(r.Status)
	}
}

// Record is the per-row audit entry appended to the run ledger.
type Record struct {
	Ordinal          int
	DedupValue       string
	PrimaryPayload   Payload
	PrimaryRef       EntityRef
	DependentPayload Payload
	DependentRef     EntityRef
}

// Ledger receives one record per processed row, in arrival order.
// Implementations must flush durably before returning.
type Ledger interface {
	Append(rec Record) error
}

// Store is the remote entity store the engine creates and queries
// entities against. *crm.Client satisfies this.
type Store interface {
	Create(ctx context.Context, entity string, fields map[string]any) (id string, ok bool, err error)
	FindFirst(ctx context.Context, entity, field, value string) (id string, found bool, err error)
}

// Progress describes one processed row, for console lines and run
// status endpoints.
type Progress struct {
	Ordinal   int
	Primary   EntityRef
	Dependent EntityRef
}

// Summary is the final result of an import run.
type Summary struct {
	Rows            int           `json:"rows"` // data rows read, empty rows included
	EmptyRows       int           `json:"emptyRows"`
	PrimaryCreated  int           `json:"primaryCreated"`
	PrimaryFound    int           `json:"primaryFound"`
	PrimaryFailed   int           `json:"primaryFailed"`
	DependentsMade  int           `json:"dependentsCreated"`
	DependentsSkips int           `json:"dependentsSkipped"`
	Duration        time.Duration `json:"duration"`
}
