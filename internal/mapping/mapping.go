// Package mapping defines the column-to-field mapping tables the import
// engine consumes.
//
// A mapping is a precondition of the run, not an interactive process: any
// frontend (file, flag, form) produces a validated Document before the
// first row is processed.
package mapping

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mwestcott/b24import/internal/catalog"
)

// Entry associates one source column with one target field.
type Entry struct {
	// Field is the target field identifier in the CRM schema.
	Field string `json:"field"`

	// Subtype is the chosen value type for multi-value target fields
	// (e.g. WORK, MOBILE). Empty for scalar targets.
	Subtype string `json:"subtype,omitempty"`
}

// Table maps source column names to entries for one entity type.
// Source columns are unique by construction (map keys).
type Table map[string]Entry

// Document is a complete import mapping: one table per entity plus the
// operator's dedup and linkage choices.
type Document struct {
	// Primary maps columns for the deduplicated entity (e.g. contact).
	Primary Table `json:"primary"`

	// Dependent maps columns for the per-row entity (e.g. deal).
	Dependent Table `json:"dependent"`

	// DedupColumn is the source column whose value identifies an
	// existing primary entity. Empty disables dedup lookups.
	DedupColumn string `json:"dedupColumn,omitempty"`

	// LinkField is the dependent field that receives the primary
	// identifier. Empty selects the conventional default (CONTACT_ID).
	LinkField string `json:"linkField,omitempty"`
}

// DefaultLinkField is the conventional dependent field linking a deal to
// its contact.
const DefaultLinkField = "CONTACT_ID"

// ResolvedLinkField returns the link field, applying the default.
func (d *Document) ResolvedLinkField() string {
	if strings.TrimSpace(d.LinkField) != "" {
		return strings.TrimSpace(d.LinkField)
	}
	return DefaultLinkField
}

// UnresolvedMultiFieldError reports a mapping entry that targets a
// multi-value field without choosing a value subtype. Guessing a subtype
// would silently mistype imported data, so this is fatal at
// mapping-acceptance time.
type UnresolvedMultiFieldError struct {
	Column string
	Field  string
}

func (e *UnresolvedMultiFieldError) Error() string {
	return fmt.Sprintf("column %q maps to multi-value field %q without a value type", e.Column, e.Field)
}

// Validate checks a table against the resolved catalog for its entity.
// Every target field must exist, multi-value targets must carry a known
// subtype, and scalar targets must not carry one.
func (t Table) Validate(cat *catalog.Catalog) error {
	// Deterministic error order for repeatable failures.
	columns := make([]string, 0, len(t))
	for col := range t {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		entry := t[col]
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("mapping for %s entity has an empty source column", cat.Entity)
		}
		if strings.TrimSpace(entry.Field) == "" {
			return fmt.Errorf("column %q has no target field", col)
		}

		desc, ok := cat.Field(entry.Field)
		if !ok {
			return fmt.Errorf("column %q targets unknown %s field %q", col, cat.Entity, entry.Field)
		}

		switch desc.Kind {
		case catalog.Multi:
			if entry.Subtype == "" {
				return &UnresolvedMultiFieldError{Column: col, Field: entry.Field}
			}
			if !containsFold(desc.Subtypes, entry.Subtype) {
				return fmt.Errorf("column %q: value type %q not accepted by field %q (allowed: %s)",
					col, entry.Subtype, entry.Field, strings.Join(desc.Subtypes, ", "))
			}
		case catalog.Scalar:
			if entry.Subtype != "" {
				return fmt.Errorf("column %q: field %q is scalar but a value type %q was given",
					col, entry.Field, entry.Subtype)
			}
		}
	}
	return nil
}

// Validate checks the whole document against both catalogs.
// The dedup column, when set, must be mapped to a primary field so its
// value reaches the created entity.
func (d *Document) Validate(primary, dependent *catalog.Catalog) error {
	if len(d.Primary) == 0 && len(d.Dependent) == 0 {
		return fmt.Errorf("mapping document is empty")
	}

	if err := d.Primary.Validate(primary); err != nil {
		return fmt.Errorf("primary mapping: %w", err)
	}
	if err := d.Dependent.Validate(dependent); err != nil {
		return fmt.Errorf("dependent mapping: %w", err)
	}

	if d.DedupColumn != "" {
		entry, ok := d.Primary[d.DedupColumn]
		if !ok {
			return fmt.Errorf("dedup column %q is not in the primary mapping", d.DedupColumn)
		}
		if _, ok := primary.Field(entry.Field); !ok {
			return fmt.Errorf("dedup column %q targets unknown field %q", d.DedupColumn, entry.Field)
		}
	}

	return nil
}

// DedupField returns the primary field identifier the dedup column maps
// to, or "" when dedup is disabled.
func (d *Document) DedupField() string {
	if d.DedupColumn == "" {
		return ""
	}
	return d.Primary[d.DedupColumn].Field
}

// Decode reads a mapping document from JSON. Unknown keys are rejected
// so a typo in a mapping file fails loudly instead of silently dropping
// a column.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse mapping document: %w", err)
	}
	return &doc, nil
}

// LoadFile reads a mapping document from a JSON file.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	defer f.Close()

	doc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}
	return doc, nil
}

func containsFold(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
