// Package catalog resolves the remote CRM schema into field descriptors
// the import engine can validate mappings against.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mwestcott/b24import/internal/crm"
)

// ValueKind classifies how a field accepts values.
type ValueKind int

const (
	// Scalar fields take a single normalized value.
	Scalar ValueKind = iota
	// Multi fields take an ordered sequence of typed values
	// (e.g. several phone numbers, each tagged WORK/MOBILE/...).
	Multi
)

func (k ValueKind) String() string {
	if k == Multi {
		return "multi"
	}
	return "scalar"
}

// FieldDescriptor is the resolved metadata for one importable field.
// Descriptors are immutable once resolved.
type FieldDescriptor struct {
	ID    string
	Label string
	Kind  ValueKind

	// Type is the portal's raw value type ("string", "date", "datetime",
	// "double", ...). The payload builder uses it to normalize temporal
	// values.
	Type string

	// Subtypes lists the accepted value types for Multi fields, in the
	// order the portal documents them. Empty for Scalar fields.
	Subtypes []string
}

// SchemaSource supplies raw field metadata per entity type.
// *crm.Client satisfies this.
type SchemaSource interface {
	Fields(ctx context.Context, entity string) (map[string]crm.FieldMeta, error)
}

// SchemaFetchError reports that the remote schema could not be resolved.
// This is fatal: no import run starts without a catalog.
type SchemaFetchError struct {
	Entity string
	Err    error
}

func (e *SchemaFetchError) Error() string {
	return fmt.Sprintf("fetch %s schema: %v", e.Entity, e.Err)
}

func (e *SchemaFetchError) Unwrap() error { return e.Err }

// Catalog holds the resolved field descriptors for one entity type.
type Catalog struct {
	Entity string
	fields map[string]FieldDescriptor
}

// Resolve fetches and resolves the field catalog for an entity type.
func Resolve(ctx context.Context, src SchemaSource, entity string) (*Catalog, error) {
	raw, err := src.Fields(ctx, entity)
	if err != nil {
		return nil, &SchemaFetchError{Entity: entity, Err: err}
	}
	if len(raw) == 0 {
		return nil, &SchemaFetchError{Entity: entity, Err: fmt.Errorf("schema has no fields")}
	}

	fields := make(map[string]FieldDescriptor, len(raw))
	for id, meta := range raw {
		if id == "" {
			return nil, &SchemaFetchError{Entity: entity, Err: fmt.Errorf("schema contains an empty field identifier")}
		}
		fields[id] = FieldDescriptor{
			ID:       id,
			Label:    deriveLabel(id, meta),
			Kind:     kindOf(meta),
			Type:     meta.Type,
			Subtypes: subtypesOf(meta),
		}
	}

	return &Catalog{Entity: entity, fields: fields}, nil
}

// Field returns the descriptor for a field identifier.
func (c *Catalog) Field(id string) (FieldDescriptor, bool) {
	d, ok := c.fields[id]
	return d, ok
}

// Len returns the number of fields in the catalog.
func (c *Catalog) Len() int { return len(c.fields) }

// Sorted returns all descriptors ordered case-insensitively by label.
// This ordering is presentational only; nothing in the engine depends on it.
func (c *Catalog) Sorted() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(c.fields))
	for _, d := range c.fields {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Label), strings.ToLower(out[j].Label)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// deriveLabel builds the display label for a field.
//
// Preference order: list label, form label, filter label, raw title,
// then the identifier itself. Custom (dynamic) fields get the raw
// identifier appended so same-titled fields stay distinguishable, and
// enumeration fields get their allowed display values appended.
func deriveLabel(id string, meta crm.FieldMeta) string {
	label := firstNonEmpty(meta.ListLabel, meta.FormLabel, meta.FilterLabel, meta.Title, id)

	if meta.IsDynamic && label != id {
		label = fmt.Sprintf("%s (%s)", label, id)
	}

	if len(meta.Items) > 0 {
		values := make([]string, 0, len(meta.Items))
		for _, item := range meta.Items {
			if v := strings.TrimSpace(item.Value); v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			label = fmt.Sprintf("%s [%s]", label, strings.Join(values, ", "))
		}
	}

	return label
}

func kindOf(meta crm.FieldMeta) ValueKind {
	if meta.IsMultiple {
		return Multi
	}
	return Scalar
}

func subtypesOf(meta crm.FieldMeta) []string {
	if !meta.IsMultiple {
		return nil
	}
	// The portal does not expose subtype lists in field metadata; the
	// conventional set applies to all crm_multifield fields.
	out := make([]string, len(crm.MultiValueTypes))
	copy(out, crm.MultiValueTypes)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
