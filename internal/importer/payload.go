package importer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mwestcott/b24import/internal/catalog"
	"github.com/mwestcott/b24import/internal/mapping"
	"github.com/mwestcott/b24import/internal/rows"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted: years
// landing more than this many years in the future are shifted back a
// century. Example with pivot=20 in 2026: "48" → 1948, "24" → 2024.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling.
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
	timestampLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"1/2/2006 15:04",
		"01/02/2006 15:04:05",
	}
)

// multiDelimiters are the accepted list separators for multi-value
// cells, all normalized in one split pass.
const multiDelimiters = ",;|"

// BuildPayload converts one source row into a request-ready payload for
// the entity the mapping table describes. Pure function of its inputs:
// no I/O, deterministic, safe to call repeatedly.
//
// Columns absent or empty in the row are skipped, never encoded as empty
// strings. When two mapped columns target the same scalar field, the
// lexicographically last source column wins; mapping validation keeps
// this a documented precedence rule rather than an error.
func BuildPayload(row rows.Row, table mapping.Table, cat *catalog.Catalog) (Payload, error) {
	payload := make(Payload)

	// Sorted iteration makes the last-wins precedence deterministic.
	columns := make([]string, 0, len(table))
	for col := range table {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		entry := table[col]

		raw, ok := row.Get(col)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}

		desc, ok := cat.Field(entry.Field)
		if !ok {
			// Validation guarantees membership; a miss here means the
			// mapping and catalog are out of sync.
			return nil, fmt.Errorf("column %q targets field %q missing from %s catalog", col, entry.Field, cat.Entity)
		}

		if desc.Kind == catalog.Multi {
			if entry.Subtype == "" {
				return nil, &mapping.UnresolvedMultiFieldError{Column: col, Field: entry.Field}
			}
			values := splitMulti(raw)
			if len(values) == 0 {
				continue
			}
			seq := make([]MultiValue, 0, len(values))
			for _, v := range values {
				seq = append(seq, MultiValue{Value: v, Type: entry.Subtype})
			}
			payload[entry.Field] = seq
			continue
		}

		payload[entry.Field] = normalizeScalar(raw, desc.Type)
	}

	return payload, nil
}

// splitMulti splits a raw cell on any accepted delimiter, trimming each
// part and discarding empties.
func splitMulti(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(multiDelimiters, r)
	})

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeScalar trims a raw value and canonicalizes temporal types.
// Values that do not parse as dates pass through trimmed; the portal is
// the final validator.
func normalizeScalar(raw, fieldType string) string {
	raw = strings.TrimSpace(raw)

	switch fieldType {
	case "date":
		if t, ok := parseDate(raw); ok {
			return t.Format("2006-01-02")
		}
		if t, ok := parseTimestamp(raw); ok {
			return t.Format("2006-01-02")
		}
	case "datetime":
		if t, ok := parseTimestamp(raw); ok {
			return t.Format("2006-01-02T15:04:05")
		}
		if t, ok := parseDate(raw); ok {
			return t.Format("2006-01-02T15:04:05")
		}
	}

	return raw
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// Go maps 2-digit years to 1969-2068; apply our own pivot.
		if t.Year() > pivotYear {
			t = t.AddDate(-100, 0, 0)
		}
		return t, true
	}

	return time.Time{}, false
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
