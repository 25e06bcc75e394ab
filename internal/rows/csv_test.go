package rows

import (
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, src Source) []Row {
	t.Helper()
	var out []Row
	for {
		row, err := src.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, row)
	}
}

func TestCSVSource(t *testing.T) {
	input := "name,email,phone\nAlice,a@x.com,\"1,2\"\nBob,b@x.com,3\n"

	src, err := NewCSVSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}

	wantCols := []string{"name", "email", "phone"}
	for i, col := range src.Columns() {
		if col != wantCols[i] {
			t.Errorf("column[%d] = %q, want %q", i, col, wantCols[i])
		}
	}

	all := readAll(t, src)
	if len(all) != 2 {
		t.Fatalf("got %d rows, want 2", len(all))
	}

	if all[0].Ordinal != 1 || all[1].Ordinal != 2 {
		t.Errorf("ordinals = %d, %d", all[0].Ordinal, all[1].Ordinal)
	}

	phone, ok := all[0].Get("phone")
	if !ok || phone != "1,2" {
		t.Errorf("phone = %q, ok=%v", phone, ok)
	}

	if _, ok := all[0].Get("missing"); ok {
		t.Error("Get on unknown column should report absent")
	}
}

func TestCSVSourceBOMAndBlankLeadingRows(t *testing.T) {
	input := "\xEF\xBB\xBF,,\n\nname,email\nAlice,a@x.com\n"

	src, err := NewCSVSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}

	if got := src.Columns()[0]; got != "name" {
		t.Errorf("first column = %q, want name (BOM and blank rows skipped)", got)
	}

	all := readAll(t, src)
	if len(all) != 1 {
		t.Fatalf("got %d rows, want 1", len(all))
	}
}

func TestCSVSourceInvalidUTF8(t *testing.T) {
	input := "name\nAl\x80ce\n"

	src, err := NewCSVSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}

	all := readAll(t, src)
	got, _ := all[0].Get("name")
	if got != "Al?ce" {
		t.Errorf("sanitized value = %q, want Al?ce", got)
	}
}

func TestCSVSourceRaggedRows(t *testing.T) {
	input := "a,b,c\n1,2\n1,2,3,4\n"

	src, err := NewCSVSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}

	all := readAll(t, src)
	if len(all) != 2 {
		t.Fatalf("got %d rows, want 2", len(all))
	}

	// Short row: missing trailing cell reads as absent-or-empty
	if v, ok := all[0].Get("c"); ok && v != "" {
		t.Errorf("short row c = %q, want empty", v)
	}
	// Long row: extra cell is dropped
	if v, _ := all[1].Get("c"); v != "3" {
		t.Errorf("long row c = %q, want 3", v)
	}
}

func TestCSVSourceNoHeader(t *testing.T) {
	if _, err := NewCSVSource(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "trims whitespace", input: "  hello  ", want: "hello"},
		{name: "excel formula literal", input: `="00123"`, want: "00123"},
		{name: "non-breaking space", input: "a\u00A0b", want: "a b"},
		{name: "zero width space removed", input: "a\u200Bb", want: "ab"},
		{name: "plain value untouched", input: "hello", want: "hello"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRowIsEmpty(t *testing.T) {
	cols := []string{"a", "b"}

	if !NewRow(1, cols, []string{" ", ""}).IsEmpty() {
		t.Error("whitespace-only row should be empty")
	}
	if NewRow(1, cols, []string{"", "x"}).IsEmpty() {
		t.Error("row with a value should not be empty")
	}
}
