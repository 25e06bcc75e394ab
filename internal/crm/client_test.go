package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL + "/rest/1/token")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid https", url: "https://example.bitrix24.com/rest/1/abc/", wantErr: false},
		{name: "valid http", url: "http://localhost:8080/rest/1/abc", wantErr: false},
		{name: "empty", url: "", wantErr: true},
		{name: "whitespace only", url: "   ", wantErr: true},
		{name: "missing scheme", url: "example.bitrix24.com/rest/1/abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/1/token/crm.contact.fields.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"result": {
			"NAME": {"type": "string", "title": "First name", "isMultiple": false},
			"PHONE": {"type": "crm_multifield", "title": "Phone", "isMultiple": true},
			"UF_CRM_123": {"type": "enumeration", "title": "Segment", "isDynamic": true,
				"items": [{"ID": 1, "VALUE": "SMB"}, {"ID": 2, "VALUE": "Enterprise"}]}
		}}`))
	})

	fields, err := c.Fields(context.Background(), "contact")
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}

	if len(fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(fields))
	}
	if !fields["PHONE"].IsMultiple {
		t.Error("PHONE should be multiple")
	}
	if got := fields["UF_CRM_123"].Items[1].Value; got != "Enterprise" {
		t.Errorf("enum item = %q, want %q", got, "Enterprise")
	}
}

func TestFieldsAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "INVALID_CREDENTIALS", "error_description": "Invalid request credentials"}`))
	})

	_, err := c.Fields(context.Background(), "contact")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T, want *RequestError", err)
	}
	if reqErr.Code != "INVALID_CREDENTIALS" {
		t.Errorf("code = %q, want INVALID_CREDENTIALS", reqErr.Code)
	}
}

func TestCategories(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": [{"ID": 0, "NAME": "General"}, {"ID": 4, "NAME": "Imports"}]}`))
	})

	cats, err := c.Categories(context.Background())
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("got %d categories, want 2", len(cats))
	}
	if cats[1].ID.String() != "4" || cats[1].Name != "Imports" {
		t.Errorf("second category = %v", cats[1])
	}
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantID   string
		wantOK   bool
	}{
		{name: "numeric id", response: `{"result": 42}`, wantID: "42", wantOK: true},
		{name: "string id", response: `{"result": "42"}`, wantID: "42", wantOK: true},
		{name: "missing result", response: `{"time": {}}`, wantID: "", wantOK: false},
		{name: "null result", response: `{"result": null}`, wantID: "", wantOK: false},
		{name: "false result", response: `{"result": false}`, wantID: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode request body: %v", err)
				}
				if _, ok := body["fields"]; !ok {
					t.Error("request missing fields key")
				}
				params, _ := body["params"].(map[string]any)
				if params["REGISTER_SONET_EVENT"] != "N" {
					t.Error("REGISTER_SONET_EVENT not disabled")
				}
				w.Write([]byte(tt.response))
			})

			id, ok, err := c.Create(context.Background(), "contact", map[string]any{"NAME": "A"})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("Create = (%q, %v), want (%q, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestCreateAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "QUERY_LIMIT_EXCEEDED", "error_description": "Too many requests"}`))
	})

	_, _, err := c.Create(context.Background(), "deal", map[string]any{"TITLE": "X"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestFindFirst(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantID    string
		wantFound bool
	}{
		{name: "single match", response: `{"result": [{"ID": "17"}]}`, wantID: "17", wantFound: true},
		{name: "multiple matches takes first", response: `{"result": [{"ID": 9}, {"ID": 10}]}`, wantID: "9", wantFound: true},
		{name: "no matches", response: `{"result": []}`, wantID: "", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Filter map[string]string `json:"filter"`
					Select []string          `json:"select"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode request body: %v", err)
				}
				if body.Filter["EMAIL"] != "a@x.com" {
					t.Errorf("filter = %v", body.Filter)
				}
				w.Write([]byte(tt.response))
			})

			id, found, err := c.FindFirst(context.Background(), "contact", "EMAIL", "a@x.com")
			if err != nil {
				t.Fatalf("FindFirst: %v", err)
			}
			if id != tt.wantID || found != tt.wantFound {
				t.Errorf("FindFirst = (%q, %v), want (%q, %v)", id, found, tt.wantID, tt.wantFound)
			}
		})
	}
}

func TestFindFirstTransportError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close() // Force a transport failure

	_, found, err := c.FindFirst(context.Background(), "contact", "EMAIL", "a@x.com")
	if err == nil {
		t.Fatal("expected transport error, got nil")
	}
	if found {
		t.Error("found should be false on transport error")
	}
}
