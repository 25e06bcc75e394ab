// Package crm provides a client for Bitrix24-style inbound webhook REST APIs.
//
// A webhook URL carries its own authentication (the token is part of the
// path), so the client needs no separate credential handling. All methods
// issue a single HTTP call and decode the standard envelope:
//
//	{"result": ..., "time": {...}}
//	{"error": "CODE", "error_description": "..."}
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the default HTTP timeout for webhook calls.
var DefaultTimeout = 30 * time.Second

// Client calls a CRM inbound webhook.
//
// The webhook service enforces a request budget per portal, so the client
// supports a cooperative pause after every remote call (Delay). A zero
// delay disables the pause; tests rely on that.
type Client struct {
	baseURL string
	httpc   *http.Client

	// Delay is slept after every remote call. Zero skips the pause.
	Delay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithDelay sets the cooperative pause applied after each remote call.
func WithDelay(d time.Duration) Option {
	return func(c *Client) { c.Delay = d }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpc.Timeout = d
		}
	}
}

// NewClient creates a webhook client. The URL is normalized to end with a
// single trailing slash so method names can be appended directly.
func NewClient(webhookURL string, opts ...Option) (*Client, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(webhookURL, "http://") && !strings.HasPrefix(webhookURL, "https://") {
		return nil, fmt.Errorf("webhook URL must be http(s): %q", webhookURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(webhookURL, "/") + "/",
		httpc:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestError describes a failed webhook call: transport failures,
// non-2xx responses, and API-level error envelopes all map here.
type RequestError struct {
	Method      string // REST method, e.g. "crm.contact.add"
	StatusCode  int    // HTTP status, 0 on transport failure
	Code        string // API error code from the envelope, if any
	Description string // API error description, if any
	Err         error  // underlying transport/decode error, if any
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("crm %s: %v", e.Method, e.Err)
	case e.Code != "" || e.Description != "":
		return fmt.Sprintf("crm %s: %s %s", e.Method, e.Code, e.Description)
	default:
		return fmt.Sprintf("crm %s: unexpected status %d", e.Method, e.StatusCode)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// envelope is the standard webhook response wrapper.
type envelope struct {
	Result      json.RawMessage `json:"result"`
	Error       string          `json:"error"`
	Description string          `json:"error_description"`
}

// call posts body (or issues a GET when body is nil) to <base><method>.json
// and returns the raw result. The cooperative delay is applied after the
// call regardless of outcome.
func (c *Client) call(ctx context.Context, method string, body any) (json.RawMessage, error) {
	defer func() {
		if c.Delay > 0 {
			time.Sleep(c.Delay)
		}
	}()

	url := c.baseURL + method + ".json"

	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		var buf bytes.Buffer
		if encErr := json.NewEncoder(&buf).Encode(body); encErr != nil {
			return nil, &RequestError{Method: method, Err: encErr}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, &RequestError{Method: method, Err: err}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &RequestError{Method: method, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &RequestError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if env.Error != "" {
		return nil, &RequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        env.Error,
			Description: env.Description,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Method: method, StatusCode: resp.StatusCode}
	}

	return env.Result, nil
}

// Fields fetches the raw field metadata for an entity type
// (crm.<entity>.fields). Keys are field identifiers.
func (c *Client) Fields(ctx context.Context, entity string) (map[string]FieldMeta, error) {
	result, err := c.call(ctx, "crm."+entity+".fields", nil)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]FieldMeta)
	if err := json.Unmarshal(result, &fields); err != nil {
		return nil, &RequestError{Method: "crm." + entity + ".fields", Err: fmt.Errorf("decode fields: %w", err)}
	}
	return fields, nil
}

// Categories fetches the deal categories (pipelines) configured on the
// portal, in the order the portal returns them.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	result, err := c.call(ctx, "crm.dealcategory.list", nil)
	if err != nil {
		return nil, err
	}

	var cats []Category
	if err := json.Unmarshal(result, &cats); err != nil {
		return nil, &RequestError{Method: "crm.dealcategory.list", Err: fmt.Errorf("decode categories: %w", err)}
	}
	return cats, nil
}

// Create adds an entity and returns the new identifier. The portal omits
// the result on failure; that surfaces as ok=false with a nil error so the
// caller can record a creation failure without aborting.
//
// REGISTER_SONET_EVENT is disabled so bulk imports do not flood the
// portal's activity stream.
func (c *Client) Create(ctx context.Context, entity string, fields map[string]any) (id string, ok bool, err error) {
	body := map[string]any{
		"fields": fields,
		"params": map[string]string{"REGISTER_SONET_EVENT": "N"},
	}

	result, err := c.call(ctx, "crm."+entity+".add", body)
	if err != nil {
		return "", false, err
	}

	id = decodeID(result)
	return id, id != "", nil
}

// FindFirst looks up an entity by a single equality filter and returns the
// identifier of the first match. The portal documents no ordering for
// equality filters, so with multiple matches the result is whatever the
// portal returns first.
func (c *Client) FindFirst(ctx context.Context, entity, field, value string) (id string, found bool, err error) {
	body := map[string]any{
		"filter": map[string]string{field: value},
		"select": []string{"ID"},
	}

	result, err := c.call(ctx, "crm."+entity+".list", body)
	if err != nil {
		return "", false, err
	}

	var matches []struct {
		ID json.Number `json:"ID"`
	}
	if err := json.Unmarshal(result, &matches); err != nil {
		return "", false, &RequestError{Method: "crm." + entity + ".list", Err: fmt.Errorf("decode matches: %w", err)}
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	return matches[0].ID.String(), true, nil
}

// decodeID extracts an identifier from a raw result. The portal returns
// numeric IDs for add calls, but custom handlers may return strings.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" {
		return ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}
