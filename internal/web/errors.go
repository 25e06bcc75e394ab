package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as JSON with a stable machine-readable code
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, statusCode)
//  3. Error is classified into an ErrorResponse code
//  4. Technical error + context is logged with request ID for correlation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mwestcott/b24import/internal/catalog"
	"github.com/mwestcott/b24import/internal/crm"
	"github.com/mwestcott/b24import/internal/mapping"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs the technical error server-side and writes a JSON
// error body with a classification code.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	requestID := middleware.GetReqID(r.Context())

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", errorCode(err),
		"request_id", requestID,
	)

	writeJSON(w, statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errorCode(err),
	})
}

// errorCode classifies an error into a stable machine-readable code.
func errorCode(err error) string {
	var schemaErr *catalog.SchemaFetchError
	if errors.As(err, &schemaErr) {
		return "schema_fetch_failed"
	}

	var unresolved *mapping.UnresolvedMultiFieldError
	if errors.As(err, &unresolved) {
		return "unresolved_multi_field"
	}

	var reqErr *crm.RequestError
	if errors.As(err, &reqErr) {
		return "crm_request_failed"
	}

	return "request_failed"
}

// errorStatus picks the HTTP status for a run setup failure. Upstream
// schema and transport failures are gateway errors; everything else is
// the caller's input.
func errorStatus(err error) int {
	var schemaErr *catalog.SchemaFetchError
	var reqErr *crm.RequestError
	if errors.As(err, &schemaErr) || errors.As(err, &reqErr) {
		return http.StatusBadGateway
	}

	var unresolved *mapping.UnresolvedMultiFieldError
	if errors.As(err, &unresolved) {
		return http.StatusUnprocessableEntity
	}

	return http.StatusBadRequest
}
