package devicekit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxJSONBody bounds request bodies decoded as JSON.
const maxJSONBody = 1 << 20

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	RequiredRole Role   `json:"required_role,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes a JSON error body with the given status code
func writeErrorResponse(w http.ResponseWriter, status int, body ErrorResponse) {
	_ = writeJSON(w, status, body)
}

// writeNoContent writes a successful response with no content (204 No Content)
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// errorStatus maps an error to its HTTP status and client-facing body.
// Unclassified errors map to 500 with an opaque body.
func errorStatus(err error) (int, ErrorResponse) {
	var detail *Error
	message := ""
	if errors.As(err, &detail) {
		message = detail.Message
	}

	switch {
	case IsUnauthenticated(err):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: message}
	case IsForbidden(err):
		body := ErrorResponse{Error: "forbidden", Message: message}
		if detail != nil {
			body.RequiredRole = detail.RequiredRole
		}
		return http.StatusForbidden, body
	case IsNotFound(err):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: message}
	case IsConflict(err):
		return http.StatusConflict, ErrorResponse{Error: "conflict", Message: message}
	case IsInvalidInput(err):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: message}
	case errors.Is(err, ErrPhotosDisabled):
		return http.StatusNotImplemented, ErrorResponse{Error: "photos_disabled"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error"}
	}
}

// parseJSON decodes a bounded JSON request body into dest.
func parseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return NewError(ErrInvalidInput, "request body is required")
		}
		return NewError(ErrInvalidInput, fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// pathUUID extracts a path parameter that must be a UUID and returns it in
// canonical form.
func pathUUID(r *http.Request, key string) (string, error) {
	raw := mux.Vars(r)[key]
	if raw == "" {
		return "", NewError(ErrInvalidInput, fmt.Sprintf("missing path parameter: %s", key))
	}
	return canonicalUUID(key, raw)
}

// canonicalUUID validates raw as a UUID.
func canonicalUUID(field, raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", NewError(ErrInvalidInput, fmt.Sprintf("%s must be a UUID", field))
	}
	return id.String(), nil
}

// optionalUUID validates a UUID that may be absent.
func optionalUUID(field string, raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := canonicalUUID(field, *raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
