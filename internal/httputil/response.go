package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// FieldErrors writes a JSON error response listing per-field problems.
func FieldErrors(w http.ResponseWriter, status int, message string, fields map[string]string) {
	JSON(w, status, ErrorResponse{Error: message, Fields: fields})
}

// DecodeJSON decodes the request body into v. Unknown fields are rejected.
// A body over the MaxBytesReader limit writes 413; any other decode error
// writes 400. It returns false when a response has been written.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
