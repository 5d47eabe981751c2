// Package httpx holds the small set of HTTP helpers shared by the IC
// and Sentry servers: nexerr.Kind-to-status-code mapping and JSON
// request/response helpers, grounded on the teacher's own preference
// for thin, dependency-free response plumbing over a framework's.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// StatusFor maps a nexerr.Kind to the HTTP status code a handler
// should respond with (spec §7: 4xx for Validation/NotFound, 5xx for
// Transient/Corruption; Fatal never reaches a handler, it aborts
// startup).
func StatusFor(err error) int {
	switch nexerr.KindOf(err) {
	case nexerr.KindValidation:
		return http.StatusBadRequest
	case nexerr.KindNotFound:
		return http.StatusNotFound
	case nexerr.KindTransient:
		return http.StatusServiceUnavailable
	case nexerr.KindCorruption:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with a status derived from err.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

// DecodeJSON reads and decodes the request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return nexerr.Validation("httpx.DecodeJSON", err)
	}
	return nil
}
