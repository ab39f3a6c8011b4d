package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/c360/embedatlas/errors"
)

// writeJSON writes v as an application/json response
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, _ := json.Marshal(v)
	_, _ = w.Write(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

// writeBytes writes a raw payload with its media type
func writeBytes(w http.ResponseWriter, mediaType string, data []byte) {
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// statusForError maps classified errors to HTTP status codes. The query
// and compute handlers deliberately bypass this and answer 500 for any
// execution failure; this mapping covers the rest of the surface.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrNoPeer), stderrors.Is(err, errors.ErrPeerDisconnected):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, errors.ErrPeerTimeout):
		return http.StatusRequestTimeout
	case stderrors.Is(err, errors.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
