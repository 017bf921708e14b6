package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yanizio/gatekey/internal/credential"
	"github.com/yanizio/gatekey/internal/site"
)

// Response is the envelope of every API reply.  Status repeats the HTTP
// status code.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Status: status, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Status: status, Message: msg})
}

// classify maps a service error to a status code and a message safe to
// show callers.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, credential.ErrUpdateFailed):
		return http.StatusBadRequest, "Update failed"
	case errors.Is(err, credential.ErrInvalidIdentifier):
		return http.StatusBadRequest, "Identifier is empty"
	case errors.Is(err, credential.ErrUnknownKind):
		return http.StatusNotFound, "Unknown identifier kind"
	case errors.Is(err, site.ErrAllSitesUnavailable),
		errors.Is(err, credential.ErrQueryFailure),
		errors.Is(err, credential.ErrClosed):
		return http.StatusServiceUnavailable, "Personnel databases unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
