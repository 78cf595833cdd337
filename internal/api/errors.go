package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/surya-s-1/captain-tool-integrations/internal/dispatch"
	"github.com/surya-s-1/captain-tool-integrations/internal/jira"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
)

// jsonErrorResponse encodes a structured error payload for clients.
type jsonErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteServiceUnavailable emits a structured 503 response with a short retry window.
func WriteServiceUnavailable(w http.ResponseWriter, message, details string) {
	if w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", strconv.Itoa(int((5 * time.Second).Seconds())))
	}
	WriteJSONError(w, http.StatusServiceUnavailable, message, details)
}

// WriteJSONError writes an error response encoded as JSON with the given status.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	payload := jsonErrorResponse{
		Error: strings.TrimSpace(message),
	}
	if detail := strings.TrimSpace(details); detail != "" {
		payload.Details = detail
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var apiErr *jira.APIError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrBusy), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, jira.ErrNotConnected), errors.Is(err, tracker.ErrProjectNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, jira.ErrUnauthorized), errors.Is(err, jira.ErrRateLimited):
		return http.StatusBadGateway
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status statusFor picks.
func writeError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		WriteServiceUnavailable(w, message, err.Error())
		return
	}
	WriteJSONError(w, status, message, err.Error())
}
