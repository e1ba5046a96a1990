package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/invoke"
	"github.com/flemzord/skillgate/internal/schedule"
	"github.com/flemzord/skillgate/internal/source"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error      string `json:"error"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, capability.ErrNotFound),
		errors.Is(err, source.ErrNotFound),
		errors.Is(err, schedule.ErrNotFound),
		errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capability.ErrExists),
		errors.Is(err, source.ErrExists),
		errors.Is(err, schedule.ErrExists):
		return http.StatusConflict
	case errors.Is(err, capability.ErrInvalid),
		errors.Is(err, source.ErrInvalid),
		errors.Is(err, schedule.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrUnavailable):
		return http.StatusConflict
	case errors.Is(err, invoke.ErrAuditUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. Internal errors are logged
// and replaced by a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		if logger != nil {
			logger.Error("gateway: request failed", "error", err)
		}
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

// badRequest writes a 400 with msg.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
