package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeCoreError maps domain errors onto HTTP statuses and codes. Unknown
// errors surface as 500 without leaking internals.
func writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *core.ValidationError
		insufficient *core.InsufficientStockError
		reservation  *core.WouldViolateReservationError
		negative     *core.NegativeStockError
		voided       *core.AlreadyVoidedError
		reversed     *core.AlreadyHasReversalError
		transition   *core.InvalidTransitionError
		resState     *core.InvalidReservationStateError
		notFound     *core.NotFoundError
		denied       *core.PermissionDeniedError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, r, err.Error(), "VALIDATION", http.StatusBadRequest)
	case errors.As(err, &insufficient):
		writeError(w, r, err.Error(), "INSUFFICIENT_STOCK", http.StatusConflict)
	case errors.As(err, &reservation):
		writeError(w, r, err.Error(), "RESERVATION_VIOLATION", http.StatusConflict)
	case errors.As(err, &negative):
		writeError(w, r, err.Error(), "NEGATIVE_STOCK", http.StatusConflict)
	case errors.As(err, &voided):
		writeError(w, r, err.Error(), "ALREADY_VOIDED", http.StatusConflict)
	case errors.As(err, &reversed):
		writeError(w, r, err.Error(), "ALREADY_REVERSED", http.StatusConflict)
	case errors.As(err, &transition):
		writeError(w, r, err.Error(), "INVALID_TRANSITION", http.StatusConflict)
	case errors.As(err, &resState):
		writeError(w, r, err.Error(), "INVALID_RESERVATION_STATE", http.StatusConflict)
	case errors.As(err, &notFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.As(err, &denied):
		writeError(w, r, err.Error(), "FORBIDDEN", http.StatusForbidden)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
