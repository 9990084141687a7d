// Package httpx holds the JSON response helpers shared by the HTTP handler
// packages, including the mapping from domain errors to status codes.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stockarena/contest-engine/internal/model"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteMessage writes a {"message": ...} body, the error shape the client
// consumes.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"message": message})
}

// WriteError maps a domain error to its HTTP status and writes the message
// body. Unknown errors become 500 without leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientHoldings):
		WriteMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidInviteCode),
		errors.Is(err, model.ErrNotCreator):
		WriteMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrContestNotFound),
		errors.Is(err, model.ErrParticipantNotFound):
		WriteMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrContestNotJoinable),
		errors.Is(err, model.ErrContestFull),
		errors.Is(err, model.ErrAlreadyJoined),
		errors.Is(err, model.ErrTradingWindowClosed):
		WriteMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrPriceUnavailable):
		// Retryable: the upstream has no fresh quote right now.
		WriteMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("request failed", "err", err)
		WriteMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
