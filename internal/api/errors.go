package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/balance"
	"github.com/agentpay/agentpay/internal/card"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/rail"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeDomainError maps domain sentinel errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrValidation),
		errors.Is(err, card.ErrValidation),
		errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, rail.ErrUnsupportedRail):
		writeError(w, http.StatusBadRequest, "unsupported_rail", err.Error())
	case errors.Is(err, card.ErrNoActiveCard):
		writeError(w, http.StatusNotFound, "no_active_card", err.Error())
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, card.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, account.ErrDuplicateWallet):
		writeError(w, http.StatusConflict, "duplicate_wallet", err.Error())
	case errors.Is(err, card.ErrInsufficientLimit):
		writeError(w, http.StatusConflict, "insufficient_limit", err.Error())
	case errors.Is(err, card.ErrInvalidState),
		errors.Is(err, ledger.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, balance.ErrProvider):
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}
