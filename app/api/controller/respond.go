package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/trustpoll/trustpoll/pkg/ledger"
	"github.com/trustpoll/trustpoll/pkg/vote"
)

// errorBody is the uniform error envelope. Code is a stable machine-readable
// discriminant; Error is for humans.
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (c *Controller) writeError(w http.ResponseWriter, status int, code, message string) {
	c.writeJSON(w, status, errorBody{Code: code, Error: message})
}

// writeDomainError maps core error classes onto the HTTP surface. Validation,
// conflict and rate-limit outcomes are final; ledger failures surface as a
// distinct gateway-failure class so callers do not blindly retry.
func (c *Controller) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vote.ErrUnknownCandidate):
		c.writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, vote.ErrConflict):
		c.writeError(w, http.StatusConflict, "conflict", "a submission for this identity is already in progress")
	case errors.Is(err, vote.ErrRateLimited):
		c.writeError(w, http.StatusTooManyRequests, "rate_limited", "Rapid voting attempts detected")
	case errors.Is(err, ledger.ErrLedgerRejected):
		c.writeError(w, http.StatusBadGateway, "ledger_rejected", err.Error())
	case errors.Is(err, ledger.ErrLedgerTimeout):
		c.writeError(w, http.StatusBadGateway, "ledger_timeout",
			"confirmation not observed in budget; the attempt will be resolved by reconciliation")
	case errors.Is(err, ledger.ErrTxNotFound):
		c.writeError(w, http.StatusNotFound, "tx_not_found", "transaction not found")
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		c.writeError(w, http.StatusBadGateway, "ledger_unavailable", err.Error())
	default:
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
