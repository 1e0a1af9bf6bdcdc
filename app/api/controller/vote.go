package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// HandleVoteSubmit casts the caller's vote. Replays after a success return
// the original result.
func (c *Controller) HandleVoteSubmit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CandidateID int64 `json:"candidate_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		c.writeError(w, http.StatusBadRequest, "validation", "bad json")
		return
	}
	if in.CandidateID <= 0 {
		c.writeError(w, http.StatusBadRequest, "validation", "candidate_id is required")
		return
	}

	identityHash := identityFrom(r)
	verified, err := c.App.Votes.IsVoterVerified(r.Context(), identityHash)
	if err != nil {
		c.App.Logger.Error("Failed to check voter verification", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if !verified {
		c.writeError(w, http.StatusUnauthorized, "unauthorized", "voter is not verified")
		return
	}

	result, err := c.App.Coordinator.Submit(r.Context(), identityHash, in.CandidateID)
	if err != nil {
		c.writeDomainError(w, err)
		return
	}

	c.writeJSON(w, http.StatusOK, result)
}

// HandleVoteStatus reports whether the caller has a confirmed vote.
func (c *Controller) HandleVoteStatus(w http.ResponseWriter, r *http.Request) {
	identityHash := identityFrom(r)

	confirmed, err := c.App.Coordinator.Status(r.Context(), identityHash)
	if err != nil {
		c.App.Logger.Error("Failed to read vote status", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if confirmed == nil {
		c.writeJSON(w, http.StatusOK, map[string]any{"voted": false})
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"voted":           true,
		"tx_id":           confirmed.TxID,
		"confirmed_round": confirmed.ConfirmedRound,
		"vote_hash":       confirmed.VoteHash,
	})
}

// HandleVoteAttempt is the pre-flight abuse probe: it records an attempt and
// reports whether the caller may currently vote.
func (c *Controller) HandleVoteAttempt(w http.ResponseWriter, r *http.Request) {
	identityHash := identityFrom(r)

	allowed, reason, err := c.App.Coordinator.CheckAttempt(r.Context(), identityHash)
	if err != nil {
		c.App.Logger.Error("Failed to check vote attempt", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if !allowed {
		c.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"allowed": false,
			"reason":  reason,
		})
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{"allowed": true})
}
