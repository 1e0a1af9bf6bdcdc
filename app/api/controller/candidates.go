package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/trustpoll/trustpoll/pkg/db/election"
	"go.uber.org/zap"
)

// HandleCandidatesList returns the ballot.
func (c *Controller) HandleCandidatesList(w http.ResponseWriter, r *http.Request) {
	candidates, err := c.App.Votes.ListCandidates(r.Context())
	if err != nil {
		c.App.Logger.Error("Failed to list candidates", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if candidates == nil {
		candidates = []election.Candidate{}
	}
	c.writeJSON(w, http.StatusOK, candidates)
}

type candidateTally struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Votes       int64   `json:"votes"`
	LedgerVotes *uint64 `json:"ledger_votes,omitempty"`
}

// HandleResults returns per-candidate tallies from the database alongside the
// contract's on-ledger counters (when reachable) and the governance status
// gating the trustworthiness of the numbers.
func (c *Controller) HandleResults(w http.ResponseWriter, r *http.Request) {
	results, err := c.App.Votes.CandidateResults(r.Context(), c.App.ElectionID)
	if err != nil {
		c.App.Logger.Error("Failed to compute results", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	ids := make([]int64, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.ID)
	}

	// On-ledger counters are supplementary; an unreachable ledger degrades the
	// response rather than failing it.
	var ledgerCounts map[int64]uint64
	if len(ids) > 0 {
		ledgerCounts, err = c.App.Ledger.CandidateCounts(r.Context(), ids)
		if err != nil {
			c.App.Logger.Warn("Failed to read on-ledger counters", zap.Error(err))
		}
	}

	status, err := c.App.Audit.GovernanceStatus(r.Context())
	if err != nil {
		c.App.Logger.Error("Failed to read governance status", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	tallies := make([]candidateTally, 0, len(results))
	for _, res := range results {
		tally := candidateTally{ID: res.ID, Name: res.Name, Votes: res.Votes}
		if ledgerCounts != nil {
			if count, ok := ledgerCounts[res.ID]; ok {
				tally.LedgerVotes = &count
			}
		}
		tallies = append(tallies, tally)
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"results":           tallies,
		"governance_status": status,
	})
}

// HandleVerifyTransaction lets anyone independently check that a transaction
// id is a confirmed vote call against the governance contract.
func (c *Controller) HandleVerifyTransaction(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["txid"]
	if txID == "" {
		c.writeError(w, http.StatusBadRequest, "validation", "txid is required")
		return
	}

	status, err := c.App.Ledger.VerifyTransaction(r.Context(), txID)
	if err != nil {
		c.writeDomainError(w, err)
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"tx_id":           txID,
		"verified":        status.Verified(c.App.Ledger.AppID()),
		"type":            status.Type,
		"confirmed_round": status.ConfirmedRound,
		"round_time":      status.Timestamp,
	})
}

// HandleFairnessLatest returns the most recently published fairness snapshot.
func (c *Controller) HandleFairnessLatest(w http.ResponseWriter, r *http.Request) {
	snapshot, err := c.App.Scorer.Latest(r.Context())
	if err != nil {
		c.App.Logger.Error("Failed to read latest fairness snapshot", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if snapshot == nil {
		c.writeJSON(w, http.StatusOK, map[string]any{"published": false})
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{
		"published": true,
		"snapshot":  snapshot,
	})
}
