package controller

import (
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	auditlog "github.com/trustpoll/trustpoll/pkg/audit"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"github.com/trustpoll/trustpoll/pkg/db/election"
	"github.com/trustpoll/trustpoll/pkg/fairness"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// HandleAdminLogin handles admin login
func (c *Controller) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		c.writeError(w, http.StatusBadRequest, "validation", "bad json")
		return
	}
	u, ok := c.Users[in.Username]
	if !ok {
		c.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword(u.Hash, []byte(in.Password)); err != nil {
		c.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	c.IssueAdminSession(w, in.Username)
	c.writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// HandleAdminLogout handles admin logout
func (c *Controller) HandleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "tp_session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats returns the dashboard counters plus governance status.
func (c *Controller) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.App.Votes.GetStats(r.Context())
	if err != nil {
		c.App.Logger.Error("Failed to gather stats", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	status, err := c.App.Audit.GovernanceStatus(r.Context())
	if err != nil {
		c.App.Logger.Error("Failed to read governance status", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{
		"stats":             stats,
		"governance_status": status,
	})
}

// HandleFlagsList returns open integrity flags.
func (c *Controller) HandleFlagsList(w http.ResponseWriter, r *http.Request) {
	flags, err := c.App.Votes.ListFlags(r.Context())
	if err != nil {
		c.App.Logger.Error("Failed to list flags", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if flags == nil {
		flags = []election.IntegrityFlag{}
	}
	c.writeJSON(w, http.StatusOK, flags)
}

// HandleFlagsAcknowledge clears open flags for one identity.
func (c *Controller) HandleFlagsAcknowledge(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IdentityHash string `json:"identity_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.IdentityHash == "" {
		c.writeError(w, http.StatusBadRequest, "validation", "identity_hash is required")
		return
	}
	if err := c.App.Votes.AcknowledgeFlags(r.Context(), in.IdentityHash); err != nil {
		c.App.Logger.Error("Failed to acknowledge flags", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCandidateAdd registers a candidate both in the database and on the
// contract, then records the registration in the audit log.
func (c *Controller) HandleCandidateAdd(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		c.writeError(w, http.StatusBadRequest, "validation", "name is required")
		return
	}

	id, err := c.App.Votes.AddCandidate(r.Context(), in.Name)
	if err != nil {
		c.App.Logger.Error("Failed to insert candidate", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	res, err := c.App.Ledger.AddCandidate(r.Context(), id)
	if err != nil {
		// The database row stands; the counter registration can be replayed.
		c.App.Logger.Error("Failed to register candidate counter on ledger",
			zap.Int64("candidate_id", id), zap.Error(err))
		c.writeDomainError(w, err)
		return
	}

	if _, err := c.App.AuditLog.Append(r.Context(), auditlog.EventCandidateAdded, auditdb.SeverityMedium, map[string]any{
		"candidate_id": id,
		"name":         in.Name,
		"tx_id":        res.TxID,
	}); err != nil {
		c.App.Logger.Error("Failed to append candidate_added event", zap.Error(err))
	}

	c.writeJSON(w, http.StatusCreated, map[string]any{
		"id":              id,
		"name":            in.Name,
		"tx_id":           res.TxID,
		"confirmed_round": res.ConfirmedRound,
	})
}

// HandleAuditEvents returns recent audit events, newest first.
func (c *Controller) HandleAuditEvents(w http.ResponseWriter, r *http.Request) {
	events, err := c.App.Audit.ListRecentEvents(r.Context(), 100)
	if err != nil {
		c.App.Logger.Error("Failed to list audit events", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if events == nil {
		events = []auditdb.Event{}
	}
	c.writeJSON(w, http.StatusOK, events)
}

// HandleReconcile runs an on-demand reconciliation pass.
func (c *Controller) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := c.App.AuditLog.Reconcile(r.Context())
	if err != nil {
		c.App.Logger.Error("Reconciliation failed", zap.Error(err))
		c.writeDomainError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, summary)
}

// HandleFairnessCompute recomputes and publishes a fairness snapshot.
func (c *Controller) HandleFairnessCompute(w http.ResponseWriter, r *http.Request) {
	report, err := c.App.Scorer.Compute(r.Context(), fairness.TriggerManual)
	if err != nil {
		c.App.Logger.Error("Fairness compute failed", zap.Error(err))
		c.writeDomainError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, report)
}

// HandleGovernanceReset is the explicit operator action returning governance
// status to HEALTHY after a compromise has been investigated.
func (c *Controller) HandleGovernanceReset(w http.ResponseWriter, r *http.Request) {
	if err := c.App.Audit.ResetGovernanceStatus(r.Context()); err != nil {
		c.App.Logger.Error("Failed to reset governance status", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"governance_status": auditdb.StatusHealthy})
}
