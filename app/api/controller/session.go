package controller

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/trustpoll/trustpoll/pkg/identity"
	"github.com/trustpoll/trustpoll/pkg/utils"
	"go.uber.org/zap"
)

// HandleRegister starts voter registration: it records the voter and mails a
// one-time code. Re-registering before verification re-issues the code.
func (c *Controller) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		c.writeError(w, http.StatusBadRequest, "validation", "bad json")
		return
	}

	email := identity.Normalize(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		c.writeError(w, http.StatusBadRequest, "validation", "a valid email is required")
		return
	}
	if !strings.HasSuffix(email, "@"+c.App.EmailDomain) {
		c.writeError(w, http.StatusBadRequest, "validation",
			"registration is restricted to @"+c.App.EmailDomain+" addresses")
		return
	}

	identityHash := identity.HashEmail(email)
	if err := c.App.Votes.UpsertVoter(r.Context(), email, identityHash); err != nil {
		c.App.Logger.Error("Failed to upsert voter", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	code, err := c.App.OTP.Issue(email)
	if err != nil {
		c.App.Logger.Error("Failed to issue verification code", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if err := c.App.Email.SendOTP(email, code); err != nil {
		c.App.Logger.Error("Failed to send verification code", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "email_delivery", "could not deliver verification code")
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]string{
		"message": "verification code sent",
	})
}

// HandleVerifyOTP exchanges a valid one-time code for a session bearer token.
func (c *Controller) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		c.writeError(w, http.StatusBadRequest, "validation", "bad json")
		return
	}

	email := identity.Normalize(in.Email)
	if email == "" || in.OTP == "" {
		c.writeError(w, http.StatusBadRequest, "validation", "email and otp are required")
		return
	}

	if !c.App.OTP.Verify(email, in.OTP) {
		c.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired verification code")
		return
	}

	identityHash := identity.HashEmail(email)
	if err := c.App.Votes.MarkVoterVerified(r.Context(), identityHash); err != nil {
		c.App.Logger.Error("Failed to mark voter verified", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	ttl := utils.EnvDuration("SESSION_TTL", time.Hour)
	token, err := c.App.Sessions.Issue(identityHash, ttl)
	if err != nil {
		c.App.Logger.Error("Failed to issue session token", zap.Error(err))
		c.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"token":         token,
		"identity_hash": identityHash,
		"expires_in":    int64(ttl.Seconds()),
	})
}
