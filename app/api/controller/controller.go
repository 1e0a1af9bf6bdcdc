package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/trustpoll/trustpoll/app/api/types"
	"github.com/trustpoll/trustpoll/pkg/utils"
)

// User is one admin console account.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]User
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminUsersJSON := utils.Env("ADMIN_USERS", "")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, _ := utils.HashOrRead(adminPass)
	users := map[string]User{}
	users[adminUser] = User{Username: adminUser, Hash: phash, Role: "admin"}
	if adminUsersJSON != "" {
		_ = json.Unmarshal([]byte(adminUsersJSON), &users)
	}

	return &Controller{
		App:        app,
		AdminToken: adminToken,
		Users:      users,
		JWTSecret:  jwtSecret,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Development: Echo back the origin to allow credentials with any origin
		// TODO: Restrict this in production to specific domains
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodPut+", "+http.MethodPatch+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	// basically it's ok, could even be a public endpoint
	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	// Voter registration and session issuance
	r.HandleFunc("/api/auth/register", c.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/verify", c.HandleVerifyOTP).Methods(http.MethodPost)

	// Ballot (public)
	r.HandleFunc("/api/candidates", c.HandleCandidatesList).Methods(http.MethodGet)
	r.HandleFunc("/api/results", c.HandleResults).Methods(http.MethodGet)
	r.HandleFunc("/api/fairness", c.HandleFairnessLatest).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions/{txid}/verify", c.HandleVerifyTransaction).Methods(http.MethodGet)

	// Voting (session-bearer gated)
	r.Handle("/api/vote", c.RequireVoter(http.HandlerFunc(c.HandleVoteSubmit))).Methods(http.MethodPost)
	r.Handle("/api/vote/status", c.RequireVoter(http.HandlerFunc(c.HandleVoteStatus))).Methods(http.MethodGet)
	r.Handle("/api/vote/attempt", c.RequireVoter(http.HandlerFunc(c.HandleVoteAttempt))).Methods(http.MethodPost)

	// Live audit feed
	r.HandleFunc("/api/audit/live", c.HandleAuditFeed).Methods(http.MethodGet)

	// Admin API - Login/Logout (normalized to /api prefix)
	r.HandleFunc("/api/auth/login", c.HandleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleAdminLogout).Methods(http.MethodPost)

	// Admin API
	r.Handle("/api/admin/stats", c.RequireAdmin(http.HandlerFunc(c.HandleStats))).Methods(http.MethodGet)
	r.Handle("/api/admin/flags", c.RequireAdmin(http.HandlerFunc(c.HandleFlagsList))).Methods(http.MethodGet)
	r.Handle("/api/admin/flags/acknowledge", c.RequireAdmin(http.HandlerFunc(c.HandleFlagsAcknowledge))).Methods(http.MethodPost)
	r.Handle("/api/admin/candidates", c.RequireAdmin(http.HandlerFunc(c.HandleCandidateAdd))).Methods(http.MethodPost)
	r.Handle("/api/admin/audit/events", c.RequireAdmin(http.HandlerFunc(c.HandleAuditEvents))).Methods(http.MethodGet)
	r.Handle("/api/admin/reconcile", c.RequireAdmin(http.HandlerFunc(c.HandleReconcile))).Methods(http.MethodPost)
	r.Handle("/api/admin/fairness", c.RequireAdmin(http.HandlerFunc(c.HandleFairnessCompute))).Methods(http.MethodPost)
	r.Handle("/api/admin/governance/reset", c.RequireAdmin(http.HandlerFunc(c.HandleGovernanceReset))).Methods(http.MethodPost)

	return r, nil
}
