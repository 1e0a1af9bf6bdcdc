package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustpoll/trustpoll/app/api/types"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"github.com/trustpoll/trustpoll/pkg/db/election"
	"github.com/trustpoll/trustpoll/pkg/identity"
	"github.com/trustpoll/trustpoll/pkg/ledger"
	"github.com/trustpoll/trustpoll/pkg/otp"
	"github.com/trustpoll/trustpoll/pkg/session"
	"github.com/trustpoll/trustpoll/pkg/vote"
	"go.uber.org/zap"
)

const testElection = "general"

// mockVotes is an in-memory election.Store sufficient for handler tests.
type mockVotes struct {
	election.Store

	voters     map[string]bool // identityHash -> verified
	candidates map[int64]string
	confirmed  map[string]*election.ConfirmedVote
	pending    map[string]*election.PendingVote
	attempts   int
	results    []election.CandidateResult
	flags      []election.IntegrityFlag
	stats      election.Stats
}

func newMockVotes() *mockVotes {
	return &mockVotes{
		voters:     map[string]bool{},
		candidates: map[int64]string{1: "Alice", 2: "Bob"},
		confirmed:  map[string]*election.ConfirmedVote{},
		pending:    map[string]*election.PendingVote{},
	}
}

func (m *mockVotes) UpsertVoter(_ context.Context, _, identityHash string) error {
	if _, ok := m.voters[identityHash]; !ok {
		m.voters[identityHash] = false
	}
	return nil
}

func (m *mockVotes) MarkVoterVerified(_ context.Context, identityHash string) error {
	m.voters[identityHash] = true
	return nil
}

func (m *mockVotes) IsVoterVerified(_ context.Context, identityHash string) (bool, error) {
	return m.voters[identityHash], nil
}

func (m *mockVotes) CandidateExists(_ context.Context, id int64) (bool, error) {
	_, ok := m.candidates[id]
	return ok, nil
}

func (m *mockVotes) ListCandidates(_ context.Context) ([]election.Candidate, error) {
	out := make([]election.Candidate, 0, len(m.candidates))
	for id, name := range m.candidates {
		out = append(out, election.Candidate{ID: id, Name: name})
	}
	return out, nil
}

func (m *mockVotes) CandidateResults(_ context.Context, _ string) ([]election.CandidateResult, error) {
	return m.results, nil
}

func (m *mockVotes) GetConfirmedVote(_ context.Context, electionID, identityHash string) (*election.ConfirmedVote, error) {
	return m.confirmed[electionID+"/"+identityHash], nil
}

func (m *mockVotes) InsertConfirmedVote(_ context.Context, v *election.ConfirmedVote) error {
	m.confirmed[v.ElectionID+"/"+v.IdentityHash] = v
	return nil
}

func (m *mockVotes) GetPendingVote(_ context.Context, electionID, identityHash string) (*election.PendingVote, error) {
	return m.pending[electionID+"/"+identityHash], nil
}

func (m *mockVotes) UpsertPendingVote(_ context.Context, v *election.PendingVote) error {
	m.pending[v.ElectionID+"/"+v.IdentityHash] = v
	return nil
}

func (m *mockVotes) MarkPendingFailed(_ context.Context, _, _, _ string) error    { return nil }
func (m *mockVotes) MarkPendingConfirmed(_ context.Context, _, _, _ string) error { return nil }

func (m *mockVotes) RecordAttempt(_ context.Context, _, _, _ string) error {
	m.attempts++
	return nil
}

func (m *mockVotes) CountRecentAttempts(_ context.Context, _ string, _ time.Time) (int, error) {
	return m.attempts, nil
}

func (m *mockVotes) InsertFlag(_ context.Context, identityHash, reason string, severity int) error {
	m.flags = append(m.flags, election.IntegrityFlag{IdentityHash: identityHash, Reason: reason, Severity: severity})
	return nil
}

func (m *mockVotes) ListFlags(_ context.Context) ([]election.IntegrityFlag, error) {
	return m.flags, nil
}

func (m *mockVotes) GetStats(_ context.Context) (election.Stats, error) { return m.stats, nil }

// mockAudit covers the audit store surface the handlers read.
type mockAudit struct {
	auditdb.Store
	status string
}

func (m *mockAudit) GovernanceStatus(context.Context) (string, error) { return m.status, nil }
func (m *mockAudit) ResetGovernanceStatus(context.Context) error {
	m.status = auditdb.StatusHealthy
	return nil
}

// mockLedger covers the gateway slice the handlers use directly.
type mockLedger struct {
	counts    map[int64]uint64
	countsErr error
	verifyErr error
	appID     uint64
}

func (m *mockLedger) AddCandidate(_ context.Context, id int64) (ledger.PendingResult, error) {
	return ledger.PendingResult{TxID: "CAND-TX", ConfirmedRound: 5}, nil
}

func (m *mockLedger) CandidateCounts(_ context.Context, _ []int64) (map[int64]uint64, error) {
	return m.counts, m.countsErr
}

func (m *mockLedger) VerifyTransaction(_ context.Context, txID string) (ledger.TxStatus, error) {
	if m.verifyErr != nil {
		return ledger.TxStatus{}, m.verifyErr
	}
	return ledger.TxStatus{Type: ledger.TxTypeAppCall, AppID: m.appID, ConfirmedRound: 7, FirstArg: ledger.ActionCastVote}, nil
}

func (m *mockLedger) AppID() uint64 { return m.appID }

// mockCaster scripts the coordinator's ledger calls.
type mockCaster struct {
	err error
}

func (m *mockCaster) CastVote(context.Context, string, int64) (ledger.PendingResult, error) {
	if m.err != nil {
		return ledger.PendingResult{}, m.err
	}
	return ledger.PendingResult{TxID: "VOTE-TX", ConfirmedRound: 12, BlockTimestamp: 1767225600}, nil
}

// stubRecorder satisfies the coordinator's audit hook.
type stubRecorder struct{}

func (stubRecorder) Append(_ context.Context, eventType, severity string, _ map[string]any) (*auditdb.Event, error) {
	return &auditdb.Event{EventType: eventType, Severity: severity}, nil
}

// captureSender records the last OTP mailed.
type captureSender struct {
	to   string
	code string
}

func (s *captureSender) SendOTP(to, code string) error {
	s.to, s.code = to, code
	return nil
}

type harness struct {
	controller *Controller
	votes      *mockVotes
	audit      *mockAudit
	ledger     *mockLedger
	caster     *mockCaster
	sender     *captureSender
	handler    http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	votes := newMockVotes()
	audit := &mockAudit{status: auditdb.StatusHealthy}
	gateway := &mockLedger{appID: 42, counts: map[int64]uint64{1: 3}}
	caster := &mockCaster{}
	sender := &captureSender{}

	sessions, err := session.New([]byte("test-secret"))
	require.NoError(t, err)

	app := &types.App{
		Votes:       votes,
		Audit:       audit,
		Ledger:      gateway,
		Coordinator: vote.NewCoordinator(logger, votes, caster, stubRecorder{}, testElection),
		OTP:         otp.NewStore(0),
		Email:       sender,
		Sessions:    sessions,
		ElectionID:  testElection,
		EmailDomain: "vit.edu",
		Logger:      logger,
	}

	ctl := &Controller{
		App:        app,
		AdminToken: "admin-token",
		Users:      map[string]User{},
		JWTSecret:  []byte("test-secret"),
	}
	router, err := ctl.NewRouter()
	require.NoError(t, err)

	return &harness{
		controller: ctl,
		votes:      votes,
		audit:      audit,
		ledger:     gateway,
		caster:     caster,
		sender:     sender,
		handler:    router,
	}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

// register + verify and return the session token.
func (h *harness) login(t *testing.T, email string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/api/auth/verify", "", map[string]string{
		"email": email,
		"otp":   h.sender.code,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestRegisterRejectsForeignDomain(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "mallory@example.com"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "vit.edu")
	assert.Empty(t, h.sender.code)
}

func TestRegisterAndVerifyIssuesToken(t *testing.T) {
	h := newHarness(t)

	token := h.login(t, "Voter@VIT.edu")

	// Email was normalized before hashing and delivery.
	assert.Equal(t, "voter@vit.edu", h.sender.to)

	hash := identity.HashEmail("voter@vit.edu")
	assert.True(t, h.votes.voters[hash])

	claims, err := h.controller.App.Sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, hash, claims.Identity)
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "voter@vit.edu"})
	require.Equal(t, http.StatusOK, rec.Code)

	wrong := "000000"
	if h.sender.code == wrong {
		wrong = "999999"
	}
	rec = h.do(t, http.MethodPost, "/api/auth/verify", "", map[string]string{"email": "voter@vit.edu", "otp": wrong})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVoteRequiresSession(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/vote", "", map[string]int64{"candidate_id": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/vote", "not-a-token", map[string]int64{"candidate_id": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVoteSubmitHappyPath(t *testing.T) {
	h := newHarness(t)
	token := h.login(t, "voter@vit.edu")

	rec := h.do(t, http.MethodPost, "/api/vote", token, map[string]int64{"candidate_id": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out vote.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "SUCCESS", out.Status)
	assert.Equal(t, "VOTE-TX", out.TxID)
	assert.Equal(t, int64(12), out.ConfirmedRound)
	assert.NotEmpty(t, out.VoteHash)
}

func TestVoteSubmitRejectsUnverifiedVoter(t *testing.T) {
	h := newHarness(t)
	hash := identity.HashEmail("voter@vit.edu")
	token, err := h.controller.App.Sessions.Issue(hash, time.Hour)
	require.NoError(t, err)

	// Valid session but registration never completed verification.
	rec := h.do(t, http.MethodPost, "/api/vote", token, map[string]int64{"candidate_id": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVoteSubmitErrorMapping(t *testing.T) {
	h := newHarness(t)
	token := h.login(t, "voter@vit.edu")

	// Unknown candidate -> 400
	rec := h.do(t, http.MethodPost, "/api/vote", token, map[string]int64{"candidate_id": 99})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Ledger timeout -> 502 with the dedicated code
	h.caster.err = ledger.ErrLedgerTimeout
	rec = h.do(t, http.MethodPost, "/api/vote", token, map[string]int64{"candidate_id": 1})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_timeout")

	// In-flight pending record -> 409
	h.caster.err = nil
	now := time.Now()
	h.votes.pending[testElection+"/"+identity.HashEmail("voter@vit.edu")] = &election.PendingVote{
		ElectionID:   testElection,
		IdentityHash: identity.HashEmail("voter@vit.edu"),
		Status:       election.StatusPending,
		UpdatedAt:    now,
	}
	rec = h.do(t, http.MethodPost, "/api/vote", token, map[string]int64{"candidate_id": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVoteSubmitRateLimited(t *testing.T) {
	h := newHarness(t)
	token := h.login(t, "voter@vit.edu")
	h.votes.attempts = 3

	rec := h.do(t, http.MethodPost, "/api/vote", token, map[string]int64{"candidate_id": 1})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestVoteStatus(t *testing.T) {
	h := newHarness(t)
	token := h.login(t, "voter@vit.edu")

	rec := h.do(t, http.MethodGet, "/api/vote/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"voted":false`)

	rec = h.do(t, http.MethodPost, "/api/vote", token, map[string]int64{"candidate_id": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/vote/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"voted":true`)
	assert.Contains(t, rec.Body.String(), "VOTE-TX")
}

func TestResultsIncludeLedgerCounters(t *testing.T) {
	h := newHarness(t)
	h.votes.results = []election.CandidateResult{
		{ID: 1, Name: "Alice", Votes: 3},
		{ID: 2, Name: "Bob", Votes: 0},
	}

	rec := h.do(t, http.MethodGet, "/api/results", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Results []candidateTally `json:"results"`
		Status  string           `json:"governance_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, auditdb.StatusHealthy, out.Status)
	require.Len(t, out.Results, 2)
	require.NotNil(t, out.Results[0].LedgerVotes)
	assert.Equal(t, uint64(3), *out.Results[0].LedgerVotes)
	assert.Nil(t, out.Results[1].LedgerVotes)
}

func TestVerifyTransactionEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/transactions/SOMETX/verify", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"verified":true`)
}

func TestVerifyTransactionUnknownTxIs404(t *testing.T) {
	h := newHarness(t)
	h.ledger.verifyErr = ledger.ErrTxNotFound

	rec := h.do(t, http.MethodGet, "/api/transactions/NOSUCHTX/verify", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "tx_not_found")
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/admin/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/admin/stats", "admin-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "governance_status")
}

func TestGovernanceReset(t *testing.T) {
	h := newHarness(t)
	h.audit.status = auditdb.StatusCompromised

	rec := h.do(t, http.MethodPost, "/api/admin/governance/reset", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auditdb.StatusHealthy, h.audit.status)
}
