// Package vote implements the idempotent vote-submission coordinator: a
// per-identity state machine (NONE → PENDING → CONFIRMED|FAILED) whose
// concurrency control is optimistic and database-enforced. The uniqueness
// constraints on confirmed votes are the arbiter when replicated handlers
// race; the loser's insert is rejected by the store, not by application logic.
package vote

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditlog "github.com/trustpoll/trustpoll/pkg/audit"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"github.com/trustpoll/trustpoll/pkg/db/election"
	"github.com/trustpoll/trustpoll/pkg/db/postgres"
	"github.com/trustpoll/trustpoll/pkg/identity"
	"github.com/trustpoll/trustpoll/pkg/ledger"
	"go.uber.org/zap"
)

var (
	// ErrConflict means a submission for this identity is already in flight.
	ErrConflict = errors.New("vote: submission already in progress")
	// ErrRateLimited means the abuse threshold tripped; the ledger was never contacted.
	ErrRateLimited = errors.New("vote: rapid voting attempts detected")
	// ErrUnknownCandidate means the candidate id is not on the ballot.
	ErrUnknownCandidate = errors.New("vote: unknown candidate")
)

const (
	// pendingWindow is how long a PENDING record blocks a re-submission. A
	// client-observed timeout is not proof of non-confirmation; retrying
	// blindly inside this window would risk a second signed transaction.
	pendingWindow = 20 * time.Second

	// Abuse check: attemptLimit attempts within attemptWindow trips RateLimited.
	attemptWindow = 5 * time.Minute
	attemptLimit  = 3

	flagSeverity = 7
)

// Caster is the slice of the ledger gateway the coordinator needs.
type Caster interface {
	CastVote(ctx context.Context, identityHash string, candidateID int64) (ledger.PendingResult, error)
}

// Recorder is the audit hook; the coordinator only ever appends.
type Recorder interface {
	Append(ctx context.Context, eventType, severity string, payload map[string]any) (*auditdb.Event, error)
}

// Result is what a caller observes after a successful submission. SUCCESS is
// only ever returned when a confirmed vote row provably exists.
type Result struct {
	Status         string `json:"status"`
	TxID           string `json:"tx_id"`
	ConfirmedRound int64  `json:"confirmed_round"`
	VoteHash       string `json:"vote_hash"`
}

// Coordinator drives the vote state machine over the election store.
type Coordinator struct {
	logger     *zap.Logger
	store      election.Store
	caster     Caster
	audit      Recorder
	electionID string
	now        func() time.Time
}

// NewCoordinator wires a coordinator for one election.
func NewCoordinator(logger *zap.Logger, store election.Store, caster Caster, audit Recorder, electionID string) *Coordinator {
	return &Coordinator{
		logger:     logger.Named("coordinator"),
		store:      store,
		caster:     caster,
		audit:      audit,
		electionID: electionID,
		now:        time.Now,
	}
}

// Submit casts exactly one vote for the identity. Repeated calls after a
// success return the original result unchanged, regardless of the candidate
// id supplied later.
func (c *Coordinator) Submit(ctx context.Context, identityHash string, candidateID int64) (Result, error) {
	// Idempotent fast path: a confirmed vote is the final answer.
	if confirmed, err := c.store.GetConfirmedVote(ctx, c.electionID, identityHash); err != nil {
		return Result{}, err
	} else if confirmed != nil {
		return resultOf(confirmed), nil
	}

	exists, err := c.store.CandidateExists(ctx, candidateID)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{}, fmt.Errorf("%w: id %d", ErrUnknownCandidate, candidateID)
	}

	pending, err := c.store.GetPendingVote(ctx, c.electionID, identityHash)
	if err != nil {
		return Result{}, err
	}
	if pending != nil {
		switch pending.Status {
		case election.StatusConfirmed:
			confirmed, err := c.store.GetConfirmedVote(ctx, c.electionID, identityHash)
			if err != nil {
				return Result{}, err
			}
			if confirmed != nil {
				return resultOf(confirmed), nil
			}
			// Inconsistent linkage; fall through and resubmit.
		case election.StatusPending:
			if c.now().Sub(pending.UpdatedAt) < pendingWindow {
				return Result{}, ErrConflict
			}
		}
	}

	capturedAt := c.now()
	voteHash := identity.VoteHash(c.electionID, identityHash, candidateID, capturedAt)
	record := &election.PendingVote{
		ElectionID:   c.electionID,
		IdentityHash: identityHash,
		CandidateID:  candidateID,
		VoteHash:     voteHash,
		CapturedAt:   capturedAt,
	}
	if err := c.store.UpsertPendingVote(ctx, record); err != nil {
		return Result{}, err
	}

	if err := c.checkAbuse(ctx, identityHash); err != nil {
		return Result{}, err
	}

	pendingResult, err := c.caster.CastVote(ctx, identityHash, candidateID)
	if err != nil {
		// Record the failure durably first so the attempt is never lost,
		// then surface the ledger error class untouched.
		if markErr := c.store.MarkPendingFailed(ctx, c.electionID, identityHash, err.Error()); markErr != nil {
			c.logger.Error("failed to mark pending vote failed", zap.Error(markErr))
		}
		if _, auditErr := c.audit.Append(ctx, auditlog.EventVoteChainFailure, auditdb.SeverityCritical, map[string]any{
			"election_id":   c.electionID,
			"identity_hash": identityHash,
			"candidate_id":  candidateID,
			"error":         err.Error(),
		}); auditErr != nil {
			c.logger.Error("failed to append vote_chain_failure event", zap.Error(auditErr))
		}
		return Result{}, err
	}

	confirmed := &election.ConfirmedVote{
		ElectionID:     c.electionID,
		IdentityHash:   identityHash,
		CandidateID:    candidateID,
		VoteHash:       voteHash,
		TxID:           &pendingResult.TxID,
		ConfirmedRound: int64(pendingResult.ConfirmedRound),
		BlockTimestamp: pendingResult.BlockTimestamp,
	}
	if insertErr := c.store.InsertConfirmedVote(ctx, confirmed); insertErr != nil {
		if !postgres.IsUniqueViolation(insertErr) {
			return Result{}, insertErr
		}
		// Lost the race: another handler's transaction is authoritative.
		// Fetch the winning row and return its result as a success.
		winner, err := c.store.GetConfirmedVote(ctx, c.electionID, identityHash)
		if err != nil {
			return Result{}, err
		}
		if winner == nil {
			return Result{}, insertErr
		}
		c.logger.Warn("lost confirmation race, returning winning row",
			zap.String("identity_hash", identityHash),
			zap.String("winning_tx", deref(winner.TxID)),
			zap.String("losing_tx", pendingResult.TxID))
		if err := c.store.MarkPendingConfirmed(ctx, c.electionID, identityHash, deref(winner.TxID)); err != nil {
			c.logger.Error("failed to link pending record to winner", zap.Error(err))
		}
		return resultOf(winner), nil
	}

	if err := c.store.MarkPendingConfirmed(ctx, c.electionID, identityHash, pendingResult.TxID); err != nil {
		c.logger.Error("failed to mark pending vote confirmed", zap.Error(err))
	}

	if _, err := c.audit.Append(ctx, auditlog.EventVoteConfirmed, auditdb.SeverityLow, map[string]any{
		"election_id":     c.electionID,
		"identity_hash":   identityHash,
		"vote_hash":       voteHash,
		"tx_id":           pendingResult.TxID,
		"confirmed_round": pendingResult.ConfirmedRound,
	}); err != nil {
		c.logger.Error("failed to append vote_confirmed event", zap.Error(err))
	}

	return resultOf(confirmed), nil
}

// Status is a read-only lookup of the identity's confirmed vote, nil when the
// identity has not voted.
func (c *Coordinator) Status(ctx context.Context, identityHash string) (*election.ConfirmedVote, error) {
	return c.store.GetConfirmedVote(ctx, c.electionID, identityHash)
}

// CheckAttempt is the pre-flight abuse probe: it records an attempt and
// reports whether the identity is currently allowed to vote.
func (c *Coordinator) CheckAttempt(ctx context.Context, identityHash string) (bool, string, error) {
	err := c.checkAbuse(ctx, identityHash)
	if errors.Is(err, ErrRateLimited) {
		return false, "Rapid voting attempts detected", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, "", nil
}

// checkAbuse counts attempts in the rolling window, records this one, and
// flags the identity when the threshold trips. The ledger is never contacted
// on a flagged attempt.
func (c *Coordinator) checkAbuse(ctx context.Context, identityHash string) error {
	count, err := c.store.CountRecentAttempts(ctx, identityHash, c.now().Add(-attemptWindow))
	if err != nil {
		return err
	}

	if count < attemptLimit {
		return c.store.RecordAttempt(ctx, identityHash, c.electionID, election.AttemptOK)
	}

	if err := c.store.RecordAttempt(ctx, identityHash, c.electionID, election.AttemptFlagged); err != nil {
		return err
	}
	if err := c.store.InsertFlag(ctx, identityHash, "Rapid voting attempts detected", flagSeverity); err != nil {
		c.logger.Error("failed to insert integrity flag", zap.Error(err))
	}
	if _, err := c.audit.Append(ctx, auditlog.EventVoteRateLimited, auditdb.SeverityHigh, map[string]any{
		"election_id":   c.electionID,
		"identity_hash": identityHash,
		"attempts":      count + 1,
		"window":        attemptWindow.String(),
	}); err != nil {
		c.logger.Error("failed to append vote_rate_limited event", zap.Error(err))
	}
	return ErrRateLimited
}

func resultOf(v *election.ConfirmedVote) Result {
	return Result{
		Status:         "SUCCESS",
		TxID:           deref(v.TxID),
		ConfirmedRound: v.ConfirmedRound,
		VoteHash:       v.VoteHash,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
