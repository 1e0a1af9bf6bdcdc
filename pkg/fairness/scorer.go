// Package fairness computes the 0-100 integrity score summarizing detected
// discrepancies between the vote database and the ledger. Every published
// score is persisted as a snapshot whose canonical payload is hashed and
// anchored, so the number cannot be silently altered after the fact.
package fairness

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	auditlog "github.com/trustpoll/trustpoll/pkg/audit"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"github.com/trustpoll/trustpoll/pkg/db/election"
	"github.com/trustpoll/trustpoll/pkg/ledger"
	"go.uber.org/zap"
)

// Compute triggers. Recorded in the snapshot payload so a reader knows what
// prompted the run.
const (
	TriggerVoteCast       = "vote_cast"
	TriggerManual         = "manual"
	TriggerReconciliation = "reconciliation"
)

const (
	missingTxUnit = 10
	invalidTxUnit = 5
	penaltyCap    = 40
	// governancePenalty applies while the COMPROMISED flag is raised.
	governancePenalty = 30

	verifyWorkers = 8
)

// Verifier is the slice of the ledger gateway the scorer needs.
type Verifier interface {
	IsVerified(ctx context.Context, txID string) bool
	Anchor(ctx context.Context, hashHex string) (ledger.AnchorResult, error)
}

// GovernanceReader reads the sticky system-wide status flag and persists
// snapshots; *auditdb.DB implements it.
type GovernanceReader interface {
	GovernanceStatus(ctx context.Context) (string, error)
	InsertSnapshot(ctx context.Context, s *auditdb.FairnessSnapshot) (int64, error)
	LatestSnapshot(ctx context.Context) (*auditdb.FairnessSnapshot, error)
}

// Report is the outcome of one compute run, including the persisted snapshot id.
type Report struct {
	SnapshotID        int64  `json:"snapshot_id"`
	Trigger           string `json:"trigger"`
	Score             int    `json:"score"`
	TotalVotes        int    `json:"total_votes"`
	MissingTx         int    `json:"missing_tx"`
	InvalidTx         int    `json:"invalid_tx"`
	MissingTxPenalty  int    `json:"missing_tx_penalty"`
	InvalidTxPenalty  int    `json:"invalid_tx_penalty"`
	GovernancePenalty int    `json:"governance_penalty"`
	FairnessHash      string `json:"fairness_hash"`
	Anchored          bool   `json:"anchored"`
	TxID              string `json:"tx_id,omitempty"`
}

// Scorer computes and publishes fairness snapshots for one election.
type Scorer struct {
	logger     *zap.Logger
	votes      election.Store
	audit      GovernanceReader
	verifier   Verifier
	electionID string
	now        func() time.Time
}

// NewScorer wires a scorer for one election.
func NewScorer(logger *zap.Logger, votes election.Store, audit GovernanceReader, verifier Verifier, electionID string) *Scorer {
	return &Scorer{
		logger:     logger.Named("fairness"),
		votes:      votes,
		audit:      audit,
		verifier:   verifier,
		electionID: electionID,
		now:        time.Now,
	}
}

// Compute derives the score from current state, anchors the canonical payload
// hash, and persists a snapshot. Safe to re-run at any time; each run appends
// a new snapshot and never mutates prior ones. Anchoring is best effort: an
// unreachable ledger yields a snapshot without provenance, not an error.
func (s *Scorer) Compute(ctx context.Context, trigger string) (Report, error) {
	votes, err := s.votes.ListConfirmedVotes(ctx, s.electionID)
	if err != nil {
		return Report{}, err
	}

	missing, invalid := s.inspect(ctx, votes)

	status, err := s.audit.GovernanceStatus(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Trigger:          trigger,
		TotalVotes:       len(votes),
		MissingTx:        missing,
		InvalidTx:        invalid,
		MissingTxPenalty: min(penaltyCap, missingTxUnit*missing),
		InvalidTxPenalty: min(penaltyCap, invalidTxUnit*invalid),
	}
	if status == auditdb.StatusCompromised {
		report.GovernancePenalty = governancePenalty
	}
	report.Score = clamp(100-report.MissingTxPenalty-report.InvalidTxPenalty-report.GovernancePenalty, 0, 100)

	payload := map[string]any{
		"trigger":            trigger,
		"election_id":        s.electionID,
		"total_votes":        report.TotalVotes,
		"missing_tx":         report.MissingTx,
		"invalid_tx":         report.InvalidTx,
		"missing_tx_penalty": report.MissingTxPenalty,
		"invalid_tx_penalty": report.InvalidTxPenalty,
		"governance_penalty": report.GovernancePenalty,
		"governance_status":  status,
		"score":              report.Score,
		"computed_at":        s.now().Unix(),
	}
	canonical, err := auditlog.CanonicalJSON(payload)
	if err != nil {
		return Report{}, err
	}
	report.FairnessHash = auditlog.EntryHash(canonical)

	snapshot := &auditdb.FairnessSnapshot{
		Payload:      canonical,
		FairnessHash: report.FairnessHash,
		Score:        report.Score,
	}
	if anchor, err := s.verifier.Anchor(ctx, report.FairnessHash); err != nil {
		s.logger.Warn("failed to anchor fairness snapshot", zap.Error(err))
	} else if anchor.Anchored {
		round := int64(anchor.Round)
		snapshot.TxID = &anchor.TxID
		snapshot.Round = &round
		report.Anchored = true
		report.TxID = anchor.TxID
	}

	id, err := s.audit.InsertSnapshot(ctx, snapshot)
	if err != nil {
		return Report{}, err
	}
	report.SnapshotID = id

	s.logger.Info("published fairness snapshot",
		zap.Int64("snapshot_id", id),
		zap.String("trigger", trigger),
		zap.Int("score", report.Score),
		zap.Bool("anchored", report.Anchored))
	return report, nil
}

// Latest returns the most recent snapshot, nil when none has been published.
func (s *Scorer) Latest(ctx context.Context) (*auditdb.FairnessSnapshot, error) {
	return s.audit.LatestSnapshot(ctx)
}

// inspect counts votes lacking a transaction id and votes whose recorded
// transaction fails ledger verification. Verification fans out over a bounded
// pool since each check is a remote lookup.
func (s *Scorer) inspect(ctx context.Context, votes []election.ConfirmedVote) (missing, invalid int) {
	var toVerify []string
	for _, v := range votes {
		if v.TxID == nil || *v.TxID == "" {
			missing++
			continue
		}
		toVerify = append(toVerify, *v.TxID)
	}
	if len(toVerify) == 0 {
		return missing, 0
	}

	results := make([]bool, len(toVerify))
	pool := pond.NewPool(verifyWorkers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	for i, txID := range toVerify {
		group.Submit(func() {
			results[i] = s.verifier.IsVerified(ctx, txID)
		})
	}
	if err := group.Wait(); err != nil {
		s.logger.Warn("fairness verification interrupted", zap.Error(err))
	}

	for _, ok := range results {
		if !ok {
			invalid++
		}
	}
	return missing, invalid
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
