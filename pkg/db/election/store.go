package election

import (
	"context"
	"time"
)

// Store exposes the election database operations consumed by the coordinator,
// the fairness scorer and the HTTP controllers. *DB implements it; tests mock it.
type Store interface {
	InitializeDB(ctx context.Context) error

	// Vote state machine
	GetConfirmedVote(ctx context.Context, electionID, identityHash string) (*ConfirmedVote, error)
	InsertConfirmedVote(ctx context.Context, v *ConfirmedVote) error
	ListConfirmedVotes(ctx context.Context, electionID string) ([]ConfirmedVote, error)
	GetPendingVote(ctx context.Context, electionID, identityHash string) (*PendingVote, error)
	UpsertPendingVote(ctx context.Context, v *PendingVote) error
	MarkPendingFailed(ctx context.Context, electionID, identityHash, lastError string) error
	MarkPendingConfirmed(ctx context.Context, electionID, identityHash, txID string) error

	// Abuse window
	RecordAttempt(ctx context.Context, identityHash, electionID, result string) error
	CountRecentAttempts(ctx context.Context, identityHash string, since time.Time) (int, error)

	// Ballot
	AddCandidate(ctx context.Context, name string) (int64, error)
	CandidateExists(ctx context.Context, id int64) (bool, error)
	ListCandidates(ctx context.Context) ([]Candidate, error)
	CandidateResults(ctx context.Context, electionID string) ([]CandidateResult, error)

	// Registration
	UpsertVoter(ctx context.Context, email, identityHash string) error
	MarkVoterVerified(ctx context.Context, identityHash string) error
	IsVoterVerified(ctx context.Context, identityHash string) (bool, error)

	// Flags and dashboard
	InsertFlag(ctx context.Context, identityHash, reason string, severity int) error
	ListFlags(ctx context.Context) ([]IntegrityFlag, error)
	AcknowledgeFlags(ctx context.Context, identityHash string) error
	GetStats(ctx context.Context) (Stats, error)
}

var _ Store = (*DB)(nil)
