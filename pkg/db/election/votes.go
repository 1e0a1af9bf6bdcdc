package election

import (
	"context"
	"fmt"
	"time"

	"github.com/trustpoll/trustpoll/pkg/db/postgres"
)

// Pending vote statuses. FAILED records may be retried back to PENDING by a
// later submission; CONFIRMED records are terminal.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusFailed    = "FAILED"
)

// Attempt outcomes recorded for the abuse window.
const (
	AttemptOK      = "ok"
	AttemptFlagged = "flagged"
)

// PendingVote tracks one submission attempt per (election, identity). Rows are
// mutated only by the coordinator and never deleted.
type PendingVote struct {
	ElectionID   string
	IdentityHash string
	CandidateID  int64
	VoteHash     string
	CapturedAt   time.Time
	Status       string
	TxID         *string
	LastError    *string
	UpdatedAt    time.Time
}

// ConfirmedVote is the sole source of vote-counting truth. Immutable once written.
type ConfirmedVote struct {
	ElectionID     string
	IdentityHash   string
	CandidateID    int64
	VoteHash       string
	TxID           *string
	ConfirmedRound int64
	BlockTimestamp int64
	CreatedAt      time.Time
}

// GetConfirmedVote returns the confirmed vote for an identity, or nil when the
// identity has not voted.
func (db *DB) GetConfirmedVote(ctx context.Context, electionID, identityHash string) (*ConfirmedVote, error) {
	query := `
		SELECT election_id, identity_hash, candidate_id, vote_hash, tx_id,
		       confirmed_round, block_timestamp, created_at
		FROM confirmed_votes
		WHERE election_id = $1 AND identity_hash = $2
	`
	var v ConfirmedVote
	err := db.QueryRow(ctx, query, electionID, identityHash).Scan(
		&v.ElectionID, &v.IdentityHash, &v.CandidateID, &v.VoteHash, &v.TxID,
		&v.ConfirmedRound, &v.BlockTimestamp, &v.CreatedAt,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query confirmed vote: %w", err)
	}
	return &v, nil
}

// InsertConfirmedVote writes the row guarded by the (election, identity),
// vote_hash and tx_id uniqueness constraints. On a concurrency race the loser
// sees a unique violation; use postgres.IsUniqueViolation to detect it.
func (db *DB) InsertConfirmedVote(ctx context.Context, v *ConfirmedVote) error {
	query := `
		INSERT INTO confirmed_votes
			(election_id, identity_hash, candidate_id, vote_hash, tx_id, confirmed_round, block_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return db.Exec(ctx, query,
		v.ElectionID, v.IdentityHash, v.CandidateID, v.VoteHash, v.TxID,
		v.ConfirmedRound, v.BlockTimestamp)
}

// ListConfirmedVotes returns every confirmed vote for an election, oldest first.
func (db *DB) ListConfirmedVotes(ctx context.Context, electionID string) ([]ConfirmedVote, error) {
	query := `
		SELECT election_id, identity_hash, candidate_id, vote_hash, tx_id,
		       confirmed_round, block_timestamp, created_at
		FROM confirmed_votes
		WHERE election_id = $1
		ORDER BY id
	`
	rows, err := db.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("query confirmed votes: %w", err)
	}
	defer rows.Close()

	var out []ConfirmedVote
	for rows.Next() {
		var v ConfirmedVote
		if err := rows.Scan(
			&v.ElectionID, &v.IdentityHash, &v.CandidateID, &v.VoteHash, &v.TxID,
			&v.ConfirmedRound, &v.BlockTimestamp, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetPendingVote returns the pending record for an identity, or nil.
func (db *DB) GetPendingVote(ctx context.Context, electionID, identityHash string) (*PendingVote, error) {
	query := `
		SELECT election_id, identity_hash, candidate_id, vote_hash, captured_at,
		       status, tx_id, last_error, updated_at
		FROM pending_votes
		WHERE election_id = $1 AND identity_hash = $2
	`
	var v PendingVote
	err := db.QueryRow(ctx, query, electionID, identityHash).Scan(
		&v.ElectionID, &v.IdentityHash, &v.CandidateID, &v.VoteHash, &v.CapturedAt,
		&v.Status, &v.TxID, &v.LastError, &v.UpdatedAt,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query pending vote: %w", err)
	}
	return &v, nil
}

// UpsertPendingVote creates or refreshes the PENDING record for an identity,
// clearing any previous failure.
func (db *DB) UpsertPendingVote(ctx context.Context, v *PendingVote) error {
	query := `
		INSERT INTO pending_votes
			(election_id, identity_hash, candidate_id, vote_hash, captured_at, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (election_id, identity_hash) DO UPDATE SET
			candidate_id = EXCLUDED.candidate_id,
			vote_hash = EXCLUDED.vote_hash,
			captured_at = EXCLUDED.captured_at,
			status = EXCLUDED.status,
			tx_id = NULL,
			last_error = NULL,
			updated_at = NOW()
	`
	return db.Exec(ctx, query,
		v.ElectionID, v.IdentityHash, v.CandidateID, v.VoteHash, v.CapturedAt, StatusPending)
}

// MarkPendingFailed records a durable failure against the pending record so
// the attempt is never silently lost.
func (db *DB) MarkPendingFailed(ctx context.Context, electionID, identityHash, lastError string) error {
	query := `
		UPDATE pending_votes
		SET status = $3, last_error = $4, updated_at = NOW()
		WHERE election_id = $1 AND identity_hash = $2
	`
	return db.Exec(ctx, query, electionID, identityHash, StatusFailed, lastError)
}

// MarkPendingConfirmed links the pending record to the winning transaction.
func (db *DB) MarkPendingConfirmed(ctx context.Context, electionID, identityHash, txID string) error {
	query := `
		UPDATE pending_votes
		SET status = $3, tx_id = $4, last_error = NULL, updated_at = NOW()
		WHERE election_id = $1 AND identity_hash = $2
	`
	return db.Exec(ctx, query, electionID, identityHash, StatusConfirmed, txID)
}

// RecordAttempt appends one row to the abuse window.
func (db *DB) RecordAttempt(ctx context.Context, identityHash, electionID, result string) error {
	query := `INSERT INTO vote_attempts (identity_hash, election_id, result) VALUES ($1, $2, $3)`
	return db.Exec(ctx, query, identityHash, electionID, result)
}

// CountRecentAttempts counts attempts by an identity since the cutoff.
func (db *DB) CountRecentAttempts(ctx context.Context, identityHash string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM vote_attempts WHERE identity_hash = $1 AND created_at > $2`
	var count int
	if err := db.QueryRow(ctx, query, identityHash, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}
