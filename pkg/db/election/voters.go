package election

import (
	"context"
	"fmt"
	"time"
)

// Voter is the registration row linking an email to its identity hash. The
// email is kept off every ledger and audit surface; only the hash travels.
type Voter struct {
	ID           int64
	Email        string
	IdentityHash string
	Verified     bool
	CreatedAt    time.Time
}

// UpsertVoter registers an email, keeping an existing row (and its verified
// state) when the voter registers again.
func (db *DB) UpsertVoter(ctx context.Context, email, identityHash string) error {
	query := `
		INSERT INTO voters (email, identity_hash)
		VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING
	`
	return db.Exec(ctx, query, email, identityHash)
}

// MarkVoterVerified flips the voter to verified after a successful OTP check.
func (db *DB) MarkVoterVerified(ctx context.Context, identityHash string) error {
	return db.Exec(ctx, `UPDATE voters SET verified = TRUE WHERE identity_hash = $1`, identityHash)
}

// IsVoterVerified reports whether the identity completed email verification.
func (db *DB) IsVoterVerified(ctx context.Context, identityHash string) (bool, error) {
	var verified bool
	err := db.QueryRow(ctx,
		`SELECT COALESCE((SELECT verified FROM voters WHERE identity_hash = $1), FALSE)`,
		identityHash).Scan(&verified)
	if err != nil {
		return false, fmt.Errorf("check voter: %w", err)
	}
	return verified, nil
}
