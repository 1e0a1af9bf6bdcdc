package election

import (
	"context"
	"fmt"
	"time"
)

// IntegrityFlag marks an identity for admin review.
type IntegrityFlag struct {
	ID           int64     `json:"id"`
	IdentityHash string    `json:"identity_hash"`
	Reason       string    `json:"reason"`
	Severity     int       `json:"severity"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertFlag records a suspicion against an identity.
func (db *DB) InsertFlag(ctx context.Context, identityHash, reason string, severity int) error {
	query := `INSERT INTO integrity_flags (identity_hash, reason, severity) VALUES ($1, $2, $3)`
	return db.Exec(ctx, query, identityHash, reason, severity)
}

// ListFlags returns open flags, newest first.
func (db *DB) ListFlags(ctx context.Context) ([]IntegrityFlag, error) {
	query := `
		SELECT id, identity_hash, reason, severity, created_at
		FROM integrity_flags ORDER BY created_at DESC
	`
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	var out []IntegrityFlag
	for rows.Next() {
		var f IntegrityFlag
		if err := rows.Scan(&f.ID, &f.IdentityHash, &f.Reason, &f.Severity, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AcknowledgeFlags clears every open flag for an identity.
func (db *DB) AcknowledgeFlags(ctx context.Context, identityHash string) error {
	return db.Exec(ctx, `DELETE FROM integrity_flags WHERE identity_hash = $1`, identityHash)
}

// Stats are the admin dashboard counters.
type Stats struct {
	Voters       int64 `json:"voters"`
	VoteAttempts int64 `json:"vote_attempts"`
	Flags        int64 `json:"flags"`
	Confirmed    int64 `json:"confirmed_votes"`
}

// GetStats gathers the dashboard counters in one round trip.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM voters),
			(SELECT COUNT(*) FROM vote_attempts),
			(SELECT COUNT(*) FROM integrity_flags),
			(SELECT COUNT(*) FROM confirmed_votes)
	`
	var s Stats
	if err := db.QueryRow(ctx, query).Scan(&s.Voters, &s.VoteAttempts, &s.Flags, &s.Confirmed); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return s, nil
}
