package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/trustpoll/trustpoll/pkg/db/postgres"
)

// FairnessSnapshot is one published integrity score with its provenance.
type FairnessSnapshot struct {
	ID           int64     `json:"id"`
	Payload      string    `json:"payload"`
	FairnessHash string    `json:"fairness_hash"`
	TxID         *string   `json:"tx_id,omitempty"`
	Round        *int64    `json:"round,omitempty"`
	Score        int       `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertSnapshot appends a fairness snapshot; prior rows are never mutated.
func (db *DB) InsertSnapshot(ctx context.Context, s *FairnessSnapshot) (int64, error) {
	query := `
		INSERT INTO fairness_snapshots (payload, fairness_hash, tx_id, round, score)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var id int64
	err := db.QueryRow(ctx, query, s.Payload, s.FairnessHash, s.TxID, s.Round, s.Score).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert fairness snapshot: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recent snapshot, or nil when none exists.
func (db *DB) LatestSnapshot(ctx context.Context) (*FairnessSnapshot, error) {
	query := `
		SELECT id, payload, fairness_hash, tx_id, round, score, created_at
		FROM fairness_snapshots
		ORDER BY id DESC
		LIMIT 1
	`
	var s FairnessSnapshot
	err := db.QueryRow(ctx, query).Scan(&s.ID, &s.Payload, &s.FairnessHash, &s.TxID, &s.Round, &s.Score, &s.CreatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return &s, nil
}
