package audit

import (
	"context"
	"fmt"
	"time"
)

// Event severities. Anchoring is attempted only for HIGH and CRITICAL.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Event is one append-only audit record. The payload/hash pair is immutable;
// any later mismatch between recomputed and stored hash is itself a detectable
// fault.
type Event struct {
	ID            int64     `json:"id"`
	EventType     string    `json:"event_type"`
	Severity      string    `json:"severity"`
	Payload       string    `json:"payload"`
	EntryHash     string    `json:"entry_hash"`
	AnchoredTxID  *string   `json:"anchored_tx_id,omitempty"`
	AnchoredRound *int64    `json:"anchored_round,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// InsertEvent appends an event and returns its id. Anchoring fields stay null
// when the anchoring attempt did not succeed.
func (db *DB) InsertEvent(ctx context.Context, e *Event) (int64, error) {
	query := `
		INSERT INTO audit_events (event_type, severity, payload, entry_hash, anchored_tx_id, anchored_round)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err := db.QueryRow(ctx, query,
		e.EventType, e.Severity, e.Payload, e.EntryHash, e.AnchoredTxID, e.AnchoredRound).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// ListAnchoredEvents returns every HIGH/CRITICAL event that carries an anchor,
// oldest first. This is the reconciliation working set.
func (db *DB) ListAnchoredEvents(ctx context.Context) ([]Event, error) {
	query := `
		SELECT id, event_type, severity, payload, entry_hash, anchored_tx_id, anchored_round, created_at
		FROM audit_events
		WHERE severity IN ($1, $2) AND anchored_tx_id IS NOT NULL
		ORDER BY id
	`
	rows, err := db.Query(ctx, query, SeverityHigh, SeverityCritical)
	if err != nil {
		return nil, fmt.Errorf("query anchored events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.Severity, &e.Payload, &e.EntryHash,
			&e.AnchoredTxID, &e.AnchoredRound, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRecentEvents returns the newest events for the admin feed.
func (db *DB) ListRecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, event_type, severity, payload, entry_hash, anchored_tx_id, anchored_round, created_at
		FROM audit_events
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.Severity, &e.Payload, &e.EntryHash,
			&e.AnchoredTxID, &e.AnchoredRound, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
