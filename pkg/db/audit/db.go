// Package audit is the relational store for the hash-chained audit trail,
// the process-wide governance status and fairness snapshots.
package audit

import (
	"context"

	"github.com/trustpoll/trustpoll/pkg/db/postgres"
)

// DB wraps a shared PostgreSQL client with audit-scoped operations.
type DB struct {
	postgres.Client
}

// New returns an audit store over an existing client.
func New(client postgres.Client) *DB {
	return &DB{Client: client}
}

// InitializeDB ensures audit tables exist and the governance status row is seeded.
func (db *DB) InitializeDB(ctx context.Context) error {
	if err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			payload TEXT NOT NULL,
			entry_hash TEXT NOT NULL,
			anchored_tx_id TEXT,
			anchored_round BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}

	if err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS governance_status (
			id SMALLINT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}
	// Single sticky row; starts HEALTHY and flips only via reconciliation.
	if err := db.Exec(ctx, `
		INSERT INTO governance_status (id, status) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, StatusHealthy); err != nil {
		return err
	}

	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fairness_snapshots (
			id BIGSERIAL PRIMARY KEY,
			payload TEXT NOT NULL,
			fairness_hash TEXT NOT NULL,
			tx_id TEXT,
			round BIGINT,
			score INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
}
