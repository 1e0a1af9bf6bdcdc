// Package election is the relational store for voter registration, candidate
// bookkeeping and the vote state machine. Uniqueness constraints here are the
// arbiter for concurrent submissions, so correctness holds across replicas.
package election

import (
	"context"

	"github.com/trustpoll/trustpoll/pkg/db/postgres"
)

// DB wraps a shared PostgreSQL client with election-scoped operations.
type DB struct {
	postgres.Client
}

// New returns an election store over an existing client.
func New(client postgres.Client) *DB {
	return &DB{Client: client}
}

// InitializeDB ensures all election tables exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	for _, init := range []func(context.Context) error{
		db.initCandidates,
		db.initVoters,
		db.initPendingVotes,
		db.initConfirmedVotes,
		db.initVoteAttempts,
		db.initIntegrityFlags,
	} {
		if err := init(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) initCandidates(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS candidates (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL
		)
	`)
}

func (db *DB) initVoters(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS voters (
			id BIGSERIAL PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			identity_hash TEXT UNIQUE NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
}

func (db *DB) initPendingVotes(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pending_votes (
			id BIGSERIAL PRIMARY KEY,
			election_id TEXT NOT NULL,
			identity_hash TEXT NOT NULL,
			candidate_id BIGINT NOT NULL,
			vote_hash TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			tx_id TEXT,
			last_error TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (election_id, identity_hash)
		)
	`)
}

func (db *DB) initConfirmedVotes(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS confirmed_votes (
			id BIGSERIAL PRIMARY KEY,
			election_id TEXT NOT NULL,
			identity_hash TEXT NOT NULL,
			candidate_id BIGINT NOT NULL,
			vote_hash TEXT NOT NULL UNIQUE,
			tx_id TEXT UNIQUE,
			confirmed_round BIGINT NOT NULL,
			block_timestamp BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (election_id, identity_hash)
		)
	`)
}

func (db *DB) initVoteAttempts(ctx context.Context) error {
	if err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vote_attempts (
			id BIGSERIAL PRIMARY KEY,
			identity_hash TEXT NOT NULL,
			election_id TEXT,
			result TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}
	return db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS vote_attempts_identity_created
		ON vote_attempts (identity_hash, created_at)
	`)
}

func (db *DB) initIntegrityFlags(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS integrity_flags (
			id BIGSERIAL PRIMARY KEY,
			identity_hash TEXT NOT NULL,
			reason TEXT NOT NULL,
			severity INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
}
