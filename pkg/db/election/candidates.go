package election

import (
	"context"
	"fmt"
)

// Candidate is a ballot entry.
type Candidate struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CandidateResult is a candidate with its off-chain confirmed tally.
type CandidateResult struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Votes int64  `json:"votes"`
}

// AddCandidate inserts a candidate and returns its id.
func (db *DB) AddCandidate(ctx context.Context, name string) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, `INSERT INTO candidates (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert candidate: %w", err)
	}
	return id, nil
}

// CandidateExists reports whether the id is on the ballot.
func (db *DB) CandidateExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM candidates WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check candidate: %w", err)
	}
	return exists, nil
}

// ListCandidates returns all candidates ordered by name.
func (db *DB) ListCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := db.Query(ctx, `SELECT id, name FROM candidates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandidateResults joins candidates with their confirmed off-chain tallies.
func (db *DB) CandidateResults(ctx context.Context, electionID string) ([]CandidateResult, error) {
	query := `
		SELECT c.id, c.name, COUNT(v.identity_hash)
		FROM candidates c
		LEFT JOIN confirmed_votes v ON c.id = v.candidate_id AND v.election_id = $1
		GROUP BY c.id, c.name
		ORDER BY c.name
	`
	rows, err := db.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []CandidateResult
	for rows.Next() {
		var r CandidateResult
		if err := rows.Scan(&r.ID, &r.Name, &r.Votes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
