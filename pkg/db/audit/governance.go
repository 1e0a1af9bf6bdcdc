package audit

import (
	"context"
	"fmt"
)

// Governance statuses. COMPROMISED is sticky until explicit operator action.
const (
	StatusHealthy     = "HEALTHY"
	StatusCompromised = "COMPROMISED"
)

// GovernanceStatus reads the single process-wide status row.
func (db *DB) GovernanceStatus(ctx context.Context) (string, error) {
	var status string
	if err := db.QueryRow(ctx, `SELECT status FROM governance_status WHERE id = 1`).Scan(&status); err != nil {
		return "", fmt.Errorf("query governance status: %w", err)
	}
	return status, nil
}

// MarkCompromised flips the flag. Reconciliation is the only caller.
func (db *DB) MarkCompromised(ctx context.Context) error {
	return db.Exec(ctx,
		`UPDATE governance_status SET status = $1, updated_at = NOW() WHERE id = 1`,
		StatusCompromised)
}

// ResetGovernanceStatus is the explicit operator action returning the system
// to HEALTHY.
func (db *DB) ResetGovernanceStatus(ctx context.Context) error {
	return db.Exec(ctx,
		`UPDATE governance_status SET status = $1, updated_at = NOW() WHERE id = 1`,
		StatusHealthy)
}
