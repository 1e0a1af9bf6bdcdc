package audit

import "context"

// Store exposes the audit database operations used by the audit log, the
// fairness scorer and the admin controllers. *DB implements it; tests mock it.
type Store interface {
	InitializeDB(ctx context.Context) error

	InsertEvent(ctx context.Context, e *Event) (int64, error)
	ListAnchoredEvents(ctx context.Context) ([]Event, error)
	ListRecentEvents(ctx context.Context, limit int) ([]Event, error)

	GovernanceStatus(ctx context.Context) (string, error)
	MarkCompromised(ctx context.Context) error
	ResetGovernanceStatus(ctx context.Context) error

	InsertSnapshot(ctx context.Context, s *FairnessSnapshot) (int64, error)
	LatestSnapshot(ctx context.Context) (*FairnessSnapshot, error)
}

var _ Store = (*DB)(nil)
