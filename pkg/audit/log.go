// Package audit maintains the append-only, hash-chained record of
// governance-relevant events, anchors high-severity entries on the ledger and
// reconciles stored hashes against their anchors to detect tampering.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"github.com/trustpoll/trustpoll/pkg/ledger"
	"go.uber.org/zap"
)

// Event types emitted by the core flow.
const (
	EventVoteConfirmed         = "vote_confirmed"
	EventVoteChainFailure      = "vote_chain_failure"
	EventVoteRateLimited       = "vote_rate_limited"
	EventGovernanceCompromised = "governance_compromised"
	EventCandidateAdded        = "candidate_added"
	EventReconcileCompleted    = "reconcile_completed"
)

// Anchorer is the slice of the ledger gateway the log needs.
type Anchorer interface {
	Anchor(ctx context.Context, hashHex string) (ledger.AnchorResult, error)
	FetchNote(ctx context.Context, txID string) (string, bool, error)
}

// Feed receives every appended event for real-time consumers. Publishing is
// best-effort and never blocks an append.
type Feed interface {
	PublishEvent(ctx context.Context, e *auditdb.Event) error
}

// Log is the audit event log.
type Log struct {
	logger  *zap.Logger
	store   auditdb.Store
	anchors Anchorer
	feed    Feed // nil when no real-time feed is configured

	// reconcileWorkers bounds the fan-out of per-event note fetches.
	reconcileWorkers int
}

// NewLog wires the audit log over its store and ledger anchorer.
func NewLog(logger *zap.Logger, store auditdb.Store, anchors Anchorer, feed Feed) *Log {
	return &Log{
		logger:           logger.Named("audit"),
		store:            store,
		anchors:          anchors,
		feed:             feed,
		reconcileWorkers: 8,
	}
}

// CanonicalJSON serializes a payload with deterministic key ordering (Go maps
// marshal with sorted keys), compact separators. The same bytes always hash to
// the same entry hash.
func CanonicalJSON(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return string(raw), nil
}

// EntryHash is the hex digest of a canonical payload.
func EntryHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Append canonicalizes the payload, anchors the entry hash on the ledger when
// the severity warrants it, and persists the event. Anchoring is best-effort:
// a failed anchor leaves the anchor fields null and never fails the append,
// let alone the business operation that triggered it.
func (l *Log) Append(ctx context.Context, eventType, severity string, payload map[string]any) (*auditdb.Event, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}

	event := &auditdb.Event{
		EventType: eventType,
		Severity:  severity,
		Payload:   canonical,
		EntryHash: EntryHash(canonical),
	}

	if severity == auditdb.SeverityHigh || severity == auditdb.SeverityCritical {
		res, anchorErr := l.anchors.Anchor(ctx, event.EntryHash)
		if anchorErr != nil || !res.Anchored {
			l.logger.Warn("anchoring failed, recording event unanchored",
				zap.String("event_type", eventType),
				zap.String("severity", severity),
				zap.Error(anchorErr))
		} else {
			round := int64(res.Round)
			event.AnchoredTxID = &res.TxID
			event.AnchoredRound = &round
		}
	}

	id, err := l.store.InsertEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	event.ID = id

	if l.feed != nil {
		if pubErr := l.feed.PublishEvent(ctx, event); pubErr != nil {
			l.logger.Debug("audit feed publish failed", zap.Error(pubErr))
		}
	}

	l.logger.Info("audit event appended",
		zap.Int64("id", id),
		zap.String("event_type", eventType),
		zap.String("severity", severity),
		zap.Bool("anchored", event.AnchoredTxID != nil))
	return event, nil
}

// ReconcileSummary reports one reconciliation run.
type ReconcileSummary struct {
	EventsChecked  int    `json:"events_checked"`
	LocalMismatch  int    `json:"local_mismatches"`
	LedgerMismatch int    `json:"ledger_mismatches"`
	Status         string `json:"status"`
}

// Reconcile verifies every anchored HIGH/CRITICAL event two ways: the stored
// payload must still hash to the stored entry hash (local tampering), and the
// anchored transaction's note must equal that hash (ledger-side forgery or a
// corrupted local record). Any mismatch flips governance status to COMPROMISED
// and appends a CRITICAL governance_compromised event, itself anchored under
// the same rule. Safe to re-run: each run only appends.
func (l *Log) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	runID := uuid.NewString()

	events, err := l.store.ListAnchoredEvents(ctx)
	if err != nil {
		return ReconcileSummary{}, err
	}

	type checked struct {
		eventID  int64
		local    bool
		ledger   bool
		detail   string
		fetchErr error
	}
	results := make([]checked, len(events))

	// Fan the per-event note fetches out over a bounded pool.
	pool := pond.NewPool(l.reconcileWorkers)
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, e := range events {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				results[i].fetchErr = err
				return
			}

			recomputed := EntryHash(e.Payload)
			if recomputed != e.EntryHash {
				results[i] = checked{eventID: e.ID, local: true,
					detail: fmt.Sprintf("stored hash %s, recomputed %s", e.EntryHash, recomputed)}
				return
			}

			note, ok, noteErr := l.anchors.FetchNote(groupCtx, *e.AnchoredTxID)
			if noteErr != nil {
				// An unreachable ledger is not evidence of tampering; the next
				// run retries this event.
				results[i].fetchErr = noteErr
				return
			}
			if !ok || note != e.EntryHash {
				results[i] = checked{eventID: e.ID, ledger: true,
					detail: fmt.Sprintf("anchored note %q does not match entry hash %s", note, e.EntryHash)}
			}
		})
	}
	_ = group.Wait()
	pool.StopAndWait()

	for _, r := range results {
		if r.fetchErr != nil {
			return ReconcileSummary{}, fmt.Errorf("reconcile: %w", r.fetchErr)
		}
	}

	summary := ReconcileSummary{EventsChecked: len(events), Status: auditdb.StatusHealthy}
	var tampered []map[string]any
	for _, m := range results {
		if !m.local && !m.ledger {
			continue
		}
		if m.local {
			summary.LocalMismatch++
		}
		if m.ledger {
			summary.LedgerMismatch++
		}
		tampered = append(tampered, map[string]any{
			"event_id":        m.eventID,
			"local_mismatch":  m.local,
			"ledger_mismatch": m.ledger,
			"detail":          m.detail,
		})
	}

	if len(tampered) > 0 {
		if err := l.store.MarkCompromised(ctx); err != nil {
			return ReconcileSummary{}, err
		}
		summary.Status = auditdb.StatusCompromised

		// The detection itself becomes part of the auditable trail.
		if _, appendErr := l.Append(ctx, EventGovernanceCompromised, auditdb.SeverityCritical, map[string]any{
			"run_id":         runID,
			"events_checked": len(events),
			"mismatches":     tampered,
		}); appendErr != nil {
			l.logger.Error("failed to append governance_compromised event", zap.Error(appendErr))
		}
		l.logger.Error("reconciliation detected tampering",
			zap.String("run_id", runID),
			zap.Int("events_checked", len(events)),
			zap.Int("mismatches", len(tampered)))
		return summary, nil
	}

	if status, err := l.store.GovernanceStatus(ctx); err == nil {
		// A clean run never un-flips a compromised system.
		summary.Status = status
	}
	if _, appendErr := l.Append(ctx, EventReconcileCompleted, auditdb.SeverityLow, map[string]any{
		"run_id":         runID,
		"events_checked": len(events),
		"status":         summary.Status,
	}); appendErr != nil {
		l.logger.Error("failed to append reconcile_completed event", zap.Error(appendErr))
	}
	l.logger.Info("reconciliation completed clean",
		zap.String("run_id", runID),
		zap.Int("events_checked", len(events)))
	return summary, nil
}
