package ledger

import "errors"

// Failure classes surfaced to callers. LedgerTimeout is explicitly ambiguous:
// the transaction may still confirm later, so it must never be read as proof
// of non-confirmation.
var (
	ErrLedgerUnavailable = errors.New("ledger: gateway unavailable")
	ErrLedgerRejected    = errors.New("ledger: transaction rejected by pool")
	ErrLedgerTimeout     = errors.New("ledger: confirmation not observed within round budget")
	ErrTxNotFound        = errors.New("ledger: transaction not found on configured clients")
)

// Application-call argument convention (byte-exact, defined by this system).
const (
	ActionVote         = "vote"
	ActionCastVote     = "cast_vote"
	ActionAddCandidate = "add_candidate"

	voterBoxPrefix      = "voter_"
	candidateKeyPrefix  = "cand_"
	legacyCandKeyFmt    = "candidate_%d_count"
	legacyCandShortFmt  = "cand_%d"
)

// voteActions are the recognized first-argument discriminants for a vote
// application call, newest first.
var voteActions = map[string]bool{
	ActionCastVote: true,
	ActionVote:     true,
}

// nodeStatus is the node's status response.
type nodeStatus struct {
	LastRound uint64 `json:"last-round"`
}

// txParams is the node's suggested transaction parameter response.
type txParams struct {
	LastRound uint64 `json:"last-round"`
	GenesisID string `json:"genesis-id"`
	MinFee    uint64 `json:"min-fee"`
}

// submitTxResponse is the node's response to a signed submission.
type submitTxResponse struct {
	TxID string `json:"txId"`
}

// pendingTxResponse is the node's pending-transaction shape. The embedded
// signed transaction mirrors what was submitted.
type pendingTxResponse struct {
	ConfirmedRound uint64    `json:"confirmed-round"`
	PoolError      string    `json:"pool-error"`
	Txn            *SignedTx `json:"txn"`
}

// blockResponse carries the subset of block fields we read.
type blockResponse struct {
	Block struct {
		Timestamp int64 `json:"ts"`
	} `json:"block"`
}

// applicationResponse is the node's application info shape.
type applicationResponse struct {
	Params struct {
		GlobalState []stateEntry `json:"global-state"`
	} `json:"params"`
}

// stateEntry is one key/value pair of contract global state. Value type 1 is a
// byte string, type 2 an unsigned integer.
type stateEntry struct {
	Key   string `json:"key"` // base64
	Value struct {
		Type  int    `json:"type"`
		Bytes string `json:"bytes"` // base64
		Uint  uint64 `json:"uint"`
	} `json:"value"`
}

// indexerTxResponse is the indexer's transaction lookup shape. It diverges
// from the node's pending shape and is normalized before any business logic
// inspects it.
type indexerTxResponse struct {
	Transaction *indexerTxn `json:"transaction"`
}

type indexerTxn struct {
	TxType         string `json:"tx-type"`
	ConfirmedRound uint64 `json:"confirmed-round"`
	RoundTime      int64  `json:"round-time"`
	Note           string `json:"note"` // base64
	ApplicationTx  struct {
		ApplicationID uint64   `json:"application-id"`
		Args          []string `json:"application-args"` // base64
	} `json:"application-transaction"`
}

// TxStatus is the single normalized record both lookup paths resolve into.
type TxStatus struct {
	Type           string
	AppID          uint64
	ConfirmedRound uint64
	FirstArg       string
	Timestamp      int64
}

// Verified reports whether the transaction is an application call against the
// configured governance contract, confirmed on the ledger, with a recognized
// vote-action discriminant.
func (s TxStatus) Verified(appID uint64) bool {
	return s.Type == TxTypeAppCall && s.AppID == appID && s.ConfirmedRound > 0 && voteActions[s.FirstArg]
}

// PendingResult is the confirmation outcome of a submitted transaction.
type PendingResult struct {
	TxID           string
	ConfirmedRound uint64
	BlockTimestamp int64
}

// AnchorResult is the explicit two-state outcome of an anchoring attempt, so
// downstream code can distinguish "recorded" from "recorded and provably
// anchored" instead of inferring it from null fields.
type AnchorResult struct {
	Anchored bool
	TxID     string
	Round    uint64
}
