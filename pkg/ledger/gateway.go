// Package ledger wraps the external governance ledger: transaction
// construction and signing, submission with confirmation polling, contract
// state decoding, transaction verification and digest anchoring.
package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/trustpoll/trustpoll/pkg/identity"
	"github.com/trustpoll/trustpoll/pkg/utils"
	"go.uber.org/zap"
)

// Config carries everything the gateway needs. Missing mandatory fields are a
// construction-time error, never retried silently at call time.
type Config struct {
	NodeEndpoints    []string
	NodeAPIKey       string
	IndexerEndpoints []string
	IndexerAPIKey    string
	AppID            uint64
	SigningKey       string // hex ed25519 seed
	TimeoutRounds    int
}

// ConfigFromEnv assembles a Config from the environment.
func ConfigFromEnv() Config {
	appID, _ := strconv.ParseUint(utils.Env("LEDGER_APP_ID", "0"), 10, 64)
	cfg := Config{
		NodeAPIKey:    utils.Env("LEDGER_NODE_TOKEN", ""),
		IndexerAPIKey: utils.Env("LEDGER_INDEXER_TOKEN", ""),
		AppID:         appID,
		SigningKey:    utils.Env("LEDGER_SIGNING_KEY", ""),
		TimeoutRounds: utils.EnvInt("LEDGER_TX_TIMEOUT_ROUNDS", 12),
	}
	if addr := utils.Env("LEDGER_NODE_ADDRESS", ""); addr != "" {
		cfg.NodeEndpoints = []string{addr}
	}
	if addr := utils.Env("LEDGER_INDEXER_ADDRESS", ""); addr != "" {
		cfg.IndexerEndpoints = []string{addr}
	}
	return cfg
}

// Gateway is the sole ledger access point for the rest of the service.
type Gateway struct {
	logger        *zap.Logger
	node          *HTTPClient
	indexer       *HTTPClient // nil when no indexer is configured
	signer        *Signer
	appID         uint64
	timeoutRounds int
}

// New validates the configuration once and returns a ready gateway. An invalid
// configuration surfaces here as an error; callers treat the gateway as a
// permanent "unavailable" collaborator in that case.
func New(logger *zap.Logger, cfg Config) (*Gateway, error) {
	if cfg.AppID == 0 {
		return nil, fmt.Errorf("%w: LEDGER_APP_ID must be a deployed application id", ErrLedgerUnavailable)
	}
	if len(cfg.NodeEndpoints) == 0 {
		return nil, fmt.Errorf("%w: LEDGER_NODE_ADDRESS is required", ErrLedgerUnavailable)
	}
	signer, err := NewSigner(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if cfg.TimeoutRounds <= 0 {
		cfg.TimeoutRounds = 12
	}

	g := &Gateway{
		logger:        logger.Named("ledger"),
		node:          NewHTTPClient(ClientOpts{Endpoints: cfg.NodeEndpoints, APIKey: cfg.NodeAPIKey}),
		signer:        signer,
		appID:         cfg.AppID,
		timeoutRounds: cfg.TimeoutRounds,
	}
	if len(cfg.IndexerEndpoints) > 0 {
		g.indexer = NewHTTPClient(ClientOpts{Endpoints: cfg.IndexerEndpoints, APIKey: cfg.IndexerAPIKey})
	}
	return g, nil
}

// Sender is the service account address transactions are signed for.
func (g *Gateway) Sender() string { return g.signer.Address() }

// AppID is the configured governance contract id.
func (g *Gateway) AppID() uint64 { return g.appID }

// CastVote submits the vote application call for an identity and blocks until
// it confirms or the round budget runs out.
func (g *Gateway) CastVote(ctx context.Context, identityHash string, candidateID int64) (PendingResult, error) {
	hashBytes, err := identity.HashBytes(identityHash)
	if err != nil {
		return PendingResult{}, err
	}

	args := [][]byte{[]byte(ActionCastVote), hashBytes, u64be(uint64(candidateID))}
	boxes := [][]byte{append([]byte(voterBoxPrefix), hashBytes...)}

	res, err := g.SubmitAndConfirm(ctx, args, boxes, g.timeoutRounds)
	if err != nil {
		return PendingResult{}, err
	}

	// The confirmed block's timestamp becomes the authoritative vote time.
	var block blockResponse
	if err := g.node.Get(ctx, blockByRound(res.ConfirmedRound), &block); err == nil {
		res.BlockTimestamp = block.Block.Timestamp
	}
	return res, nil
}

// AddCandidate registers a candidate counter on the contract.
func (g *Gateway) AddCandidate(ctx context.Context, candidateID int64) (PendingResult, error) {
	args := [][]byte{[]byte(ActionAddCandidate), u64be(uint64(candidateID))}
	return g.SubmitAndConfirm(ctx, args, nil, g.timeoutRounds)
}

// SubmitAndConfirm builds an application call with the given binary arguments
// and box references, signs and submits it, then polls for confirmation.
func (g *Gateway) SubmitAndConfirm(ctx context.Context, args [][]byte, boxes [][]byte, timeoutRounds int) (PendingResult, error) {
	var boxNames []string
	for _, b := range boxes {
		boxNames = append(boxNames, base64.StdEncoding.EncodeToString(b))
	}

	params, err := g.suggestedParams(ctx)
	if err != nil {
		return PendingResult{}, fmt.Errorf("suggested params: %w", err)
	}

	tx := Tx{
		Type:       TxTypeAppCall,
		Sender:     g.signer.Address(),
		Fee:        params.MinFee,
		FirstValid: params.LastRound,
		LastValid:  params.LastRound + validityWindow,
		GenesisID:  params.GenesisID,
		AppID:      g.appID,
		AppArgs:    encodeArgs(args),
		Boxes:      boxNames,
	}
	return g.submit(ctx, tx, timeoutRounds)
}

// Anchor records a hex digest as the note of a zero-value self-transfer and
// waits for it to confirm. The outcome is two-state on purpose: either the
// digest is provably on the ledger or it is not.
func (g *Gateway) Anchor(ctx context.Context, hashHex string) (AnchorResult, error) {
	params, err := g.suggestedParams(ctx)
	if err != nil {
		return AnchorResult{}, fmt.Errorf("suggested params: %w", err)
	}

	tx := Tx{
		Type:       TxTypePayment,
		Sender:     g.signer.Address(),
		Fee:        params.MinFee,
		FirstValid: params.LastRound,
		LastValid:  params.LastRound + validityWindow,
		GenesisID:  params.GenesisID,
		Receiver:   g.signer.Address(),
		Note:       base64.StdEncoding.EncodeToString([]byte(hashHex)),
	}
	res, err := g.submit(ctx, tx, g.timeoutRounds)
	if err != nil {
		return AnchorResult{}, err
	}
	return AnchorResult{Anchored: true, TxID: res.TxID, Round: res.ConfirmedRound}, nil
}

func (g *Gateway) submit(ctx context.Context, tx Tx, timeoutRounds int) (PendingResult, error) {
	signed, err := g.signer.Sign(tx)
	if err != nil {
		return PendingResult{}, err
	}

	var submitted submitTxResponse
	if err := g.node.Post(ctx, submitTxPath, signed, &submitted); err != nil {
		return PendingResult{}, fmt.Errorf("%w: submit: %v", ErrLedgerUnavailable, err)
	}
	txID := submitted.TxID
	if txID == "" {
		txID, err = tx.ID()
		if err != nil {
			return PendingResult{}, err
		}
	}

	start := time.Now()
	round, err := g.waitForConfirmation(ctx, txID, timeoutRounds)
	if err != nil {
		return PendingResult{}, err
	}

	g.logger.Debug("transaction confirmed",
		zap.String("tx_id", txID),
		zap.Uint64("round", round),
		zap.Duration("took", time.Since(start)))

	return PendingResult{TxID: txID, ConfirmedRound: round}, nil
}

// waitForConfirmation polls the pending endpoint once per round. A pool-level
// rejection is terminal; exhausting the budget is ambiguous and reported as
// ErrLedgerTimeout.
func (g *Gateway) waitForConfirmation(ctx context.Context, txID string, timeoutRounds int) (uint64, error) {
	var status nodeStatus
	if err := g.node.Get(ctx, statusPath, &status); err != nil {
		return 0, fmt.Errorf("%w: node status: %v", ErrLedgerUnavailable, err)
	}

	startRound := status.LastRound + 1
	currentRound := startRound
	for currentRound < startRound+uint64(timeoutRounds) {
		var pending pendingTxResponse
		if err := g.node.Get(ctx, pendingTx(txID), &pending); err != nil && !isNotFound(err) {
			return 0, fmt.Errorf("%w: pending lookup: %v", ErrLedgerUnavailable, err)
		}
		if pending.ConfirmedRound > 0 {
			return pending.ConfirmedRound, nil
		}
		if pending.PoolError != "" {
			return 0, fmt.Errorf("%w: %s", ErrLedgerRejected, pending.PoolError)
		}

		// Block until the node reports the next round has arrived.
		var after nodeStatus
		if err := g.node.Get(ctx, waitForRound(currentRound), &after); err != nil {
			return 0, fmt.Errorf("%w: wait for round %d: %v", ErrLedgerUnavailable, currentRound, err)
		}
		currentRound++
	}
	return 0, fmt.Errorf("%w: after %d rounds", ErrLedgerTimeout, timeoutRounds)
}

func (g *Gateway) suggestedParams(ctx context.Context) (txParams, error) {
	var params txParams
	if err := g.node.Get(ctx, txParamsPath, &params); err != nil {
		return txParams{}, err
	}
	if params.MinFee == 0 {
		params.MinFee = 1000
	}
	return params, nil
}

// StateValue is one decoded global-state entry: either an unsigned integer or
// a byte string.
type StateValue struct {
	IsUint bool
	Uint   uint64
	Bytes  []byte
}

// GlobalState reads and decodes the contract's global key/value state. Map
// keys are the raw (decoded) key bytes.
func (g *Gateway) GlobalState(ctx context.Context) (map[string]StateValue, error) {
	var app applicationResponse
	if err := g.node.Get(ctx, application(g.appID), &app); err != nil {
		return nil, fmt.Errorf("%w: application info: %v", ErrLedgerUnavailable, err)
	}

	decoded := make(map[string]StateValue, len(app.Params.GlobalState))
	for _, entry := range app.Params.GlobalState {
		key, err := base64.StdEncoding.DecodeString(entry.Key)
		if err != nil {
			continue
		}
		switch entry.Value.Type {
		case 2:
			decoded[string(key)] = StateValue{IsUint: true, Uint: entry.Value.Uint}
		case 1:
			raw, err := base64.StdEncoding.DecodeString(entry.Value.Bytes)
			if err != nil {
				continue
			}
			decoded[string(key)] = StateValue{Bytes: raw}
		}
	}
	return decoded, nil
}

// CandidateCounts reads on-chain tallies for the given candidate ids. Each id
// is resolved through an ordered fallback chain of key encodings to stay
// compatible with older contract deployments.
func (g *Gateway) CandidateCounts(ctx context.Context, candidateIDs []int64) (map[int64]uint64, error) {
	state, err := g.GlobalState(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]uint64, len(candidateIDs))
	for _, cid := range candidateIDs {
		keys := []string{
			candidateKeyPrefix + string(u64be(uint64(cid))),
			fmt.Sprintf(legacyCandKeyFmt, cid),
			fmt.Sprintf(legacyCandShortFmt, cid),
		}
		counts[cid] = 0
		for _, key := range keys {
			if v, ok := state[key]; ok && v.IsUint {
				counts[cid] = v.Uint
				break
			}
		}
	}
	return counts, nil
}

// VerifyTransaction looks a transaction up via the indexer when configured,
// falling back to the node's pending endpoint, and normalizes both response
// shapes into one TxStatus before anything inspects it.
func (g *Gateway) VerifyTransaction(ctx context.Context, txID string) (TxStatus, error) {
	if g.indexer != nil {
		var resp indexerTxResponse
		err := g.indexer.Get(ctx, indexerTx(txID), &resp)
		if err == nil && resp.Transaction != nil {
			t := resp.Transaction
			return TxStatus{
				Type:           t.TxType,
				AppID:          t.ApplicationTx.ApplicationID,
				ConfirmedRound: t.ConfirmedRound,
				FirstArg:       decodeB64Text(firstOf(t.ApplicationTx.Args)),
				Timestamp:      t.RoundTime,
			}, nil
		}
		if err != nil && !isNotFound(err) {
			g.logger.Warn("indexer lookup failed, falling back to node", zap.String("tx_id", txID), zap.Error(err))
		}
	}

	var pending pendingTxResponse
	if err := g.node.Get(ctx, pendingTx(txID), &pending); err != nil {
		if isNotFound(err) {
			return TxStatus{}, ErrTxNotFound
		}
		return TxStatus{}, fmt.Errorf("%w: pending lookup: %v", ErrLedgerUnavailable, err)
	}
	if pending.Txn == nil {
		return TxStatus{}, ErrTxNotFound
	}

	status := TxStatus{
		Type:           pending.Txn.Txn.Type,
		AppID:          pending.Txn.Txn.AppID,
		ConfirmedRound: pending.ConfirmedRound,
		FirstArg:       pending.Txn.Txn.FirstArg(),
	}
	if status.ConfirmedRound > 0 {
		var block blockResponse
		if err := g.node.Get(ctx, blockByRound(status.ConfirmedRound), &block); err == nil {
			status.Timestamp = block.Block.Timestamp
		}
	}
	return status, nil
}

// IsVerified reports whether txID resolves to a confirmed vote call against
// the configured contract.
func (g *Gateway) IsVerified(ctx context.Context, txID string) bool {
	status, err := g.VerifyTransaction(ctx, txID)
	return err == nil && status.Verified(g.appID)
}

// FetchNote returns the transaction's note decoded as text. The second return
// is false when the transaction carries no note.
func (g *Gateway) FetchNote(ctx context.Context, txID string) (string, bool, error) {
	if g.indexer != nil {
		var resp indexerTxResponse
		err := g.indexer.Get(ctx, indexerTx(txID), &resp)
		if err == nil && resp.Transaction != nil {
			if resp.Transaction.Note == "" {
				return "", false, nil
			}
			return decodeB64Text(resp.Transaction.Note), true, nil
		}
		if err != nil && !isNotFound(err) {
			g.logger.Warn("indexer note lookup failed, falling back to node", zap.String("tx_id", txID), zap.Error(err))
		}
	}

	var pending pendingTxResponse
	if err := g.node.Get(ctx, pendingTx(txID), &pending); err != nil {
		if isNotFound(err) {
			return "", false, ErrTxNotFound
		}
		return "", false, fmt.Errorf("%w: pending lookup: %v", ErrLedgerUnavailable, err)
	}
	if pending.Txn == nil {
		return "", false, ErrTxNotFound
	}
	if pending.Txn.Txn.Note == "" {
		return "", false, nil
	}
	return decodeB64Text(pending.Txn.Txn.Note), true, nil
}

func decodeB64Text(s string) string {
	if s == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(raw)
}

func firstOf(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
