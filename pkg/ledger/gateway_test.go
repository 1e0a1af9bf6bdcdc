package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSeed = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// fakeNode is a scriptable governance node.
type fakeNode struct {
	mux *http.ServeMux

	lastRound     uint64
	pendingPolls  atomic.Int64
	confirmAfter  int64  // confirm once this many pending polls have happened
	confirmedAt   uint64 // round reported on confirmation
	poolError     string
	submitted     atomic.Int64
	lastSubmitted SignedTx
	globalState   []stateEntry
	blockTs       int64
}

func newFakeNode() *fakeNode {
	n := &fakeNode{
		mux:          http.NewServeMux(),
		lastRound:    10,
		confirmAfter: 1,
		confirmedAt:  12,
		blockTs:      1700000000,
	}

	n.mux.HandleFunc("GET /v2/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"last-round": n.lastRound})
	})
	n.mux.HandleFunc("GET /v2/transactions/params", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"last-round": n.lastRound, "genesis-id": "testnet", "min-fee": 1000})
	})
	n.mux.HandleFunc("POST /v2/transactions", func(w http.ResponseWriter, r *http.Request) {
		n.submitted.Add(1)
		var signed SignedTx
		_ = json.NewDecoder(r.Body).Decode(&signed)
		n.lastSubmitted = signed
		id, _ := signed.Txn.ID()
		writeJSON(w, map[string]any{"txId": id})
	})
	n.mux.HandleFunc("GET /v2/transactions/pending/", func(w http.ResponseWriter, r *http.Request) {
		polls := n.pendingPolls.Add(1)
		resp := map[string]any{"confirmed-round": 0, "pool-error": n.poolError, "txn": n.lastSubmitted}
		if n.poolError == "" && polls >= n.confirmAfter {
			resp["confirmed-round"] = n.confirmedAt
		}
		writeJSON(w, resp)
	})
	n.mux.HandleFunc("GET /v2/status/wait-for-block-after/", func(w http.ResponseWriter, r *http.Request) {
		n.lastRound++
		writeJSON(w, map[string]any{"last-round": n.lastRound})
	})
	n.mux.HandleFunc("GET /v2/blocks/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"block": map[string]any{"ts": n.blockTs}})
	})
	n.mux.HandleFunc("GET /v2/applications/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"params": map[string]any{"global-state": n.globalState}})
	})

	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestGateway(t *testing.T, node *fakeNode, indexerURL string) *Gateway {
	t.Helper()
	server := httptest.NewServer(node.mux)
	t.Cleanup(server.Close)

	cfg := Config{
		NodeEndpoints: []string{server.URL},
		AppID:         42,
		SigningKey:    testSeed,
		TimeoutRounds: 4,
	}
	if indexerURL != "" {
		cfg.IndexerEndpoints = []string{indexerURL}
	}
	g, err := New(zap.NewNop(), cfg)
	require.NoError(t, err)
	return g
}

func TestNewRejectsMissingConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing app id", Config{NodeEndpoints: []string{"http://node"}, SigningKey: testSeed}},
		{"missing node", Config{AppID: 42, SigningKey: testSeed}},
		{"missing signing key", Config{AppID: 42, NodeEndpoints: []string{"http://node"}}},
		{"bad signing key", Config{AppID: 42, NodeEndpoints: []string{"http://node"}, SigningKey: "zz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(zap.NewNop(), tt.cfg)
			assert.ErrorIs(t, err, ErrLedgerUnavailable)
		})
	}
}

func TestCastVoteConfirms(t *testing.T) {
	node := newFakeNode()
	node.confirmAfter = 2 // first poll pending, confirmed on second round
	g := newTestGateway(t, node, "")

	identityHash := strings.Repeat("ab", 32)
	res, err := g.CastVote(context.Background(), identityHash, 3)
	require.NoError(t, err)

	assert.NotEmpty(t, res.TxID)
	assert.Equal(t, uint64(12), res.ConfirmedRound)
	assert.Equal(t, int64(1700000000), res.BlockTimestamp)

	// Argument convention: discriminant, 32-byte identity hash, 8-byte big-endian candidate id.
	args := node.lastSubmitted.Txn.AppArgs
	require.Len(t, args, 3)
	assert.Equal(t, ActionCastVote, node.lastSubmitted.Txn.FirstArg())
	raw1, _ := base64.StdEncoding.DecodeString(args[1])
	assert.Len(t, raw1, 32)
	raw2, _ := base64.StdEncoding.DecodeString(args[2])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 3}, raw2)

	// Box reference: "voter_" + raw identity hash.
	require.Len(t, node.lastSubmitted.Txn.Boxes, 1)
	box, _ := base64.StdEncoding.DecodeString(node.lastSubmitted.Txn.Boxes[0])
	assert.True(t, strings.HasPrefix(string(box), "voter_"))
	assert.Len(t, box, len("voter_")+32)
}

func TestSubmitPoolRejection(t *testing.T) {
	node := newFakeNode()
	node.poolError = "overspend"
	g := newTestGateway(t, node, "")

	_, err := g.CastVote(context.Background(), strings.Repeat("ab", 32), 1)
	assert.ErrorIs(t, err, ErrLedgerRejected)
	assert.Contains(t, err.Error(), "overspend")
}

func TestSubmitTimeoutIsAmbiguous(t *testing.T) {
	node := newFakeNode()
	node.confirmAfter = 1 << 30 // never confirms
	g := newTestGateway(t, node, "")

	_, err := g.CastVote(context.Background(), strings.Repeat("ab", 32), 1)
	assert.ErrorIs(t, err, ErrLedgerTimeout)
	// The budget bounds the polling: timeoutRounds pending polls, no more.
	assert.Equal(t, int64(4), node.pendingPolls.Load())
}

func TestAnchorRoundTrip(t *testing.T) {
	node := newFakeNode()
	g := newTestGateway(t, node, "")

	res, err := g.Anchor(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, res.Anchored)
	assert.NotEmpty(t, res.TxID)
	assert.Equal(t, uint64(12), res.Round)

	// The digest travels as the payment note, zero-value self transfer.
	tx := node.lastSubmitted.Txn
	assert.Equal(t, TxTypePayment, tx.Type)
	assert.Equal(t, tx.Sender, tx.Receiver)
	assert.Zero(t, tx.Amount)
	note, _ := base64.StdEncoding.DecodeString(tx.Note)
	assert.Equal(t, "deadbeef", string(note))

	got, ok, err := g.FetchNote(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", got)
}

func TestCandidateCountsLegacyFallback(t *testing.T) {
	node := newFakeNode()
	mkEntry := func(key []byte, count uint64) stateEntry {
		var e stateEntry
		e.Key = base64.StdEncoding.EncodeToString(key)
		e.Value.Type = 2
		e.Value.Uint = count
		return e
	}
	node.globalState = []stateEntry{
		mkEntry(append([]byte("cand_"), u64be(1)...), 11), // current binary key
		mkEntry([]byte("candidate_2_count"), 22),          // first legacy encoding
		mkEntry([]byte("cand_3"), 33),                     // second legacy encoding
	}
	g := newTestGateway(t, node, "")

	counts, err := g.CandidateCounts(context.Background(), []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]uint64{1: 11, 2: 22, 3: 33, 4: 0}, counts)
}

func TestCandidateCountsPrefersBinaryKey(t *testing.T) {
	node := newFakeNode()
	mk := func(key []byte, count uint64) stateEntry {
		var e stateEntry
		e.Key = base64.StdEncoding.EncodeToString(key)
		e.Value.Type = 2
		e.Value.Uint = count
		return e
	}
	node.globalState = []stateEntry{
		mk([]byte("cand_7"), 1),
		mk(append([]byte("cand_"), u64be(7)...), 9),
	}
	g := newTestGateway(t, node, "")

	counts, err := g.CandidateCounts(context.Background(), []int64{7})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), counts[7])
}

func TestVerifyTransactionViaIndexer(t *testing.T) {
	node := newFakeNode()

	indexerMux := http.NewServeMux()
	indexerMux.HandleFunc("GET /v2/transactions/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"transaction": map[string]any{
				"tx-type":         "appl",
				"confirmed-round": 99,
				"round-time":      1700000123,
				"application-transaction": map[string]any{
					"application-id":   42,
					"application-args": []string{base64.StdEncoding.EncodeToString([]byte("cast_vote"))},
				},
			},
		})
	})
	indexer := httptest.NewServer(indexerMux)
	defer indexer.Close()

	g := newTestGateway(t, node, indexer.URL)

	status, err := g.VerifyTransaction(context.Background(), "sometx")
	require.NoError(t, err)
	assert.Equal(t, TxStatus{
		Type:           "appl",
		AppID:          42,
		ConfirmedRound: 99,
		FirstArg:       "cast_vote",
		Timestamp:      1700000123,
	}, status)
	assert.True(t, status.Verified(42))
	assert.False(t, status.Verified(43))
}

func TestVerifyTransactionViaNodeFallback(t *testing.T) {
	node := newFakeNode()
	g := newTestGateway(t, node, "")

	// Submit a vote so the node has a pending record to report back.
	res, err := g.CastVote(context.Background(), strings.Repeat("ab", 32), 5)
	require.NoError(t, err)

	status, err := g.VerifyTransaction(context.Background(), res.TxID)
	require.NoError(t, err)
	assert.Equal(t, "appl", status.Type)
	assert.Equal(t, uint64(42), status.AppID)
	assert.Equal(t, "cast_vote", status.FirstArg)
	assert.True(t, status.Verified(42))
}

func TestVerifyRejectsWrongDiscriminant(t *testing.T) {
	status := TxStatus{Type: "appl", AppID: 42, ConfirmedRound: 1, FirstArg: "add_candidate"}
	assert.False(t, status.Verified(42))

	for _, arg := range []string{"vote", "cast_vote"} {
		status.FirstArg = arg
		assert.True(t, status.Verified(42), arg)
	}
}

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewSigner(testSeed)
	require.NoError(t, err)
	assert.Len(t, s.Address(), 64)

	tx := Tx{Type: TxTypePayment, Sender: s.Address(), Fee: 1000, FirstValid: 1, LastValid: 1001}
	signed, err := s.Sign(tx)
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Sig)

	id1, err := tx.ID()
	require.NoError(t, err)
	id2, err := signed.Txn.ID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestHTTPClientRotatesOnServerError(t *testing.T) {
	var badHits, goodHits atomic.Int64
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		writeJSON(w, map[string]any{"last-round": 7})
	}))
	defer good.Close()

	c := NewHTTPClient(ClientOpts{Endpoints: []string{bad.URL, good.URL}})

	var status nodeStatus
	err := c.Get(context.Background(), statusPath, &status)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), status.LastRound)
	assert.Equal(t, int64(1), badHits.Load())
	assert.Equal(t, int64(1), goodHits.Load())
}

func TestHTTPClientNoEndpoints(t *testing.T) {
	c := NewHTTPClient(ClientOpts{})
	err := c.Get(context.Background(), statusPath, nil)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
}

func TestHTTPClientNotFoundIsAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewHTTPClient(ClientOpts{Endpoints: []string{server.URL}})
	err := c.Get(context.Background(), "/v2/transactions/pending/x", nil)
	require.Error(t, err)
	assert.True(t, isNotFound(err), fmt.Sprintf("got %v", err))
}
