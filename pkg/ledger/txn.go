package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Transaction types understood by the governance ledger.
const (
	TxTypeAppCall = "appl"
	TxTypePayment = "pay"
)

// validityWindow is how many rounds past first-valid a transaction stays
// acceptable to the pool.
const validityWindow = 1000

// Tx is the canonical transaction body. Field order is fixed, so the
// marshalled bytes are deterministic and double as the signing payload.
type Tx struct {
	Type       string   `json:"type"`
	Sender     string   `json:"snd"`
	Fee        uint64   `json:"fee"`
	FirstValid uint64   `json:"fv"`
	LastValid  uint64   `json:"lv"`
	GenesisID  string   `json:"gen,omitempty"`
	AppID      uint64   `json:"apid,omitempty"`
	AppArgs    []string `json:"apaa,omitempty"` // base64
	Boxes      []string `json:"apbx,omitempty"` // base64 box names
	Receiver   string   `json:"rcv,omitempty"`
	Amount     uint64   `json:"amt,omitempty"`
	Note       string   `json:"note,omitempty"` // base64
}

// SignedTx is the wire form accepted by the node's submit endpoint, and the
// shape echoed back inside a pending-transaction response.
type SignedTx struct {
	Txn Tx     `json:"txn"`
	Sig string `json:"sig"` // base64 ed25519 signature over the canonical body
}

// canonicalBytes returns the deterministic signing payload for the body.
func (t Tx) canonicalBytes() ([]byte, error) {
	return json.Marshal(t)
}

// ID derives the transaction id from the canonical body. It is stable across
// the submit and pending paths because both carry the same body.
func (t Tx) ID() (string, error) {
	raw, err := t.canonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// FirstArg decodes the leading application argument as text, or "" when absent.
func (t Tx) FirstArg() string {
	if len(t.AppArgs) == 0 {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(t.AppArgs[0])
	if err != nil {
		return ""
	}
	return string(raw)
}

// Signer holds the configured service signing key. It is injected into the
// Gateway explicitly rather than living as a package global.
type Signer struct {
	priv    ed25519.PrivateKey
	address string
}

// NewSigner derives a signer from a 32-byte hex-encoded ed25519 seed.
func NewSigner(hexSeed string) (*Signer, error) {
	if hexSeed == "" {
		return nil, errors.New("ledger: signing key is required")
	}
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("ledger: signing key is not hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ledger: signing key is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv, address: hex.EncodeToString(pub)}, nil
}

// Address is the sender address derived from the public key.
func (s *Signer) Address() string { return s.address }

// Sign produces the submittable signed form of the body.
func (s *Signer) Sign(t Tx) (SignedTx, error) {
	raw, err := t.canonicalBytes()
	if err != nil {
		return SignedTx{}, err
	}
	sig := ed25519.Sign(s.priv, raw)
	return SignedTx{Txn: t, Sig: base64.StdEncoding.EncodeToString(sig)}, nil
}

// encodeArgs base64-encodes raw application-call arguments for the wire.
func encodeArgs(args [][]byte) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = base64.StdEncoding.EncodeToString(a)
	}
	return out
}

// u64be returns the 8-byte big-endian encoding used for candidate ids.
func u64be(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}
