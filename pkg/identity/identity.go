// Package identity derives the pseudonymous voter key used everywhere
// on-ledger and in audit records. The hash is one-way; nothing in this
// system reverses it back to an email address.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Normalize lower-cases and trims an email address so the same mailbox
// always maps to the same identity hash.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex-encoded SHA-256 of the normalized email.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(Normalize(email)))
	return hex.EncodeToString(sum[:])
}

// HashBytes decodes a hex identity hash back to its raw 32 bytes, as carried
// in application-call arguments and voter box keys.
func HashBytes(identityHash string) ([]byte, error) {
	raw, err := hex.DecodeString(identityHash)
	if err != nil {
		return nil, fmt.Errorf("identity hash is not hex: %w", err)
	}
	if len(raw) != sha256.Size {
		return nil, fmt.Errorf("identity hash is %d bytes, want %d", len(raw), sha256.Size)
	}
	return raw, nil
}

// VoteHash digests a single submission attempt. The capture timestamp is part
// of the input and is persisted alongside the hash on the pending record, so
// the digest stays recomputable from stored fields alone.
func VoteHash(electionID, identityHash string, candidateID int64, capturedAt time.Time) string {
	input := fmt.Sprintf("%s|%s|%d|%d", electionID, identityHash, candidateID, capturedAt.UnixNano())
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
