// Package otp holds the short-lived one-time codes issued during voter
// registration. Codes live only in process memory; restarting the service
// invalidates outstanding codes, which is acceptable for a ten-minute window.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 10 * time.Minute

type entry struct {
	code      string
	expiresAt time.Time
}

// Store keeps one outstanding code per normalized email.
type Store struct {
	entries *xsync.Map[string, entry]
	ttl     time.Duration
	now     func() time.Time
}

// NewStore returns a store with the given code lifetime; ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		entries: xsync.NewMap[string, entry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue generates a fresh 6-digit code for the email, replacing any
// outstanding one.
func (s *Store) Issue(email string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())
	s.entries.Store(email, entry{code: code, expiresAt: s.now().Add(s.ttl)})
	return code, nil
}

// Verify consumes the code for the email. A correct code verifies exactly
// once; expired or wrong codes leave no trace beyond the existing entry.
func (s *Store) Verify(email, code string) bool {
	e, ok := s.entries.Load(email)
	if !ok {
		return false
	}
	if s.now().After(e.expiresAt) {
		s.entries.Delete(email)
		return false
	}
	if !hmac.Equal([]byte(e.code), []byte(code)) {
		return false
	}
	s.entries.Delete(email)
	return true
}

// Purge drops expired entries. Called periodically so abandoned registrations
// do not accumulate.
func (s *Store) Purge() int {
	now := s.now()
	removed := 0
	s.entries.Range(func(email string, e entry) bool {
		if now.After(e.expiresAt) {
			s.entries.Delete(email)
			removed++
		}
		return true
	})
	return removed
}

// Size reports the number of outstanding codes, expired or not.
func (s *Store) Size() int {
	return s.entries.Size()
}
