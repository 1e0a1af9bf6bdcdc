package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := New([]byte("test-secret"))
	require.NoError(t, err)
	return iss
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	iss := newTestIssuer(t)

	token, err := iss.Issue("a@x.edu", time.Hour)
	require.NoError(t, err)

	claims, err := iss.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.edu", claims.Identity)
	assert.Greater(t, claims.Exp, time.Now().Unix())
}

func TestVerifyExpired(t *testing.T) {
	iss := newTestIssuer(t)

	token, err := iss.Issue("a@x.edu", time.Second)
	require.NoError(t, err)

	// Move the clock past expiry instead of sleeping.
	iss.now = func() time.Time { return time.Now().Add(3 * time.Second) }

	_, err = iss.Verify(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyMalformed(t *testing.T) {
	iss := newTestIssuer(t)

	for _, token := range []string{"", "nodots", ".onlysig", "onlypayload."} {
		_, err := iss.Verify(token)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", token)
	}
}

func TestVerifySignatureBitFlips(t *testing.T) {
	iss := newTestIssuer(t)

	token, err := iss.Issue("a@x.edu", time.Hour)
	require.NoError(t, err)

	dot := strings.IndexByte(token, '.')
	require.Positive(t, dot)

	// Every single-bit corruption of the signature segment must surface as an
	// invalid signature, never as a malformed token or a partial identity.
	for i := dot + 1; i < len(token); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(token)
			mutated[i] ^= 1 << bit
			claims, err := iss.Verify(string(mutated))
			assert.ErrorIs(t, err, ErrInvalidSignature, "byte %d bit %d", i, bit)
			assert.Empty(t, claims.Identity)
		}
	}
}

func TestVerifyRejectsNonCanonicalSignatureEncoding(t *testing.T) {
	iss := newTestIssuer(t)

	token, err := iss.Issue("b@x.edu", time.Hour)
	require.NoError(t, err)

	dot := strings.IndexByte(token, '.')
	sig := token[dot+1:]
	require.Len(t, sig, 43) // 32 bytes, unpadded base64url

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	last := strings.IndexByte(alphabet, sig[len(sig)-1])
	require.GreaterOrEqual(t, last, 0)

	// 43 base64 characters carry 258 bits for a 256-bit digest, so the final
	// character's low two bits are padding. A lenient decoder ignores them,
	// which would let a mutated token string decode to the issued signature
	// and verify. Strict decoding must reject such encodings.
	for _, mask := range []int{1, 2} {
		mutated := token[:len(token)-1] + string(alphabet[last^mask])
		require.NotEqual(t, token, mutated)
		_, err := iss.Verify(mutated)
		assert.ErrorIs(t, err, ErrInvalidSignature, "padding bit mask %d", mask)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	iss := newTestIssuer(t)
	other, err := New([]byte("other-secret"))
	require.NoError(t, err)

	token, err := other.Issue("a@x.edu", time.Hour)
	require.NoError(t, err)

	_, err = iss.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
