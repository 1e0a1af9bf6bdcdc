package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	s := NewStore(0)

	code, err := s.Issue("voter@vit.edu")
	require.NoError(t, err)
	require.Len(t, code, 6)

	wrong := "123456"
	if code == wrong {
		wrong = "654321"
	}
	assert.False(t, s.Verify("voter@vit.edu", wrong))
	assert.True(t, s.Verify("voter@vit.edu", code))

	// A code verifies exactly once.
	assert.False(t, s.Verify("voter@vit.edu", code))
}

func TestReissueReplacesCode(t *testing.T) {
	s := NewStore(0)

	first, err := s.Issue("voter@vit.edu")
	require.NoError(t, err)
	second, err := s.Issue("voter@vit.edu")
	require.NoError(t, err)

	if first != second {
		assert.False(t, s.Verify("voter@vit.edu", first))
	}
	assert.True(t, s.Verify("voter@vit.edu", second))
}

func TestExpiredCodeIsRejected(t *testing.T) {
	s := NewStore(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	code, err := s.Issue("voter@vit.edu")
	require.NoError(t, err)

	now = now.Add(time.Minute + time.Second)
	assert.False(t, s.Verify("voter@vit.edu", code))

	// The expired entry was consumed by the failed verification.
	assert.Zero(t, s.Size())
}

func TestPurgeDropsOnlyExpired(t *testing.T) {
	s := NewStore(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Issue("stale@vit.edu")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	fresh, err := s.Issue("fresh@vit.edu")
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, s.Purge())
	assert.Equal(t, 1, s.Size())
	assert.True(t, s.Verify("fresh@vit.edu", fresh))
}

func TestUnknownEmail(t *testing.T) {
	s := NewStore(0)
	assert.False(t, s.Verify("nobody@vit.edu", "123456"))
}
