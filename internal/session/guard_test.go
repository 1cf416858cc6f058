package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardCheck(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fp := Fingerprint{UA: "A", IP: "10.0.0.1"}
	g := NewGuard(15 * time.Minute)

	bound := func(last time.Duration) *Session {
		s := &Session{ID: "sid"}
		s.Bind(User{ID: "u1"}, fp, now.Add(-last))
		return s
	}

	t.Run("anonymous passes untouched", func(t *testing.T) {
		s := &Session{ID: "sid"}
		d := g.Check(s, Fingerprint{UA: "other"}, now)
		assert.True(t, d.Allow)
		assert.Nil(t, s.LastActivity)
	})

	t.Run("matching fingerprint refreshes activity", func(t *testing.T) {
		s := bound(10 * time.Minute)
		d := g.Check(s, fp, now)
		require.True(t, d.Allow)
		assert.True(t, s.LastActivity.Equal(now))
	})

	t.Run("user agent change", func(t *testing.T) {
		d := g.Check(bound(0), Fingerprint{UA: "B", IP: fp.IP}, now)
		assert.False(t, d.Allow)
		assert.Equal(t, ReasonIntegrity, d.Reason)
		assert.Equal(t, "/login?integrity=1", d.Redirect())
	})

	t.Run("ip change", func(t *testing.T) {
		d := g.Check(bound(0), Fingerprint{UA: fp.UA, IP: "10.0.0.2"}, now)
		assert.Equal(t, ReasonIntegrity, d.Reason)
	})

	t.Run("integrity wins over timeout", func(t *testing.T) {
		d := g.Check(bound(time.Hour), Fingerprint{UA: "B", IP: fp.IP}, now)
		assert.Equal(t, ReasonIntegrity, d.Reason)
	})

	t.Run("idle", func(t *testing.T) {
		d := g.Check(bound(16*time.Minute), fp, now)
		assert.False(t, d.Allow)
		assert.Equal(t, ReasonTimeout, d.Reason)
		assert.Equal(t, "/login?timeout=1", d.Redirect())
	})

	t.Run("exactly at threshold", func(t *testing.T) {
		assert.True(t, g.Check(bound(15*time.Minute), fp, now).Allow)
	})

	t.Run("missing activity counts as now", func(t *testing.T) {
		s := bound(0)
		s.LastActivity = nil
		require.True(t, g.Check(s, fp, now).Allow)
		assert.True(t, s.LastActivity.Equal(now))
	})
}

func TestSessionCSRF(t *testing.T) {
	s := &Session{}
	assert.False(t, s.ValidCSRF(""))
	tok, err := s.EnsureCSRF()
	require.NoError(t, err)
	assert.Len(t, tok, 64)

	again, err := s.EnsureCSRF()
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.True(t, s.ValidCSRF(tok))
	assert.False(t, s.ValidCSRF(tok[:63]+"x"))
}
