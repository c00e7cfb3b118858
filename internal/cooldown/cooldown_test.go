package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlaceAndExpiry(t *testing.T) {
	m := NewManager(DefaultConfig())
	e := m.Place("alpha", ReasonTransient, 10*time.Second)

	require.True(t, m.IsOnCooldown("alpha", time.Now()))
	require.True(t, m.IsOnCooldown("alpha", e.ExpiresAt.Add(-time.Millisecond)))
	require.False(t, m.IsOnCooldown("alpha", e.ExpiresAt))
	require.False(t, m.IsOnCooldown("alpha", e.ExpiresAt.Add(time.Hour)))
	require.False(t, m.IsOnCooldown("other", time.Now()))
}

func TestPlaceUsesReasonBaseline(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg)

	now := time.Now()
	transient := m.Place("a", ReasonTransient, 0)
	rate := m.Place("b", ReasonRateLimited, 0)
	auth := m.Place("c", ReasonAuth, 0)

	require.WithinDuration(t, now.Add(cfg.TransientBase), transient.ExpiresAt, time.Second)
	require.WithinDuration(t, now.Add(cfg.RateLimitBase), rate.ExpiresAt, time.Second)
	require.WithinDuration(t, now.Add(cfg.AuthBase), auth.ExpiresAt, time.Second)
}

func TestRateLimitRetryAfterFlooredAtBaseline(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg)

	now := time.Now()
	// A tiny Retry-After hint must not produce a cooldown shorter than the
	// rate-limit baseline.
	short := m.Place("alpha", ReasonRateLimited, 2*time.Second)
	require.WithinDuration(t, now.Add(cfg.RateLimitBase), short.ExpiresAt, time.Second)

	// A hint beyond the baseline is honored as given.
	long := m.Place("beta", ReasonRateLimited, 2*time.Minute)
	require.WithinDuration(t, now.Add(2*time.Minute), long.ExpiresAt, time.Second)
}

func TestStrikesExtendCooldown(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg)

	first := m.Place("alpha", ReasonTransient, 0)
	require.Equal(t, 0, first.Strikes)

	second := m.Place("alpha", ReasonTransient, 0)
	require.Equal(t, 1, second.Strikes)
	require.True(t, second.ExpiresAt.After(first.ExpiresAt))
}

func TestCooldownNeverShortens(t *testing.T) {
	m := NewManager(DefaultConfig())
	long := m.Place("alpha", ReasonAuth, time.Hour)
	short := m.Place("alpha", ReasonTransient, time.Second)
	require.Equal(t, long.ExpiresAt, short.ExpiresAt)
}

func TestCooldownCappedAtMax(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg)
	e := m.Place("alpha", ReasonTransient, 24*time.Hour)
	require.LessOrEqual(t, time.Until(e.ExpiresAt), cfg.MaxDuration+time.Second)
}

func TestClearAndSnapshot(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.Place("alpha", ReasonTransient, time.Minute)
	m.Place("beta", ReasonRateLimited, time.Minute)

	snap := m.Snapshot(time.Now())
	require.Len(t, snap, 2)

	m.Clear("alpha")
	require.False(t, m.IsOnCooldown("alpha", time.Now()))
	require.True(t, m.IsOnCooldown("beta", time.Now()))

	m.ClearAll()
	require.Empty(t, m.Snapshot(time.Now()))
}

func TestSweepReclaimsStaleEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrikeResetAge = time.Millisecond
	m := NewManager(cfg)
	m.Place("alpha", ReasonTransient, time.Millisecond)

	m.sweep(time.Now().Add(time.Minute))
	require.Empty(t, m.Snapshot(time.Now()))
}
