// Package cooldown tracks temporarily-disabled providers. Entries self-expire;
// readers always check expiry so a stale entry never blocks selection, and a
// background sweeper reclaims expired entries.
package cooldown

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reason classifies why a provider was placed on cooldown. The reason picks
// the baseline duration.
type Reason string

const (
	ReasonTransient   Reason = "transient"
	ReasonRateLimited Reason = "rate_limited"
	ReasonAuth        Reason = "auth"
	ReasonManual      Reason = "manual"
)

// Entry is one provider cooldown record.
type Entry struct {
	Provider  string    `json:"provider"`
	Reason    Reason    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	Strikes   int       `json:"strikes"` // consecutive placements; drives exponential extension
}

// Config holds the duration policy.
type Config struct {
	TransientBase  time.Duration `yaml:"transient_base" json:"transient_base"`
	RateLimitBase  time.Duration `yaml:"rate_limit_base" json:"rate_limit_base"`
	AuthBase       time.Duration `yaml:"auth_base" json:"auth_base"`
	MaxDuration    time.Duration `yaml:"max_duration" json:"max_duration"`
	SweepInterval  time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	StrikeResetAge time.Duration `yaml:"strike_reset_age" json:"strike_reset_age"`
}

// DefaultConfig returns the documented defaults: transient 15s, rate-limited
// 30s, auth 5m, doubling per strike, capped at 5m.
func DefaultConfig() Config {
	return Config{
		TransientBase:  15 * time.Second,
		RateLimitBase:  30 * time.Second,
		AuthBase:       5 * time.Minute,
		MaxDuration:    5 * time.Minute,
		SweepInterval:  30 * time.Second,
		StrikeResetAge: 10 * time.Minute,
	}
}

// Manager is the process-wide cooldown map. Writes are exclusive, reads
// shared; all checks take an explicit now so behavior is testable.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	cfg     Config

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a cooldown manager. Call Start to run the sweeper.
func NewManager(cfg Config) *Manager {
	if cfg.TransientBase <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		stop:    make(chan struct{}),
	}
}

// IsOnCooldown reports whether the provider has an unexpired entry at now.
func (m *Manager) IsOnCooldown(provider string, now time.Time) bool {
	m.mu.RLock()
	e, ok := m.entries[provider]
	m.mu.RUnlock()
	return ok && now.Before(e.ExpiresAt)
}

// Place puts a provider on cooldown. When duration <= 0 the policy duration
// is used: base for the reason, doubled per consecutive strike, capped. An
// explicit rate-limit duration is floored at the rate-limit baseline.
// Returns the entry actually stored.
func (m *Manager) Place(provider string, reason Reason, duration time.Duration) Entry {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	strikes := 0
	if prev, ok := m.entries[provider]; ok {
		// Strikes decay after a quiet period.
		if now.Sub(prev.ExpiresAt) < m.cfg.StrikeResetAge {
			strikes = prev.Strikes + 1
		}
	}

	if duration <= 0 {
		duration = m.baseFor(reason) << strikes
	} else if reason == ReasonRateLimited && duration < m.cfg.RateLimitBase {
		// A Retry-After hint never undercuts the rate-limit baseline.
		duration = m.cfg.RateLimitBase
	}
	if duration > m.cfg.MaxDuration {
		duration = m.cfg.MaxDuration
	}

	e := &Entry{
		Provider:  provider,
		Reason:    reason,
		ExpiresAt: now.Add(duration),
		Strikes:   strikes,
	}
	// Never shorten an existing cooldown.
	if prev, ok := m.entries[provider]; ok && prev.ExpiresAt.After(e.ExpiresAt) {
		e.ExpiresAt = prev.ExpiresAt
	}
	m.entries[provider] = e

	logrus.WithFields(logrus.Fields{
		"provider": provider,
		"reason":   reason,
		"until":    e.ExpiresAt.Format(time.RFC3339),
		"strikes":  strikes,
	}).Warn("provider placed on cooldown")
	return *e
}

func (m *Manager) baseFor(reason Reason) time.Duration {
	switch reason {
	case ReasonRateLimited:
		return m.cfg.RateLimitBase
	case ReasonAuth:
		return m.cfg.AuthBase
	default:
		return m.cfg.TransientBase
	}
}

// Clear removes a provider's cooldown entry.
func (m *Manager) Clear(provider string) {
	m.mu.Lock()
	delete(m.entries, provider)
	m.mu.Unlock()
}

// ClearAll removes every entry.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
}

// Snapshot returns a copy of the active entries at now.
func (m *Manager) Snapshot(now time.Time) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, *e)
		}
	}
	return out
}

// Start launches the background sweeper. Stop cancels it.
func (m *Manager) Start() {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep(time.Now())
			}
		}
	}()
}

// Stop cancels the sweeper. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.entries {
		// Keep recently-expired entries around for strike accounting.
		if now.Sub(e.ExpiresAt) > m.cfg.StrikeResetAge {
			delete(m.entries, name)
		}
	}
}
