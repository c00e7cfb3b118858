package dispatch

import (
	"math/rand"
	"time"

	"github.com/mcowger/plexus/internal/config"
)

// policy is the resolved retry/backoff policy for one request.
type policy struct {
	maxAttempts    int
	base           time.Duration
	cap            time.Duration
	multiplier     float64
	jitterPct      float64
	attemptTimeout time.Duration
}

func newPolicy(rc config.RetryConfig) policy {
	p := policy{
		maxAttempts: 3,
		base:        100 * time.Millisecond,
		cap:         2 * time.Second,
		multiplier:  2,
		jitterPct:   0.25,
	}
	if rc.MaxAttempts > 0 {
		p.maxAttempts = rc.MaxAttempts
	}
	if rc.BackoffBaseMS > 0 {
		p.base = time.Duration(rc.BackoffBaseMS) * time.Millisecond
	}
	if rc.BackoffCapMS > 0 {
		p.cap = time.Duration(rc.BackoffCapMS) * time.Millisecond
	}
	if rc.Multiplier > 1 {
		p.multiplier = rc.Multiplier
	}
	if rc.JitterPct > 0 {
		p.jitterPct = rc.JitterPct
	}
	if rc.AttemptTimeoutS > 0 {
		p.attemptTimeout = time.Duration(rc.AttemptTimeoutS) * time.Second
	}
	return p
}

// delay computes the backoff before retry number attempt (0-based), with
// symmetric jitter.
func (p policy) delay(attempt int) time.Duration {
	d := float64(p.base)
	for i := 0; i < attempt; i++ {
		d *= p.multiplier
		if d >= float64(p.cap) {
			d = float64(p.cap)
			break
		}
	}
	jitter := 1 + p.jitterPct*(2*rand.Float64()-1)
	out := time.Duration(d * jitter)
	if out > p.cap {
		out = p.cap
	}
	return out
}
