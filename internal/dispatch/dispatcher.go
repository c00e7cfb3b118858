// Package dispatch orchestrates one upstream invocation: candidate
// iteration, cooldown checks, retry with backoff, and failure bookkeeping.
package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/cooldown"
	"github.com/mcowger/plexus/internal/provider"
	"github.com/mcowger/plexus/internal/router"
	"github.com/mcowger/plexus/internal/unified"
)

// Attempt records one upstream try for the trace.
type Attempt struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Err      string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"` // provider was on cooldown
	Duration time.Duration `json:"duration"`
}

// Observer receives per-attempt notifications. All methods are optional
// side channels; the dispatcher never blocks on them.
type Observer interface {
	ObserveAttempt(requestID string, attempt Attempt)
}

// Dispatcher drives candidates through provider adapters.
type Dispatcher struct {
	registry  *provider.Registry
	cooldowns *cooldown.Manager
	observer  Observer
}

// New creates a dispatcher. observer may be nil.
func New(registry *provider.Registry, cooldowns *cooldown.Manager, observer Observer) *Dispatcher {
	return &Dispatcher{registry: registry, cooldowns: cooldowns, observer: observer}
}

func (d *Dispatcher) observe(requestID string, a Attempt) {
	if d.observer != nil {
		d.observer.ObserveAttempt(requestID, a)
	}
}

// applyCooldown places the provider on cooldown when the failure class
// warrants one.
func (d *Dispatcher) applyCooldown(providerName string, ge *unified.GatewayError) {
	switch ge.Class {
	case unified.ErrUpstreamTransient:
		d.cooldowns.Place(providerName, cooldown.ReasonTransient, 0)
	case unified.ErrUpstreamRateLimited:
		d.cooldowns.Place(providerName, cooldown.ReasonRateLimited, ge.RetryAfter)
	case unified.ErrUpstreamAuth:
		d.cooldowns.Place(providerName, cooldown.ReasonAuth, 0)
	}
}

// fatal reports whether the failure ends the whole request rather than
// advancing to the next candidate.
func fatal(ge *unified.GatewayError) bool {
	switch ge.Class {
	case unified.ErrUpstreamInvalid, unified.ErrCancelled:
		return true
	default:
		return false
	}
}

// Execute runs the non-streaming dispatch loop over the candidate list.
func (d *Dispatcher) Execute(ctx context.Context, snap *config.Snapshot, candidates []router.Candidate, req *unified.Request) (*unified.Response, error) {
	pol := newPolicy(snap.Config.Resilience.Retry)
	var lastErr *unified.GatewayError
	attempts := 0

	for _, cand := range candidates {
		if attempts >= pol.maxAttempts {
			break
		}
		if d.cooldowns.IsOnCooldown(cand.Provider.Name, time.Now()) {
			d.observe(req.RequestID, Attempt{Provider: cand.Provider.Name, Model: cand.Model, Skipped: true})
			continue
		}
		adapter, err := d.registry.For(cand.Provider.Type)
		if err != nil {
			return nil, err
		}

		if attempts > 0 {
			wait := pol.delay(attempts - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, unified.WrapError(unified.ErrCancelled, ctx.Err(), "request cancelled")
			}
		}
		attempts++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if pol.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, pol.attemptTimeout)
		}
		start := time.Now()
		resp, err := adapter.Complete(attemptCtx, provider.Call{
			Request:  req,
			Model:    cand.Model,
			Provider: cand.Provider,
		})
		if cancel != nil {
			cancel()
		}
		elapsed := time.Since(start)

		if err == nil {
			d.observe(req.RequestID, Attempt{Provider: cand.Provider.Name, Model: cand.Model, Duration: elapsed})
			return resp, nil
		}

		ge := unified.AsGateway(err)
		lastErr = ge
		d.observe(req.RequestID, Attempt{Provider: cand.Provider.Name, Model: cand.Model, Err: ge.Error(), Duration: elapsed})
		d.applyCooldown(cand.Provider.Name, ge)

		logrus.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"provider":   cand.Provider.Name,
			"model":      cand.Model,
			"class":      ge.Class,
		}).Warn("provider attempt failed")

		if fatal(ge) {
			return nil, ge
		}
		// auth failures cool the provider but still try the next candidate
	}

	if lastErr == nil {
		return nil, unified.NewError(unified.ErrNoEligibleProvider, "all providers for model %q are on cooldown", req.Model)
	}
	failed := unified.WrapError(unified.ErrAllProvidersFailed, lastErr, "all providers failed for model %q", req.Model)
	return nil, failed
}

// ExecuteStream runs the streaming dispatch loop. Events flow straight
// through to emit; a candidate is retried only while nothing has been
// emitted yet, because the client has already seen bytes otherwise.
// The returned candidate is the provider that served (or partially
// served) the stream, nil when no attempt got that far.
func (d *Dispatcher) ExecuteStream(ctx context.Context, snap *config.Snapshot, candidates []router.Candidate, req *unified.Request, emit provider.Emit) (*router.Candidate, error) {
	pol := newPolicy(snap.Config.Resilience.Retry)
	var lastErr *unified.GatewayError
	attempts := 0

	for i := range candidates {
		cand := &candidates[i]
		if attempts >= pol.maxAttempts {
			break
		}
		if d.cooldowns.IsOnCooldown(cand.Provider.Name, time.Now()) {
			d.observe(req.RequestID, Attempt{Provider: cand.Provider.Name, Model: cand.Model, Skipped: true})
			continue
		}
		adapter, err := d.registry.For(cand.Provider.Type)
		if err != nil {
			return nil, err
		}

		if attempts > 0 {
			wait := pol.delay(attempts - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, unified.WrapError(unified.ErrCancelled, ctx.Err(), "request cancelled")
			}
		}
		attempts++

		emitted := false
		counting := func(ev unified.StreamEvent) {
			emitted = true
			emit(ev)
		}

		start := time.Now()
		err = adapter.Stream(ctx, provider.Call{
			Request:  req,
			Model:    cand.Model,
			Provider: cand.Provider,
		}, counting)
		elapsed := time.Since(start)

		if err == nil {
			d.observe(req.RequestID, Attempt{Provider: cand.Provider.Name, Model: cand.Model, Duration: elapsed})
			return cand, nil
		}

		ge := unified.AsGateway(err)
		lastErr = ge
		d.observe(req.RequestID, Attempt{Provider: cand.Provider.Name, Model: cand.Model, Err: ge.Error(), Duration: elapsed})
		d.applyCooldown(cand.Provider.Name, ge)

		logrus.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"provider":   cand.Provider.Name,
			"model":      cand.Model,
			"class":      ge.Class,
			"emitted":    emitted,
		}).Warn("provider stream attempt failed")

		if ge.Class == unified.ErrCancelled {
			emit(unified.Abort())
			return cand, ge
		}
		if emitted || fatal(ge) {
			// Mid-stream failure: the client already consumed frames, so
			// the transducer must terminate rather than restart.
			emit(unified.ErrorEvent(ge))
			return cand, ge
		}
	}

	if lastErr == nil {
		return nil, unified.NewError(unified.ErrNoEligibleProvider, "all providers for model %q are on cooldown", req.Model)
	}
	return nil, unified.WrapError(unified.ErrAllProvidersFailed, lastErr, "all providers failed for model %q", req.Model)
}
