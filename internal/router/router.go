// Package router resolves logical model names into ordered provider
// candidates, including the reserved `auto` name which routes by classified
// request complexity.
package router

import (
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mcowger/plexus/internal/classifier"
	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// Candidate is one resolvable (provider, upstream model) pair.
type Candidate struct {
	Provider *config.Provider
	Model    string
}

// AutoDecision records how `auto` was resolved for classifier logging.
type AutoDecision struct {
	Result        classifier.Result
	Boosted       bool
	ResolvedAlias string // post-boost: the alias actually used
}

// ClassifierLogger receives auto-routing decisions. Writes must not block
// resolution; failures are non-fatal.
type ClassifierLogger interface {
	LogClassifier(requestID string, decision *AutoDecision)
}

// Router holds the process-wide selector state. Round-robin counters are
// keyed by alias name and survive configuration reloads.
type Router struct {
	mu       sync.Mutex
	counters map[string]*atomic.Uint64

	logger ClassifierLogger
}

// New creates a router. logger may be nil.
func New(logger ClassifierLogger) *Router {
	return &Router{
		counters: make(map[string]*atomic.Uint64),
		logger:   logger,
	}
}

// Resolve maps a requested model name to an ordered candidate list against
// the given snapshot. For `auto` it classifies the request, applies the
// agentic boost, and re-resolves through the tier's alias; the decision is
// returned for accounting.
func (r *Router) Resolve(snap *config.Snapshot, modelName string, req *unified.Request) ([]Candidate, *AutoDecision, error) {
	if strings.EqualFold(modelName, "auto") {
		return r.resolveAuto(snap, req)
	}

	alias, ok := snap.Alias(modelName)
	if !ok {
		return nil, nil, unified.NewError(unified.ErrUnknownModel, "model %q is not configured", modelName)
	}

	candidates := r.order(modelName, alias, snap)
	if len(candidates) == 0 {
		return nil, nil, unified.NewError(unified.ErrNoEligibleProvider, "model %q has no enabled providers", modelName)
	}
	return candidates, nil, nil
}

func (r *Router) resolveAuto(snap *config.Snapshot, req *unified.Request) ([]Candidate, *AutoDecision, error) {
	auto := snap.Config.Auto
	if !auto.Enabled {
		return nil, nil, unified.NewError(unified.ErrConfig, "model \"auto\" requested but auto routing is not enabled")
	}

	result := classifier.Classify(req, snap.ClassifierConfig())
	tier := result.Tier
	boosted := false
	if result.AgenticScore > auto.AgenticBoostThreshold {
		promoted := tier.Promote()
		boosted = promoted != tier
		tier = promoted
	}

	aliasName, ok := auto.TierModels[strings.ToLower(tier.String())]
	if !ok || aliasName == "" {
		return nil, nil, unified.NewError(unified.ErrConfig, "auto routing has no alias for tier %s", tier)
	}

	decision := &AutoDecision{Result: result, Boosted: boosted, ResolvedAlias: aliasName}
	logrus.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"tier":       result.Tier.String(),
		"boosted":    boosted,
		"alias":      aliasName,
		"method":     result.Method,
		"score":      result.Score,
	}).Debug("auto routing decision")

	if r.logger != nil && req.RequestID != "" {
		r.logger.LogClassifier(req.RequestID, decision)
	}

	candidates, _, err := r.Resolve(snap, aliasName, req)
	return candidates, decision, err
}

// order applies the alias selector and drops disabled providers. Cooldown
// is the dispatcher's concern: it is checked at the moment each candidate
// is tried, not at resolution time.
func (r *Router) order(aliasName string, alias config.ModelAlias, snap *config.Snapshot) []Candidate {
	targets := make([]config.Target, len(alias.Targets))
	copy(targets, alias.Targets)

	switch alias.Selector {
	case config.SelectorRandom:
		rand.Shuffle(len(targets), func(i, j int) {
			targets[i], targets[j] = targets[j], targets[i]
		})
	case config.SelectorRoundRobin:
		n := r.counter(aliasName).Add(1) - 1
		offset := int(n % uint64(len(targets)))
		rotated := make([]config.Target, 0, len(targets))
		rotated = append(rotated, targets[offset:]...)
		rotated = append(rotated, targets[:offset]...)
		targets = rotated
	default:
		// priority: declared order
	}

	out := make([]Candidate, 0, len(targets))
	for _, t := range targets {
		p, ok := snap.Provider(t.Provider)
		if !ok || !p.IsEnabled() {
			continue
		}
		out = append(out, Candidate{Provider: p, Model: t.Model})
	}
	return out
}

func (r *Router) counter(alias string) *atomic.Uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[alias]
	if !ok {
		c = &atomic.Uint64{}
		r.counters[alias] = c
	}
	return c
}
