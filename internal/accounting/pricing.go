package accounting

import (
	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// Pricer computes request cost from the configured pricing table. Entries
// are matched in declaration order; the first match wins. Provider-scoped
// entries only match their provider.
type Pricer struct {
	entries   []pricingEntry
	discounts map[string]float64
}

type pricingEntry struct {
	config.PricingEntry
	matcher glob.Glob
}

// NewPricer compiles the pricing table. Entries with invalid globs are
// dropped with a warning.
func NewPricer(cfg config.PricingConfig) *Pricer {
	p := &Pricer{discounts: cfg.Discounts}
	for _, e := range cfg.Models {
		g, err := glob.Compile(e.Model)
		if err != nil {
			logrus.WithField("pattern", e.Model).Warn("invalid pricing glob, entry skipped")
			continue
		}
		p.entries = append(p.entries, pricingEntry{PricingEntry: e, matcher: g})
	}
	return p
}

// Cost returns the request cost in USD, or nil when the model is unpriced.
func (p *Pricer) Cost(provider, model string, u unified.Usage) *float64 {
	for _, e := range p.entries {
		if e.Provider != "" && e.Provider != provider {
			continue
		}
		if !e.matcher.Match(model) {
			continue
		}
		cost := p.entryCost(e, u)
		if d, ok := p.discounts[provider]; ok && d > 0 {
			cost *= d
		}
		return &cost
	}
	return nil
}

func (p *Pricer) entryCost(e pricingEntry, u unified.Usage) float64 {
	inputRate := e.InputPer1M
	outputRate := e.OutputPer1M

	// Tiered entries select the bracket by input-token bucket.
	for _, tier := range e.Tiers {
		if tier.UpToInputTokens == 0 || u.InputTokens <= tier.UpToInputTokens {
			inputRate = tier.InputPer1M
			outputRate = tier.OutputPer1M
			break
		}
	}

	billableInput := u.InputTokens
	cost := 0.0
	if e.CachedPer1M != nil && u.CachedInputTokens != nil {
		cached := *u.CachedInputTokens
		if cached > billableInput {
			cached = billableInput
		}
		billableInput -= cached
		cost += float64(cached) / 1e6 * *e.CachedPer1M
	}
	cost += float64(billableInput) / 1e6 * inputRate
	cost += float64(u.OutputTokens) / 1e6 * outputRate
	if e.ReasoningPer1M != nil && u.ReasoningTokens != nil {
		// Reasoning tokens are included in output; the surcharge is the
		// rate difference.
		cost += float64(*u.ReasoningTokens) / 1e6 * (*e.ReasoningPer1M - outputRate)
	}
	return cost
}
