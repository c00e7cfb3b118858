package provider

import (
	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// applyStripRules clears sampling parameters the provider declares
// unsupported for the upstream model. Returns a copy; the request's own
// sampling stays intact for tracing.
func applyStripRules(p *config.Provider, model string, s unified.Sampling) unified.Sampling {
	for _, rule := range p.StripParameters {
		if rule.Models != "" {
			g, err := glob.Compile(rule.Models)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"provider": p.Name,
					"pattern":  rule.Models,
				}).Warn("invalid strip_parameters glob, rule skipped")
				continue
			}
			if !g.Match(model) {
				continue
			}
		}
		for _, param := range rule.Parameters {
			switch param {
			case "temperature":
				s.Temperature = nil
			case "top_p":
				s.TopP = nil
			case "frequency_penalty":
				s.FrequencyPenalty = nil
			case "presence_penalty":
				s.PresencePenalty = nil
			case "max_output_tokens", "max_tokens":
				s.MaxOutputTokens = nil
			case "stop", "stop_sequences":
				s.StopSequences = nil
			case "seed":
				s.Seed = nil
			default:
				logrus.WithFields(logrus.Fields{
					"provider":  p.Name,
					"parameter": param,
				}).Debug("unknown strip parameter ignored")
			}
		}
	}
	return s
}
