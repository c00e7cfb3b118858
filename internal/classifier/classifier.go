// Package classifier maps a unified request onto an ordinal complexity tier.
// Classification is a pure synchronous function: short-circuits, sixteen
// weighted dimension scorers, overrides, boundary mapping and a sigmoid
// confidence, in that order.
package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/mcowger/plexus/internal/unified"
)

// Method reports which phase decided the tier.
const (
	MethodShortCircuit = "short-circuit"
	MethodRules        = "rules"
)

// Result is the full classification outcome.
type Result struct {
	Tier                 Tier     `json:"tier"`
	Score                float64  `json:"score"`
	Confidence           float64  `json:"confidence"`
	Method               string   `json:"method"`
	Reasoning            string   `json:"reasoning"`
	Signals              []string `json:"signals"`
	AgenticScore         float64  `json:"agentic_score"`
	HasStructuredOutput  bool     `json:"has_structured_output"`
	DistanceFromBoundary float64  `json:"distance_from_boundary"`
}

var (
	reHeartbeat = regexp.MustCompile(`(?i)^\s*(hi|hello|ping|hey|test|ok|yo|thanks|thank you)\s*[.!?]*\s*$`)
	reForceTier = regexp.MustCompile(`(?i)\bUSE\s+(HEARTBEAT|SIMPLE|MEDIUM|COMPLEX|REASONING)\b`)
)

// Classify computes the complexity tier for a request. It is deterministic
// for a given (request, config) pair and never blocks.
func Classify(req *unified.Request, cfg *Config) Result {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	f := extractFeatures(req)

	// Phase 1: short-circuits.
	if r, ok := shortCircuit(f, cfg); ok {
		return r
	}

	// Phase 2: dimension scoring.
	var (
		weighted         float64
		signals          []string
		agenticScore     float64
		agenticBaseline  float64
		reasoningMatches int
		structuredOutput bool
	)
	for _, dim := range dimensions {
		ds := dim.score(f)
		weight, ok := cfg.DimensionWeights[dim.name]
		if !ok {
			weight = 1.0
		}
		weighted += ds.score * weight
		if ds.signal != "" {
			signals = append(signals, dim.name+":"+ds.signal)
		}
		if ds.agenticDelta > 0 {
			agenticScore += math.Min(1.0, 0.3*float64(ds.agenticDelta))
		}
		if ds.agenticBaseline > agenticBaseline {
			agenticBaseline = ds.agenticBaseline
		}
		if ds.reasoningMatches > 0 {
			reasoningMatches = ds.reasoningMatches
		}
		if ds.structuredOutput {
			structuredOutput = true
		}
	}
	agenticScore = math.Min(1.0, math.Max(agenticScore, agenticBaseline))

	// Phase 4 runs before phase 3 consults the provisional tier.
	tier := tierForScore(weighted, cfg.Boundaries)
	reasoning := fmt.Sprintf("weighted score %.2f over %d dimensions", weighted, len(dimensions))

	// Phase 3: overrides.
	overrode := false
	if reasoningMatches >= cfg.ReasoningOverrideMinMatches &&
		tier >= TierMedium && weighted >= cfg.ReasoningOverrideMinScore {
		tier = TierReasoning
		overrode = true
		signals = append(signals, "override:reasoning")
		reasoning += "; reasoning override"
	} else if hasArchitectureShape(f) && tier >= TierMedium && weighted >= cfg.ArchitectureOverrideMinScore {
		if tier < TierComplex {
			tier = TierComplex
		}
		overrode = true
		signals = append(signals, "override:architecture")
		reasoning += "; architecture override"
	}

	// Phase 5: confidence and ambiguity. An override pins the tier; boundary
	// distance says nothing about it, so the ambiguity fallback is skipped.
	distance := distanceFromBoundary(weighted, cfg.Boundaries)
	confidence := sigmoid(cfg.ConfidenceSteepness * distance)
	if !overrode && confidence < cfg.AmbiguityThreshold {
		if fallback, ok := ParseTier(cfg.AmbiguousDefaultTier); ok {
			tier = fallback
			signals = append(signals, "ambiguous")
			reasoning += fmt.Sprintf("; ambiguous (confidence %.2f), defaulted", confidence)
		}
	}

	result := Result{
		Tier:                 tier,
		Score:                weighted,
		Confidence:           confidence,
		Method:               MethodRules,
		Reasoning:            reasoning,
		Signals:              signals,
		AgenticScore:         agenticScore,
		HasStructuredOutput:  structuredOutput,
		DistanceFromBoundary: distance,
	}

	// Configured override rules run last.
	applyConfiguredOverrides(&result, f, cfg)
	return result
}

func shortCircuit(f *features, cfg *Config) (Result, bool) {
	structured := f.format != nil && f.format.Type != unified.FormatText

	if m := reForceTier.FindStringSubmatch(f.lastUser); m != nil {
		tier, _ := ParseTier(strings.ToUpper(m[1]))
		return Result{
			Tier:                tier,
			Confidence:          1.0,
			Method:              MethodShortCircuit,
			Reasoning:           "forced tier directive",
			Signals:             []string{"forced:" + tier.String()},
			HasStructuredOutput: structured,
		}, true
	}

	trimmed := strings.TrimSpace(f.lastUser)
	if !f.hasTools && f.messageCount <= cfg.HeartbeatMaxDepth {
		if reHeartbeat.MatchString(f.lastUser) {
			return Result{
				Tier:                TierHeartbeat,
				Confidence:          1.0,
				Method:              MethodShortCircuit,
				Reasoning:           "heartbeat pattern",
				Signals:             []string{"heartbeat:pattern"},
				HasStructuredOutput: structured,
			}, true
		}
		if len(trimmed) > 0 && len(trimmed) < cfg.MinMessageChars {
			return Result{
				Tier:                TierHeartbeat,
				Confidence:          1.0,
				Method:              MethodShortCircuit,
				Reasoning:           "message under character floor",
				Signals:             []string{"heartbeat:short"},
				HasStructuredOutput: structured,
			}, true
		}
	}

	if f.tokens > cfg.MaxTokensForceComplex {
		return Result{
			Tier:                TierComplex,
			Confidence:          1.0,
			Method:              MethodShortCircuit,
			Reasoning:           fmt.Sprintf("estimated %d input tokens exceeds %d", f.tokens, cfg.MaxTokensForceComplex),
			Signals:             []string{"overflow:tokens"},
			HasStructuredOutput: structured,
		}, true
	}

	return Result{}, false
}

func hasArchitectureShape(f *features) bool {
	return countContains(f.lastUserLow, architectureNouns) > 0 &&
		countContains(f.lastUserLow, architectureVerbs) > 0
}

func tierForScore(score float64, b Boundaries) Tier {
	switch {
	case score < b.SimpleMedium:
		return TierSimple
	case score < b.MediumComplex:
		return TierMedium
	case score < b.ComplexReasoning:
		return TierComplex
	default:
		return TierReasoning
	}
}

func distanceFromBoundary(score float64, b Boundaries) float64 {
	d := math.Abs(score - b.SimpleMedium)
	if v := math.Abs(score - b.MediumComplex); v < d {
		d = v
	}
	if v := math.Abs(score - b.ComplexReasoning); v < d {
		d = v
	}
	return d
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func applyConfiguredOverrides(r *Result, f *features, cfg *Config) {
	if len(cfg.Overrides) == 0 {
		return
	}
	env := OverrideEnv{
		Tier:                r.Tier.String(),
		Score:               r.Score,
		AgenticScore:        r.AgenticScore,
		Signals:             r.Signals,
		HasStructuredOutput: r.HasStructuredOutput,
		Tokens:              f.tokens,
		LastUser:            f.lastUser,
	}
	for i := range cfg.Overrides {
		rule := &cfg.Overrides[i]
		if rule.program == nil {
			continue
		}
		out, err := expr.Run(rule.program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			r.Tier = rule.tier
			r.Signals = append(r.Signals, "override:configured")
			r.Reasoning += fmt.Sprintf("; configured override -> %s", rule.tier)
			return
		}
	}
}
