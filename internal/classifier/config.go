package classifier

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Tier is the ordinal complexity class of a request.
type Tier int

const (
	TierHeartbeat Tier = iota
	TierSimple
	TierMedium
	TierComplex
	TierReasoning
)

var tierNames = map[Tier]string{
	TierHeartbeat: "HEARTBEAT",
	TierSimple:    "SIMPLE",
	TierMedium:    "MEDIUM",
	TierComplex:   "COMPLEX",
	TierReasoning: "REASONING",
}

func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseTier parses a tier name (case sensitive, upper). Returns false when
// the name is unknown.
func ParseTier(s string) (Tier, bool) {
	for t, name := range tierNames {
		if name == s {
			return t, true
		}
	}
	return TierSimple, false
}

// Promote returns the next tier up, capped at REASONING.
func (t Tier) Promote() Tier {
	if t >= TierReasoning {
		return TierReasoning
	}
	return t + 1
}

// Boundaries maps the weighted score onto tiers.
type Boundaries struct {
	SimpleMedium     float64 `yaml:"simple_medium" json:"simple_medium"`
	MediumComplex    float64 `yaml:"medium_complex" json:"medium_complex"`
	ComplexReasoning float64 `yaml:"complex_reasoning" json:"complex_reasoning"`
}

// OverrideRule is a configured post-classification override. When is an
// expr-lang expression over the classification environment (tier, score,
// signals, agenticScore, hasStructuredOutput, tokens, lastUser); when it
// evaluates true the result tier is replaced by Tier.
type OverrideRule struct {
	When string `yaml:"when" json:"when"`
	Tier string `yaml:"tier" json:"tier"`

	program *vm.Program
	tier    Tier
}

// Config holds the classifier tuning tables. All values have working
// defaults from DefaultConfig; YAML may override any of them, but when
// dimension_weights is present all sixteen weights are required.
type Config struct {
	// Short-circuit phase.
	HeartbeatMaxDepth     int `yaml:"heartbeat_max_depth" json:"heartbeat_max_depth"`
	MinMessageChars       int `yaml:"min_message_chars" json:"min_message_chars"`
	MaxTokensForceComplex int `yaml:"max_tokens_force_complex" json:"max_tokens_force_complex"`

	// Dimension scoring phase.
	DimensionWeights map[string]float64 `yaml:"dimension_weights" json:"dimension_weights"`

	// Override phase.
	ReasoningOverrideMinMatches  int            `yaml:"reasoning_override_min_matches" json:"reasoning_override_min_matches"`
	ReasoningOverrideMinScore    float64        `yaml:"reasoning_override_min_score" json:"reasoning_override_min_score"`
	ArchitectureOverrideMinScore float64        `yaml:"architecture_override_min_score" json:"architecture_override_min_score"`
	Overrides                    []OverrideRule `yaml:"overrides" json:"overrides"`

	// Boundary mapping and confidence phase.
	Boundaries           Boundaries `yaml:"boundaries" json:"boundaries"`
	ConfidenceSteepness  float64    `yaml:"confidence_steepness" json:"confidence_steepness"`
	AmbiguityThreshold   float64    `yaml:"ambiguity_threshold" json:"ambiguity_threshold"`
	AmbiguousDefaultTier string     `yaml:"ambiguous_default_tier" json:"ambiguous_default_tier"`
}

// DimensionNames lists the sixteen scoring dimensions. A configured
// dimension_weights map must cover exactly this set.
var DimensionNames = []string{
	"tokenCount",
	"codePresence",
	"reasoningMarkers",
	"multiStepPatterns",
	"simpleIndicators",
	"technicalTerms",
	"agenticTask",
	"toolPresence",
	"questionComplexity",
	"creativeMarkers",
	"constraintCount",
	"outputFormat",
	"conversationDepth",
	"imperativeVerbs",
	"referenceComplexity",
	"negationComplexity",
}

// DefaultConfig returns the documented default tuning tables.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatMaxDepth:     2,
		MinMessageChars:       5,
		MaxTokensForceComplex: 8000,
		DimensionWeights: map[string]float64{
			"tokenCount":          0.8,
			"codePresence":        1.0,
			"reasoningMarkers":    1.2,
			"multiStepPatterns":   1.0,
			"simpleIndicators":    1.0,
			"technicalTerms":      0.8,
			"agenticTask":         0.9,
			"toolPresence":        0.7,
			"questionComplexity":  0.6,
			"creativeMarkers":     0.5,
			"constraintCount":     0.7,
			"outputFormat":        0.5,
			"conversationDepth":   0.4,
			"imperativeVerbs":     0.7,
			"referenceComplexity": 0.4,
			"negationComplexity":  0.3,
		},
		ReasoningOverrideMinMatches:  2,
		ReasoningOverrideMinScore:    1.8,
		ArchitectureOverrideMinScore: 1.0,
		Boundaries: Boundaries{
			SimpleMedium:     0.35,
			MediumComplex:    1.10,
			ComplexReasoning: 2.20,
		},
		ConfidenceSteepness:  4.0,
		AmbiguityThreshold:   0.55,
		AmbiguousDefaultTier: "MEDIUM",
	}
}

// Validate checks the tuning tables and compiles override expressions.
func (c *Config) Validate() error {
	if len(c.DimensionWeights) > 0 {
		for _, name := range DimensionNames {
			if _, ok := c.DimensionWeights[name]; !ok {
				return fmt.Errorf("classifier: dimension_weights missing %q (all %d weights are required when the map is present)", name, len(DimensionNames))
			}
		}
		for name := range c.DimensionWeights {
			known := false
			for _, want := range DimensionNames {
				if name == want {
					known = true
					break
				}
			}
			if !known {
				return fmt.Errorf("classifier: unknown dimension weight %q", name)
			}
		}
	}
	if c.Boundaries.SimpleMedium >= c.Boundaries.MediumComplex ||
		c.Boundaries.MediumComplex >= c.Boundaries.ComplexReasoning {
		return fmt.Errorf("classifier: boundaries must be strictly increasing")
	}
	if _, ok := ParseTier(c.AmbiguousDefaultTier); !ok {
		return fmt.Errorf("classifier: unknown ambiguous_default_tier %q", c.AmbiguousDefaultTier)
	}
	for i := range c.Overrides {
		rule := &c.Overrides[i]
		tier, ok := ParseTier(rule.Tier)
		if !ok {
			return fmt.Errorf("classifier: overrides[%d]: unknown tier %q", i, rule.Tier)
		}
		rule.tier = tier
		prog, err := expr.Compile(rule.When, expr.Env(OverrideEnv{}), expr.AsBool())
		if err != nil {
			return fmt.Errorf("classifier: overrides[%d]: %w", i, err)
		}
		rule.program = prog
	}
	return nil
}

// OverrideEnv is the expression environment for configured override rules.
type OverrideEnv struct {
	Tier                string   `expr:"tier"`
	Score               float64  `expr:"score"`
	AgenticScore        float64  `expr:"agenticScore"`
	Signals             []string `expr:"signals"`
	HasStructuredOutput bool     `expr:"hasStructuredOutput"`
	Tokens              int      `expr:"tokens"`
	LastUser            string   `expr:"lastUser"`
}
