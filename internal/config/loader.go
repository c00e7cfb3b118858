package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcowger/plexus/internal/classifier"
)

// Snapshot is an immutable view of one loaded configuration. Never mutate a
// snapshot after publishing it.
type Snapshot struct {
	Config    *Config
	Providers map[string]*Provider // by name
	Raw       []byte               // the YAML as loaded
	LoadedAt  time.Time
}

// Provider looks up a provider by name.
func (s *Snapshot) Provider(name string) (*Provider, bool) {
	p, ok := s.Providers[name]
	return p, ok
}

// Alias looks up a model alias by name.
func (s *Snapshot) Alias(name string) (ModelAlias, bool) {
	a, ok := s.Config.Models[name]
	return a, ok
}

// ClassifierConfig returns the effective classifier tuning: the configured
// tables or the documented defaults.
func (s *Snapshot) ClassifierConfig() *classifier.Config {
	if s.Config.Auto.Classifier != nil {
		return s.Config.Auto.Classifier
	}
	return classifier.DefaultConfig()
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse validates a YAML document and builds a snapshot.
func Parse(raw []byte) (*Snapshot, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	providers := make(map[string]*Provider, len(cfg.Providers))
	for i := range cfg.Providers {
		providers[cfg.Providers[i].Name] = &cfg.Providers[i]
	}
	return &Snapshot{
		Config:    cfg,
		Providers: providers,
		Raw:       raw,
		LoadedAt:  time.Now(),
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8099
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Resilience.Retry.MaxAttempts == 0 {
		cfg.Resilience.Retry.MaxAttempts = 3
	}
	if cfg.Resilience.Retry.BackoffBaseMS == 0 {
		cfg.Resilience.Retry.BackoffBaseMS = 100
	}
	if cfg.Resilience.Retry.BackoffCapMS == 0 {
		cfg.Resilience.Retry.BackoffCapMS = 2000
	}
	if cfg.Resilience.Retry.Multiplier == 0 {
		cfg.Resilience.Retry.Multiplier = 2
	}
	if cfg.Resilience.Retry.JitterPct == 0 {
		cfg.Resilience.Retry.JitterPct = 0.25
	}
	if cfg.Resilience.Retry.AttemptTimeoutS == 0 {
		cfg.Resilience.Retry.AttemptTimeoutS = 120
	}
	if cfg.Resilience.Retry.RequestTimeoutS == 0 {
		cfg.Resilience.Retry.RequestTimeoutS = 600
	}
	if cfg.Resilience.Retry.DrainGraceS == 0 {
		cfg.Resilience.Retry.DrainGraceS = 15
	}
	if cfg.Trace.MaxChunks == 0 {
		cfg.Trace.MaxChunks = 500
	}
	if cfg.Trace.MaxChunkBytes == 0 {
		cfg.Trace.MaxChunkBytes = 4096
	}
	if cfg.Trace.QueueSize == 0 {
		cfg.Trace.QueueSize = 256
	}
	if cfg.Energy.TensorParallelDegree == 0 {
		cfg.Energy.TensorParallelDegree = 8
	}
	if cfg.Energy.GPUPowerWatts == 0 {
		cfg.Energy.GPUPowerWatts = 700
	}
	if cfg.Energy.PrefillTokensPerSec == 0 {
		cfg.Energy.PrefillTokensPerSec = 12000
	}
	if cfg.Energy.DecodeTokensPerSec == 0 {
		cfg.Energy.DecodeTokensPerSec = 60
	}
	if cfg.Energy.ConcurrentUsers == 0 {
		cfg.Energy.ConcurrentUsers = 32
	}
	if cfg.Energy.PUE == 0 {
		cfg.Energy.PUE = 1.2
	}
	for name, alias := range cfg.Models {
		if alias.Selector == "" {
			alias.Selector = SelectorPriority
			cfg.Models[name] = alias
		}
	}
}

// Validate checks cross-references and tuning tables.
func Validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOpenRouter:
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
	}

	for name, alias := range cfg.Models {
		if name == "auto" {
			return fmt.Errorf("model alias %q is reserved", name)
		}
		if len(alias.Targets) == 0 {
			return fmt.Errorf("model alias %q: targets cannot be empty", name)
		}
		switch alias.Selector {
		case SelectorPriority, SelectorRandom, SelectorRoundRobin:
		default:
			return fmt.Errorf("model alias %q: unknown selector %q", name, alias.Selector)
		}
		for i, t := range alias.Targets {
			if !seen[t.Provider] {
				return fmt.Errorf("model alias %q: targets[%d] references unknown provider %q", name, i, t.Provider)
			}
			if t.Model == "" {
				return fmt.Errorf("model alias %q: targets[%d] model is required", name, i)
			}
		}
	}

	if cfg.Auto.Enabled {
		for _, tier := range []string{"heartbeat", "simple", "medium", "complex", "reasoning"} {
			aliasName, ok := cfg.Auto.TierModels[tier]
			if !ok || aliasName == "" {
				return fmt.Errorf("auto.tier_models: %s is required when auto is enabled", tier)
			}
			if _, ok := cfg.Models[aliasName]; !ok {
				return fmt.Errorf("auto.tier_models.%s references unknown alias %q", tier, aliasName)
			}
		}
	}
	if cfg.Auto.Classifier != nil {
		merged := mergeClassifier(cfg.Auto.Classifier)
		if err := merged.Validate(); err != nil {
			return err
		}
		cfg.Auto.Classifier = merged
	}
	return nil
}

// mergeClassifier fills unset tuning knobs from the defaults so a partial
// YAML classifier block stays usable. dimension_weights is all-or-nothing
// (enforced by classifier.Config.Validate).
func mergeClassifier(in *classifier.Config) *classifier.Config {
	out := classifier.DefaultConfig()
	if in.HeartbeatMaxDepth > 0 {
		out.HeartbeatMaxDepth = in.HeartbeatMaxDepth
	}
	if in.MinMessageChars > 0 {
		out.MinMessageChars = in.MinMessageChars
	}
	if in.MaxTokensForceComplex > 0 {
		out.MaxTokensForceComplex = in.MaxTokensForceComplex
	}
	if len(in.DimensionWeights) > 0 {
		out.DimensionWeights = in.DimensionWeights
	}
	if in.ReasoningOverrideMinMatches > 0 {
		out.ReasoningOverrideMinMatches = in.ReasoningOverrideMinMatches
	}
	if in.ReasoningOverrideMinScore != 0 {
		out.ReasoningOverrideMinScore = in.ReasoningOverrideMinScore
	}
	if in.ArchitectureOverrideMinScore != 0 {
		out.ArchitectureOverrideMinScore = in.ArchitectureOverrideMinScore
	}
	if in.Boundaries.SimpleMedium != 0 || in.Boundaries.MediumComplex != 0 || in.Boundaries.ComplexReasoning != 0 {
		out.Boundaries = in.Boundaries
	}
	if in.ConfidenceSteepness != 0 {
		out.ConfidenceSteepness = in.ConfidenceSteepness
	}
	if in.AmbiguityThreshold != 0 {
		out.AmbiguityThreshold = in.AmbiguityThreshold
	}
	if in.AmbiguousDefaultTier != "" {
		out.AmbiguousDefaultTier = in.AmbiguousDefaultTier
	}
	out.Overrides = in.Overrides
	return out
}
