// Package config defines the YAML configuration schema and the immutable
// snapshot model. A loaded snapshot is never mutated; reloads publish a new
// snapshot atomically and in-flight requests keep the one they started with.
package config

import (
	"time"

	"github.com/mcowger/plexus/internal/classifier"
	"github.com/mcowger/plexus/internal/cooldown"
)

// ProviderType enumerates the supported upstream adapter types.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderGemini     ProviderType = "gemini"
	ProviderOpenRouter ProviderType = "openrouter"
)

// StripRule removes request parameters for matching upstream models.
// Models is a glob (gobwas/glob syntax); empty matches every model.
type StripRule struct {
	Models     string   `yaml:"models" json:"models"`
	Parameters []string `yaml:"parameters" json:"parameters"`
}

// Provider is one upstream endpoint.
type Provider struct {
	Name            string            `yaml:"name" json:"name"`
	Type            ProviderType      `yaml:"type" json:"type"`
	BaseURL         string            `yaml:"base_url" json:"base_url"`
	APIKey          string            `yaml:"api_key" json:"api_key"`
	Headers         map[string]string `yaml:"headers" json:"headers,omitempty"`
	Enabled         *bool             `yaml:"enabled" json:"enabled,omitempty"`
	StripParameters []StripRule       `yaml:"strip_parameters" json:"strip_parameters,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (p *Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Target is one (provider, upstream model) pair of an alias.
type Target struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

// Selector orders alias targets.
type Selector string

const (
	SelectorPriority   Selector = "priority"
	SelectorRandom     Selector = "random"
	SelectorRoundRobin Selector = "round-robin"
)

// ModelAlias maps a logical model name to its targets.
type ModelAlias struct {
	Selector Selector `yaml:"selector" json:"selector"`
	Targets  []Target `yaml:"targets" json:"targets"`
}

// AutoConfig controls the reserved `auto` model.
type AutoConfig struct {
	Enabled               bool               `yaml:"enabled" json:"enabled"`
	TierModels            map[string]string  `yaml:"tier_models" json:"tier_models"`
	AgenticBoostThreshold float64            `yaml:"agentic_boost_threshold" json:"agentic_boost_threshold"`
	Classifier            *classifier.Config `yaml:"classifier" json:"classifier,omitempty"`
}

// RetryConfig is the dispatcher retry/backoff policy. Durations are
// milliseconds in YAML, matching the documented defaults (base 100ms,
// multiplier 2, cap 2s, jitter 25%, 3 attempts).
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" json:"max_attempts"`
	BackoffBaseMS    int     `yaml:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffCapMS     int     `yaml:"backoff_cap_ms" json:"backoff_cap_ms"`
	Multiplier       float64 `yaml:"multiplier" json:"multiplier"`
	JitterPct        float64 `yaml:"jitter_pct" json:"jitter_pct"`
	AttemptTimeoutS  int     `yaml:"attempt_timeout_seconds" json:"attempt_timeout_seconds"`
	RequestTimeoutS  int     `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	DrainGraceS      int     `yaml:"drain_grace_seconds" json:"drain_grace_seconds"`
}

// CooldownConfig is the YAML shape of the cooldown policy (seconds).
type CooldownConfig struct {
	TransientSeconds int `yaml:"transient_seconds" json:"transient_seconds"`
	RateLimitSeconds int `yaml:"rate_limit_seconds" json:"rate_limit_seconds"`
	AuthSeconds      int `yaml:"auth_seconds" json:"auth_seconds"`
	MaxSeconds       int `yaml:"max_seconds" json:"max_seconds"`
	SweepSeconds     int `yaml:"sweep_seconds" json:"sweep_seconds"`
}

// ToManagerConfig converts the YAML shape into the runtime policy.
func (c CooldownConfig) ToManagerConfig() cooldown.Config {
	out := cooldown.DefaultConfig()
	if c.TransientSeconds > 0 {
		out.TransientBase = time.Duration(c.TransientSeconds) * time.Second
	}
	if c.RateLimitSeconds > 0 {
		out.RateLimitBase = time.Duration(c.RateLimitSeconds) * time.Second
	}
	if c.AuthSeconds > 0 {
		out.AuthBase = time.Duration(c.AuthSeconds) * time.Second
	}
	if c.MaxSeconds > 0 {
		out.MaxDuration = time.Duration(c.MaxSeconds) * time.Second
	}
	if c.SweepSeconds > 0 {
		out.SweepInterval = time.Duration(c.SweepSeconds) * time.Second
	}
	return out
}

// ResilienceConfig groups retry and cooldown policy.
type ResilienceConfig struct {
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Cooldown CooldownConfig `yaml:"cooldown" json:"cooldown"`
}

// PricingTier is one tiered-pricing bracket, selected by input-token bucket.
// UpToInputTokens == 0 means "no upper bound".
type PricingTier struct {
	UpToInputTokens int64   `yaml:"up_to_input_tokens" json:"up_to_input_tokens"`
	InputPer1M      float64 `yaml:"input_per_1m" json:"input_per_1m"`
	OutputPer1M     float64 `yaml:"output_per_1m" json:"output_per_1m"`
}

// PricingEntry prices one model. Model is a glob; Provider narrows the entry
// to a provider when set.
type PricingEntry struct {
	Model          string        `yaml:"model" json:"model"`
	Provider       string        `yaml:"provider" json:"provider,omitempty"`
	InputPer1M     float64       `yaml:"input_per_1m" json:"input_per_1m"`
	OutputPer1M    float64       `yaml:"output_per_1m" json:"output_per_1m"`
	CachedPer1M    *float64      `yaml:"cached_per_1m" json:"cached_per_1m,omitempty"`
	ReasoningPer1M *float64      `yaml:"reasoning_per_1m" json:"reasoning_per_1m,omitempty"`
	Tiers          []PricingTier `yaml:"tiers" json:"tiers,omitempty"`
}

// PricingConfig is the pricing table plus per-provider discounts
// (multipliers, 0.9 = 10% off).
type PricingConfig struct {
	Models    []PricingEntry     `yaml:"models" json:"models"`
	Discounts map[string]float64 `yaml:"discounts" json:"discounts,omitempty"`
}

// EnergyConfig parameterizes the inference-footprint estimate. Defaults
// describe a 70B-class dense model served on 8xH100.
type EnergyConfig struct {
	Enabled              bool    `yaml:"enabled" json:"enabled"`
	TensorParallelDegree int     `yaml:"tensor_parallel_degree" json:"tensor_parallel_degree"`
	GPUPowerWatts        float64 `yaml:"gpu_power_watts" json:"gpu_power_watts"`
	PrefillTokensPerSec  float64 `yaml:"prefill_tokens_per_sec" json:"prefill_tokens_per_sec"`
	DecodeTokensPerSec   float64 `yaml:"decode_tokens_per_sec" json:"decode_tokens_per_sec"`
	ConcurrentUsers      int     `yaml:"concurrent_users" json:"concurrent_users"`
	PUE                  float64 `yaml:"pue" json:"pue"` // datacenter power usage effectiveness
}

// TraceConfig bounds the debug capture.
type TraceConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	MaxChunks     int  `yaml:"max_chunks" json:"max_chunks"`
	MaxChunkBytes int  `yaml:"max_chunk_bytes" json:"max_chunk_bytes"`
	QueueSize     int  `yaml:"queue_size" json:"queue_size"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	AdminSecret string `yaml:"admin_secret" json:"admin_secret"`
}

// Config is the top-level YAML document.
type Config struct {
	Server     ServerConfig          `yaml:"server" json:"server"`
	Providers  []Provider            `yaml:"providers" json:"providers"`
	Models     map[string]ModelAlias `yaml:"models" json:"models"`
	Auto       AutoConfig            `yaml:"auto" json:"auto"`
	Resilience ResilienceConfig      `yaml:"resilience" json:"resilience"`
	Pricing    PricingConfig         `yaml:"pricing" json:"pricing"`
	Energy     EnergyConfig          `yaml:"energy" json:"energy"`
	Trace      TraceConfig           `yaml:"trace" json:"trace"`
	LogLevel   string                `yaml:"log_level" json:"log_level"`
}
