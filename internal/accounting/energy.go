package accounting

import (
	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// EstimateEnergyWh models the inference footprint of one request: prefill
// and decode phase durations at the configured throughputs, times the
// tensor-parallel group power, amortized over concurrent users and scaled
// by datacenter PUE. Returns nil when the estimate is disabled.
func EstimateEnergyWh(cfg config.EnergyConfig, u unified.Usage) *float64 {
	if !cfg.Enabled {
		return nil
	}
	tp := cfg.TensorParallelDegree
	if tp <= 0 {
		tp = 8
	}
	power := cfg.GPUPowerWatts
	if power <= 0 {
		power = 700
	}
	prefill := cfg.PrefillTokensPerSec
	if prefill <= 0 {
		prefill = 12000
	}
	decode := cfg.DecodeTokensPerSec
	if decode <= 0 {
		decode = 60
	}
	users := cfg.ConcurrentUsers
	if users <= 0 {
		users = 32
	}
	pue := cfg.PUE
	if pue <= 0 {
		pue = 1.2
	}

	seconds := float64(u.InputTokens)/prefill + float64(u.OutputTokens)/decode
	watts := float64(tp) * power / float64(users) * pue
	wh := seconds * watts / 3600
	return &wh
}
