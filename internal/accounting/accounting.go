// Package accounting turns completed requests into usage records: token
// counts, cost, and energy estimates, persisted off the request path.
package accounting

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/router"
	"github.com/mcowger/plexus/internal/store"
	"github.com/mcowger/plexus/internal/unified"
)

// Completion describes one finished request for accounting.
type Completion struct {
	Request       *unified.Request
	Provider      string
	ProviderModel string
	Usage         unified.Usage
	OutputText    string
	Latency       time.Duration
	Streamed      bool
	Err           error
}

// Accounting owns the fire-and-forget persistence queue for usage records
// and classifier decisions.
type Accounting struct {
	store  *store.Store
	pricer *Pricer
	energy config.EnergyConfig

	queue chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// New creates an accounting pipeline writing to st.
func New(st *store.Store, pricing config.PricingConfig, energy config.EnergyConfig) *Accounting {
	return &Accounting{
		store:  st,
		pricer: NewPricer(pricing),
		energy: energy,
		queue:  make(chan func(), 512),
	}
}

// Start launches the persistence worker.
func (a *Accounting) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for fn := range a.queue {
			fn()
		}
	}()
}

// Stop drains the queue and stops the worker.
func (a *Accounting) Stop() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

// Reconfigure swaps the pricing table and energy parameters after a
// config reload.
func (a *Accounting) Reconfigure(pricing config.PricingConfig, energy config.EnergyConfig) {
	a.pricer = NewPricer(pricing)
	a.energy = energy
}

// submit enqueues a persistence task, dropping it when the queue is full.
func (a *Accounting) submit(fn func()) {
	select {
	case a.queue <- fn:
	default:
		logrus.Warn("accounting queue full, record dropped")
	}
}

// RecordCompletion accounts one finished request.
func (a *Accounting) RecordCompletion(c Completion) {
	usage, estimated := estimateUsage(c.Request, c.OutputText, c.Usage)

	rec := &store.UsageRecord{
		RequestID:       c.Request.RequestID,
		Timestamp:       time.Now(),
		Dialect:         string(c.Request.IncomingDialect),
		RequestModel:    c.Request.Model,
		Provider:        c.Provider,
		ProviderModel:   c.ProviderModel,
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		TotalTokens:     usage.TotalTokens,
		CachedTokens:    usage.CachedInputTokens,
		ReasoningTokens: usage.ReasoningTokens,
		TokensEstimated: estimated,
		LatencyMS:       c.Latency.Milliseconds(),
		Streamed:        c.Streamed,
		Status:          "success",
	}
	if c.Err != nil {
		rec.Status = "error"
		rec.ErrorClass = string(unified.AsGateway(c.Err).Class)
	} else {
		rec.CostUSD = a.pricer.Cost(c.Provider, c.ProviderModel, usage)
		rec.EnergyWh = EstimateEnergyWh(a.energy, usage)
	}

	a.submit(func() {
		if err := a.store.SaveUsage(rec); err != nil {
			logrus.WithError(err).WithField("request_id", rec.RequestID).Warn("usage record persistence failed")
		}
	})
}

// LogClassifier persists an auto-routing decision, implementing
// router.ClassifierLogger. Failures are logged and swallowed.
func (a *Accounting) LogClassifier(requestID string, decision *router.AutoDecision) {
	signals, _ := json.Marshal(decision.Result.Signals)
	rec := &store.ClassifierLog{
		RequestID:     requestID,
		Timestamp:     time.Now(),
		Tier:          decision.Result.Tier.String(),
		Score:         decision.Result.Score,
		Confidence:    decision.Result.Confidence,
		Method:        decision.Result.Method,
		Boosted:       decision.Boosted,
		ResolvedAlias: decision.ResolvedAlias,
		Signals:       string(signals),
		Reasoning:     decision.Result.Reasoning,
	}
	a.submit(func() {
		if err := a.store.SaveClassifierLog(rec); err != nil {
			logrus.WithError(err).WithField("request_id", requestID).Warn("classifier log persistence failed")
		}
	})
}
