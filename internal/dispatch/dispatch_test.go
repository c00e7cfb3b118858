package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/cooldown"
	"github.com/mcowger/plexus/internal/provider"
	"github.com/mcowger/plexus/internal/router"
	"github.com/mcowger/plexus/internal/unified"
)

// scriptedAdapter answers per provider name, so one adapter type can play
// several providers in a candidate list.
type scriptedAdapter struct {
	complete map[string]func(call provider.Call) (*unified.Response, error)
	stream   map[string]func(call provider.Call, emit provider.Emit) error
}

func (a *scriptedAdapter) Type() config.ProviderType { return config.ProviderOpenAI }

func (a *scriptedAdapter) Complete(_ context.Context, call provider.Call) (*unified.Response, error) {
	return a.complete[call.Provider.Name](call)
}

func (a *scriptedAdapter) Stream(_ context.Context, call provider.Call, emit provider.Emit) error {
	return a.stream[call.Provider.Name](call, emit)
}

type recordingObserver struct {
	attempts []Attempt
}

func (o *recordingObserver) ObserveAttempt(_ string, a Attempt) {
	o.attempts = append(o.attempts, a)
}

func fastSnapshot() *config.Snapshot {
	return &config.Snapshot{Config: &config.Config{
		Resilience: config.ResilienceConfig{Retry: config.RetryConfig{
			MaxAttempts:   3,
			BackoffBaseMS: 1,
			BackoffCapMS:  2,
		}},
	}}
}

func twoCandidates() []router.Candidate {
	return []router.Candidate{
		{Provider: &config.Provider{Name: "alpha", Type: config.ProviderOpenAI}, Model: "m-alpha"},
		{Provider: &config.Provider{Name: "beta", Type: config.ProviderOpenAI}, Model: "m-beta"},
	}
}

func testRequest() *unified.Request {
	return &unified.Request{RequestID: "req-1", Model: "fast"}
}

func okResponse(text string) *unified.Response {
	return &unified.Response{
		ID:           "resp_1",
		FinishReason: unified.FinishStop,
		Parts:        []unified.ResponsePart{{Type: unified.RespText, Text: text}},
	}
}

func TestExecuteFallsBackAfterRateLimit(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	obs := &recordingObserver{}
	adapter := &scriptedAdapter{complete: map[string]func(provider.Call) (*unified.Response, error){
		"alpha": func(provider.Call) (*unified.Response, error) {
			return nil, unified.NewError(unified.ErrUpstreamRateLimited, "429")
		},
		"beta": func(provider.Call) (*unified.Response, error) {
			return okResponse("hello"), nil
		},
	}}
	d := New(provider.NewRegistry(adapter), cd, obs)

	resp, err := d.Execute(context.Background(), fastSnapshot(), twoCandidates(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Text())

	// The failed provider went on cooldown; the success did not.
	require.True(t, cd.IsOnCooldown("alpha", time.Now()))
	require.False(t, cd.IsOnCooldown("beta", time.Now()))

	require.Len(t, obs.attempts, 2)
	require.Equal(t, "alpha", obs.attempts[0].Provider)
	require.NotEmpty(t, obs.attempts[0].Err)
	require.Equal(t, "beta", obs.attempts[1].Provider)
	require.Empty(t, obs.attempts[1].Err)
}

func TestExecuteSkipsCooldownedProvider(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	cd.Place("alpha", cooldown.ReasonTransient, time.Minute)
	obs := &recordingObserver{}
	adapter := &scriptedAdapter{complete: map[string]func(provider.Call) (*unified.Response, error){
		"beta": func(provider.Call) (*unified.Response, error) {
			return okResponse("served"), nil
		},
	}}
	d := New(provider.NewRegistry(adapter), cd, obs)

	resp, err := d.Execute(context.Background(), fastSnapshot(), twoCandidates(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "served", resp.Text())

	require.Len(t, obs.attempts, 2)
	require.True(t, obs.attempts[0].Skipped)
	require.Equal(t, "alpha", obs.attempts[0].Provider)
}

func TestExecuteAllOnCooldown(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	cd.Place("alpha", cooldown.ReasonTransient, time.Minute)
	cd.Place("beta", cooldown.ReasonTransient, time.Minute)
	d := New(provider.NewRegistry(&scriptedAdapter{}), cd, nil)

	_, err := d.Execute(context.Background(), fastSnapshot(), twoCandidates(), testRequest())
	require.Error(t, err)
	require.Equal(t, unified.ErrNoEligibleProvider, unified.AsGateway(err).Class)
}

func TestExecuteFatalStopsIteration(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	betaCalled := false
	adapter := &scriptedAdapter{complete: map[string]func(provider.Call) (*unified.Response, error){
		"alpha": func(provider.Call) (*unified.Response, error) {
			return nil, unified.NewError(unified.ErrUpstreamInvalid, "bad request upstream")
		},
		"beta": func(provider.Call) (*unified.Response, error) {
			betaCalled = true
			return okResponse("x"), nil
		},
	}}
	d := New(provider.NewRegistry(adapter), cd, nil)

	_, err := d.Execute(context.Background(), fastSnapshot(), twoCandidates(), testRequest())
	require.Error(t, err)
	require.Equal(t, unified.ErrUpstreamInvalid, unified.AsGateway(err).Class)
	require.False(t, betaCalled)
	// Invalid-request failures are the caller's fault, not the provider's.
	require.False(t, cd.IsOnCooldown("alpha", time.Now()))
}

func TestExecuteWrapsLastError(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	adapter := &scriptedAdapter{complete: map[string]func(provider.Call) (*unified.Response, error){
		"alpha": func(provider.Call) (*unified.Response, error) {
			return nil, unified.NewError(unified.ErrUpstreamTransient, "503")
		},
		"beta": func(provider.Call) (*unified.Response, error) {
			return nil, unified.NewError(unified.ErrUpstreamAuth, "401")
		},
	}}
	d := New(provider.NewRegistry(adapter), cd, nil)

	_, err := d.Execute(context.Background(), fastSnapshot(), twoCandidates(), testRequest())
	require.Error(t, err)
	require.Equal(t, unified.ErrAllProvidersFailed, unified.AsGateway(err).Class)
	require.True(t, cd.IsOnCooldown("alpha", time.Now()))
	require.True(t, cd.IsOnCooldown("beta", time.Now()))
}

func TestExecuteStreamRetriesBeforeFirstEvent(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	adapter := &scriptedAdapter{stream: map[string]func(provider.Call, provider.Emit) error{
		"alpha": func(_ provider.Call, _ provider.Emit) error {
			// Fails before emitting anything; the next candidate may serve.
			return unified.NewError(unified.ErrUpstreamTransient, "503")
		},
		"beta": func(_ provider.Call, emit provider.Emit) error {
			emit(unified.TextStart("b1"))
			emit(unified.TextDelta("b1", "hi"))
			emit(unified.TextEnd("b1"))
			emit(unified.Finish(unified.FinishStop, nil))
			return nil
		},
	}}
	d := New(provider.NewRegistry(adapter), cd, nil)

	var events []unified.StreamEvent
	cand, err := d.ExecuteStream(context.Background(), fastSnapshot(), twoCandidates(), testRequest(), func(ev unified.StreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "beta", cand.Provider.Name)
	require.Len(t, events, 4)
	require.Equal(t, unified.EventFinish, events[3].Type)
}

func TestExecuteStreamMidStreamFailureTerminates(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	betaCalled := false
	adapter := &scriptedAdapter{stream: map[string]func(provider.Call, provider.Emit) error{
		"alpha": func(_ provider.Call, emit provider.Emit) error {
			emit(unified.TextStart("b1"))
			emit(unified.TextDelta("b1", "partial"))
			return unified.NewError(unified.ErrUpstreamTransient, "connection reset")
		},
		"beta": func(_ provider.Call, _ provider.Emit) error {
			betaCalled = true
			return nil
		},
	}}
	d := New(provider.NewRegistry(adapter), cd, nil)

	var events []unified.StreamEvent
	cand, err := d.ExecuteStream(context.Background(), fastSnapshot(), twoCandidates(), testRequest(), func(ev unified.StreamEvent) {
		events = append(events, ev)
	})
	require.Error(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "alpha", cand.Provider.Name)
	require.False(t, betaCalled)

	// The client already saw bytes, so the stream ends with an error event
	// instead of restarting on another provider.
	require.Equal(t, unified.EventError, events[len(events)-1].Type)
}

func TestExecuteStreamCancelEmitsAbort(t *testing.T) {
	cd := cooldown.NewManager(cooldown.DefaultConfig())
	adapter := &scriptedAdapter{stream: map[string]func(provider.Call, provider.Emit) error{
		"alpha": func(_ provider.Call, emit provider.Emit) error {
			emit(unified.TextStart("b1"))
			return unified.WrapError(unified.ErrCancelled, context.Canceled, "request cancelled")
		},
	}}
	d := New(provider.NewRegistry(adapter), cd, nil)

	var events []unified.StreamEvent
	cands := twoCandidates()[:1]
	_, err := d.ExecuteStream(context.Background(), fastSnapshot(), cands, testRequest(), func(ev unified.StreamEvent) {
		events = append(events, ev)
	})
	require.Error(t, err)
	require.Equal(t, unified.ErrCancelled, unified.AsGateway(err).Class)
	require.Equal(t, unified.EventAbort, events[len(events)-1].Type)
}

func TestPolicyDelayCapped(t *testing.T) {
	p := newPolicy(config.RetryConfig{BackoffBaseMS: 100, BackoffCapMS: 400, Multiplier: 2, JitterPct: 0.25})
	for i := 0; i < 8; i++ {
		d := p.delay(i)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Duration(float64(400*time.Millisecond)*1.25)+time.Millisecond)
	}
}
