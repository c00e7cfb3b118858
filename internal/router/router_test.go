package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

const routerYAML = `
server:
  host: 127.0.0.1
  port: 18099
providers:
  - name: alpha
    type: openai
    api_key: k1
  - name: beta
    type: anthropic
    api_key: k2
  - name: gamma
    type: openai
    api_key: k3
    enabled: false
models:
  fast:
    selector: priority
    targets:
      - {provider: alpha, model: gpt-4o-mini}
      - {provider: beta, model: claude-haiku}
  spread:
    selector: round-robin
    targets:
      - {provider: alpha, model: m1}
      - {provider: beta, model: m2}
  dark:
    selector: priority
    targets:
      - {provider: gamma, model: m3}
auto:
  enabled: true
  agentic_boost_threshold: -1
  tier_models:
    heartbeat: fast
    simple: fast
    medium: spread
    complex: fast
    reasoning: fast
`

func testSnapshot(t *testing.T) *config.Snapshot {
	t.Helper()
	snap, err := config.Parse([]byte(routerYAML))
	require.NoError(t, err)
	return snap
}

func textRequest(text string) *unified.Request {
	return &unified.Request{
		Model:     "auto",
		RequestID: "req-test",
		Messages:  []unified.Message{unified.TextMessage(unified.RoleUser, text)},
	}
}

func TestResolvePriorityOrder(t *testing.T) {
	snap := testSnapshot(t)
	r := New(nil)

	for i := 0; i < 5; i++ {
		cands, _, err := r.Resolve(snap, "fast", textRequest("hello there"))
		require.NoError(t, err)
		require.Len(t, cands, 2)
		require.Equal(t, "alpha", cands[0].Provider.Name)
		require.Equal(t, "gpt-4o-mini", cands[0].Model)
		require.Equal(t, "beta", cands[1].Provider.Name)
	}
}

func TestResolveRoundRobinDistribution(t *testing.T) {
	snap := testSnapshot(t)
	r := New(nil)

	counts := map[string]int{}
	const rounds = 10
	for i := 0; i < rounds; i++ {
		cands, _, err := r.Resolve(snap, "spread", textRequest("hello there"))
		require.NoError(t, err)
		require.Len(t, cands, 2)
		counts[cands[0].Provider.Name]++
	}
	require.Equal(t, rounds/2, counts["alpha"])
	require.Equal(t, rounds/2, counts["beta"])
}

func TestResolveUnknownModel(t *testing.T) {
	snap := testSnapshot(t)
	r := New(nil)

	_, _, err := r.Resolve(snap, "nope", textRequest("hello"))
	require.Error(t, err)
	require.Equal(t, unified.ErrUnknownModel, unified.AsGateway(err).Class)
}

func TestResolveSkipsDisabledProviders(t *testing.T) {
	snap := testSnapshot(t)
	r := New(nil)

	_, _, err := r.Resolve(snap, "dark", textRequest("hello"))
	require.Error(t, err)
	require.Equal(t, unified.ErrNoEligibleProvider, unified.AsGateway(err).Class)
}

type captureLogger struct {
	requestID string
	decision  *AutoDecision
}

func (c *captureLogger) LogClassifier(requestID string, decision *AutoDecision) {
	c.requestID = requestID
	c.decision = decision
}

func TestResolveAutoBoost(t *testing.T) {
	snap := testSnapshot(t)
	logger := &captureLogger{}
	r := New(logger)

	// Threshold of -1 makes every request agentic enough to boost: the
	// simple question classifies SIMPLE and promotes to MEDIUM.
	cands, decision, err := r.Resolve(snap, "auto", textRequest("what is the capital of France?"))
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.True(t, decision.Boosted)
	require.Equal(t, "spread", decision.ResolvedAlias)
	require.NotEmpty(t, cands)

	require.Equal(t, "req-test", logger.requestID)
	require.Equal(t, decision, logger.decision)
}

func TestResolveAutoDisabled(t *testing.T) {
	snap := testSnapshot(t)
	snap.Config.Auto.Enabled = false
	r := New(nil)

	_, _, err := r.Resolve(snap, "auto", textRequest("hello"))
	require.Error(t, err)
}
