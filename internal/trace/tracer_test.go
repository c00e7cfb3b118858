package trace

import (
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/dispatch"
	"github.com/mcowger/plexus/internal/unified"
)

type memorySink struct {
	mu     sync.Mutex
	traces []*Trace
}

func (s *memorySink) SaveTrace(t *Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, t)
	return nil
}

func (s *memorySink) wait(t *testing.T, n int) []*Trace {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.traces) >= n {
			out := append([]*Trace(nil), s.traces...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink never received %d traces", n)
	return nil
}

func TestTracerCapturePersisted(t *testing.T) {
	sink := &memorySink{}
	tr := New(config.TraceConfig{Enabled: true}, sink)
	tr.Start()
	defer tr.Stop()

	rt := tr.Begin("req-1", "POST", "/v1/chat/completions")
	require.NotNil(t, rt)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer sk-secret")
	headers.Set("Content-Type", "application/json")
	rt.SetIngress(unified.DialectOpenAIChat, headers, []byte(`{"model":"fast"}`))
	rt.SetProvider("alpha", "gpt-4o-mini")
	rt.AddAttempt(dispatch.Attempt{Provider: "alpha", Model: "gpt-4o-mini"})
	rt.SetResponse(200, map[string]interface{}{"ok": true})
	rt.Finish()

	traces := sink.wait(t, 1)
	got := traces[0]
	require.Equal(t, "req-1", got.RequestID)
	require.Equal(t, string(unified.DialectOpenAIChat), got.Dialect)
	require.Equal(t, "alpha", got.Provider)
	require.Len(t, got.Attempts, 1)
	require.Equal(t, 200, got.ClientStatus)

	// Credential headers are masked, others pass through.
	require.Equal(t, "[redacted]", got.IngressHeaders["Authorization"])
	require.Equal(t, "application/json", got.IngressHeaders["Content-Type"])
}

func TestTracerDisabledReturnsNilCapture(t *testing.T) {
	tr := New(config.TraceConfig{Enabled: false}, &memorySink{})
	rt := tr.Begin("req-1", "POST", "/v1/messages")
	require.Nil(t, rt)

	// All capture methods tolerate the nil receiver.
	rt.SetIngress(unified.DialectAnthropic, nil, nil)
	rt.SetProvider("a", "m")
	rt.AddProviderChunk("x")
	rt.SetError(nil)
	rt.Finish()
}

func TestTracerChunkCaps(t *testing.T) {
	sink := &memorySink{}
	tr := New(config.TraceConfig{Enabled: true, MaxChunks: 2, MaxChunkBytes: 4}, sink)
	tr.Start()
	defer tr.Stop()

	rt := tr.Begin("req-1", "POST", "/v1/messages")
	rt.AddProviderChunk("123456789")
	rt.AddProviderChunk("ab")
	rt.AddProviderChunk("dropped")
	rt.AddProviderChunk("dropped")
	rt.Finish()

	got := sink.wait(t, 1)[0]
	require.Equal(t, []string{"1234", "ab"}, got.ProviderChunks)
	require.Equal(t, 2, got.ProviderChunksDropped)
}

func TestTracerObserveAttemptRouting(t *testing.T) {
	sink := &memorySink{}
	tr := New(config.TraceConfig{Enabled: true}, sink)
	tr.Start()
	defer tr.Stop()

	rt := tr.Begin("req-1", "POST", "/v1/chat/completions")
	tr.ObserveAttempt("req-1", dispatch.Attempt{Provider: "alpha"})
	tr.ObserveAttempt("req-unknown", dispatch.Attempt{Provider: "ghost"})
	rt.Finish()

	got := sink.wait(t, 1)[0]
	require.Len(t, got.Attempts, 1)
	require.Equal(t, "alpha", got.Attempts[0].Provider)
}

func TestTracerElidesInlineData(t *testing.T) {
	sink := &memorySink{}
	tr := New(config.TraceConfig{Enabled: true}, sink)
	tr.Start()
	defer tr.Stop()

	big := strings.Repeat("A", 10_000)
	rt := tr.Begin("req-1", "POST", "/v1/chat/completions")
	rt.SetUnified(&unified.Request{
		RequestID: "req-1",
		Model:     "fast",
		Messages: []unified.Message{{
			Role: unified.RoleUser,
			Parts: []unified.ContentPart{
				{Type: unified.PartText, Text: "describe this"},
				{Type: unified.PartImageURL, MediaType: "image/png", Data: big},
			},
		}},
	}, nil)
	rt.Finish()

	got := sink.wait(t, 1)[0]
	captured := string(got.UnifiedRequest)
	require.NotContains(t, captured, big)
	require.Contains(t, captured, "10000 bytes elided")
	require.Contains(t, captured, "describe this")
}

func TestTracerFinishIdempotent(t *testing.T) {
	sink := &memorySink{}
	tr := New(config.TraceConfig{Enabled: true}, sink)
	tr.Start()
	defer tr.Stop()

	rt := tr.Begin("req-1", "GET", "/health")
	rt.Finish()
	rt.Finish()

	time.Sleep(50 * time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.traces, 1)
}
