package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mcowger/plexus/internal/accounting"
	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/cooldown"
	"github.com/mcowger/plexus/internal/dispatch"
	"github.com/mcowger/plexus/internal/provider"
	"github.com/mcowger/plexus/internal/router"
	"github.com/mcowger/plexus/internal/trace"
	"github.com/mcowger/plexus/internal/unified"
)

const serverYAML = `
server:
  admin_secret: test-secret
providers:
  - name: alpha
    type: openai
    api_key: sk-test
models:
  fast:
    targets:
      - provider: alpha
        model: gpt-4o-mini
`

// echoAdapter answers every call with a fixed text completion.
type echoAdapter struct{}

func (echoAdapter) Type() config.ProviderType { return config.ProviderOpenAI }

func (echoAdapter) Complete(_ context.Context, _ provider.Call) (*unified.Response, error) {
	return &unified.Response{
		ID:           "resp_test",
		FinishReason: unified.FinishStop,
		Parts:        []unified.ResponsePart{{Type: unified.RespText, Text: "Paris."}},
		Usage:        unified.Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7},
	}, nil
}

func (echoAdapter) Stream(_ context.Context, _ provider.Call, emit provider.Emit) error {
	emit(unified.TextStart("b1"))
	emit(unified.TextDelta("b1", "Par"))
	emit(unified.TextDelta("b1", "is."))
	emit(unified.TextEnd("b1"))
	emit(unified.Finish(unified.FinishStop, &unified.Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}))
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	snap, err := config.Parse([]byte(serverYAML))
	require.NoError(t, err)

	cooldowns := cooldown.NewManager(cooldown.DefaultConfig())
	tracer := trace.New(config.TraceConfig{}, nil)
	acct := accounting.New(nil, config.PricingConfig{}, config.EnergyConfig{})

	return New(Deps{
		Holder:     config.NewHolder(snap),
		Router:     router.New(nil),
		Dispatcher: dispatch.New(provider.NewRegistry(echoAdapter{}), cooldowns, nil),
		Cooldowns:  cooldowns,
		Tracer:     tracer,
		Accounting: acct,
	})
}

func doJSON(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
}

func TestChatCompletionNonStreaming(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodPost, "/v1/chat/completions", `{
		"model": "fast",
		"messages": [{"role": "user", "content": "what is the capital of France?"}]
	}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := gjson.Parse(w.Body.String())
	require.Equal(t, "chat.completion", body.Get("object").String())
	require.Equal(t, "fast", body.Get("model").String())
	require.Equal(t, "Paris.", body.Get("choices.0.message.content").String())
	require.Equal(t, int64(7), body.Get("usage.total_tokens").Int())
}

func TestChatCompletionStreaming(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodPost, "/v1/chat/completions", `{
		"model": "fast",
		"stream": true,
		"messages": [{"role": "user", "content": "what is the capital of France?"}]
	}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.GreaterOrEqual(t, len(frames), 4)
	require.Equal(t, "data: [DONE]", frames[len(frames)-1])

	first := gjson.Parse(strings.TrimPrefix(frames[0], "data: "))
	require.Equal(t, "chat.completion.chunk", first.Get("object").String())
	require.Equal(t, "assistant", first.Get("choices.0.delta.role").String())
}

func TestAnthropicMessagesRoute(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodPost, "/v1/messages", `{
		"model": "fast",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "what is the capital of France?"}]
	}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := gjson.Parse(w.Body.String())
	require.Equal(t, "message", body.Get("type").String())
	require.Equal(t, "Paris.", body.Get("content.0.text").String())
	require.Equal(t, "end_turn", body.Get("stop_reason").String())
}

func TestGeminiRoute(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodPost, "/v1beta/models/fast:generateContent", `{
		"contents": [{"role": "user", "parts": [{"text": "what is the capital of France?"}]}]
	}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := gjson.Parse(w.Body.String())
	require.Equal(t, "Paris.", body.Get("candidates.0.content.parts.0.text").String())
	require.Equal(t, "STOP", body.Get("candidates.0.finishReason").String())
}

func TestUnknownModelErrorShape(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodPost, "/v1/chat/completions", `{
		"model": "ghost",
		"messages": [{"role": "user", "content": "hi there friend"}]
	}`, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := gjson.Parse(w.Body.String())
	require.NotEmpty(t, body.Get("error.message").String())
	require.NotEmpty(t, body.Get("error.type").String())

	w = doJSON(s, http.MethodPost, "/v1/messages", `{
		"model": "ghost",
		"max_tokens": 10,
		"messages": [{"role": "user", "content": "hi there friend"}]
	}`, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body = gjson.Parse(w.Body.String())
	require.Equal(t, "error", body.Get("type").String())
	require.NotEmpty(t, body.Get("error.type").String())
}

func TestInvalidBodyRejected(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodPost, "/v1/chat/completions", `not json`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeminiUnknownActionRejected(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodPost, "/v1beta/models/fast:translateContent", `{
		"contents": [{"role": "user", "parts": [{"text": "hi"}]}]
	}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAuthFlow(t *testing.T) {
	s := newTestServer(t)

	// No token: rejected.
	w := doJSON(s, http.MethodGet, "/v0/state", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong secret: rejected.
	w = doJSON(s, http.MethodPost, "/v0/auth/token", `{"secret": "wrong"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Exchange the admin secret for a token.
	w = doJSON(s, http.MethodPost, "/v0/auth/token", `{"secret": "test-secret"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := gjson.Get(w.Body.String(), "token").String()
	require.NotEmpty(t, token)

	w = doJSON(s, http.MethodGet, "/v0/state", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	require.Equal(t, "alpha", body.Get("providers.0.name").String())
	require.True(t, body.Get("providers.0.enabled").Bool())
}

func TestAdminGetConfigReturnsYAML(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodPost, "/v0/auth/token", `{"secret": "test-secret"}`, nil)
	token := gjson.Get(w.Body.String(), "token").String()

	w = doJSON(s, http.MethodGet, "/v0/config", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "admin_secret")
	require.Contains(t, w.Header().Get("Content-Type"), "yaml")
}
