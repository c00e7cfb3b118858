package ingress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcowger/plexus/internal/unified"
)

func TestParseOpenAIChatBasic(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"stream": true,
		"temperature": 0.7,
		"max_tokens": 256,
		"stop": ["END"],
		"messages": [
			{"role": "system", "content": "You are terse."},
			{"role": "user", "content": "Hello!"}
		]
	}`)
	req, warns, err := ParseOpenAIChat(body)
	require.NoError(t, err)
	require.Empty(t, warns)

	require.Equal(t, "gpt-4o", req.Model)
	require.True(t, req.Stream)
	require.Equal(t, unified.DialectOpenAIChat, req.IncomingDialect)
	require.NotEmpty(t, req.RequestID)

	require.Len(t, req.Messages, 2)
	require.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "You are terse.", req.Messages[0].PlainText())
	require.Equal(t, unified.RoleUser, req.Messages[1].Role)

	require.NotNil(t, req.Sampling.Temperature)
	require.Equal(t, 0.7, *req.Sampling.Temperature)
	require.NotNil(t, req.Sampling.MaxOutputTokens)
	require.Equal(t, int64(256), *req.Sampling.MaxOutputTokens)
	require.Equal(t, []string{"END"}, req.Sampling.StopSequences)
}

func TestParseOpenAIChatValidation(t *testing.T) {
	_, _, err := ParseOpenAIChat([]byte(`not json`))
	require.Error(t, err)
	require.Equal(t, unified.ErrInvalidRequest, unified.AsGateway(err).Class)

	_, _, err = ParseOpenAIChat([]byte(`{"messages":[{"role":"user","content":"x"}]}`))
	require.Error(t, err)

	_, _, err = ParseOpenAIChat([]byte(`{"model":"m","messages":[]}`))
	require.Error(t, err)
}

func TestParseOpenAIChatToolRoundTrip(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": "weather in SF?"},
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"SF\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "{\"temp\": 18}"}
		],
		"tools": [
			{"type": "function", "function": {"name": "get_weather", "description": "look up weather", "parameters": {"type": "object"}}}
		],
		"tool_choice": "auto"
	}`)
	req, warns, err := ParseOpenAIChat(body)
	require.NoError(t, err)
	require.Empty(t, warns)

	require.Len(t, req.Messages, 3)
	asst := req.Messages[1]
	require.Equal(t, unified.RoleAssistant, asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	require.Equal(t, "call_1", asst.ToolCalls[0].ID)
	require.Equal(t, "get_weather", asst.ToolCalls[0].Name)
	require.Equal(t, map[string]interface{}{"city": "SF"}, asst.ToolCalls[0].Input)

	toolMsg := req.Messages[2]
	require.Equal(t, unified.RoleTool, toolMsg.Role)
	require.Equal(t, "call_1", toolMsg.ToolCallID)
	require.Equal(t, "get_weather", toolMsg.ToolName)
	require.Equal(t, map[string]interface{}{"temp": float64(18)}, toolMsg.ToolOutputJSON)

	require.Len(t, req.Tools, 1)
	require.Equal(t, "get_weather", req.Tools[0].Name)
	require.Equal(t, unified.ToolChoiceAuto, req.ToolChoice.Mode)
}

func TestParseOpenAIChatUnparseableArguments(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "not json"}}
			]}
		]
	}`)
	req, warns, err := ParseOpenAIChat(body)
	require.NoError(t, err)
	require.NotEmpty(t, warns)
	require.Equal(t, map[string]interface{}{unified.RawInputKey: "not json"}, req.Messages[0].ToolCalls[0].Input)
}

func TestParseOpenAIChatMultimodal(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "describe this"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,aGVsbG8="}},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
			]}
		]
	}`)
	req, warns, err := ParseOpenAIChat(body)
	require.NoError(t, err)
	require.Empty(t, warns)

	parts := req.Messages[0].Parts
	require.Len(t, parts, 3)
	require.Equal(t, unified.PartText, parts[0].Type)
	require.Equal(t, unified.PartImageURL, parts[1].Type)
	require.Equal(t, "image/png", parts[1].MediaType)
	require.Equal(t, "aGVsbG8=", parts[1].Data)
	require.Equal(t, "https://example.com/cat.png", parts[2].URL)
}

func TestParseOpenAIChatResponseFormat(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": "x"}],
		"response_format": {"type": "json_schema", "json_schema": {"name": "result", "strict": true, "schema": {"type": "object"}}}
	}`)
	req, _, err := ParseOpenAIChat(body)
	require.NoError(t, err)
	require.NotNil(t, req.ResponseFormat)
	require.Equal(t, unified.FormatJSONSchema, req.ResponseFormat.Type)
	require.Equal(t, "result", req.ResponseFormat.Name)
	require.NotNil(t, req.ResponseFormat.Strict)
	require.True(t, *req.ResponseFormat.Strict)
}

func TestParseOpenAIChatUnknownKeysWarn(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": "x"}],
		"logit_bias": {"50256": -100}
	}`)
	_, warns, err := ParseOpenAIChat(body)
	require.NoError(t, err)
	require.NotEmpty(t, warns)
}
