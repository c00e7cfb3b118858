package egress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mcowger/plexus/internal/unified"
)

func i64(v int64) *int64 { return &v }

func sampleResponse() *unified.Response {
	return &unified.Response{
		ID:           "resp_abc",
		FinishReason: unified.FinishToolCalls,
		Parts: []unified.ResponsePart{
			{Type: unified.RespReasoning, Text: "think first"},
			{Type: unified.RespText, Text: "Checking the weather."},
			{Type: unified.RespToolCall, ToolCall: &unified.ToolCall{
				ID:    "call_1",
				Name:  "get_weather",
				Input: map[string]interface{}{"city": "SF"},
			}},
		},
		Usage: unified.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}
}

func asJSON(t *testing.T, v map[string]interface{}) gjson.Result {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return gjson.ParseBytes(b)
}

func TestBuildOpenAIChat(t *testing.T) {
	body := asJSON(t, BuildOpenAIChat(sampleResponse(), "gpt-4o"))

	require.Equal(t, "chat.completion", body.Get("object").String())
	require.Equal(t, "gpt-4o", body.Get("model").String())
	require.Equal(t, "tool_calls", body.Get("choices.0.finish_reason").String())

	msg := body.Get("choices.0.message")
	require.Equal(t, "assistant", msg.Get("role").String())
	require.Equal(t, "Checking the weather.", msg.Get("content").String())
	require.Equal(t, "think first", msg.Get("reasoning_content").String())
	require.Equal(t, "call_1", msg.Get("tool_calls.0.id").String())
	require.Equal(t, `{"city":"SF"}`, msg.Get("tool_calls.0.function.arguments").String())

	require.Equal(t, int64(10), body.Get("usage.prompt_tokens").Int())
	require.Equal(t, int64(20), body.Get("usage.completion_tokens").Int())
	require.False(t, body.Get("usage.prompt_tokens_details").Exists())
}

func TestBuildOpenAIChatNullContentForToolOnly(t *testing.T) {
	resp := &unified.Response{
		ID:           "resp_x",
		FinishReason: unified.FinishToolCalls,
		Parts: []unified.ResponsePart{
			{Type: unified.RespToolCall, ToolCall: &unified.ToolCall{ID: "call_1", Name: "f"}},
		},
	}
	body := asJSON(t, BuildOpenAIChat(resp, "m"))
	content := body.Get("choices.0.message.content")
	require.True(t, content.Exists())
	require.Equal(t, gjson.Null, content.Type)
}

func TestBuildOpenAIChatCachedUsageDetails(t *testing.T) {
	resp := sampleResponse()
	resp.Usage.CachedInputTokens = i64(4)
	resp.Usage.ReasoningTokens = i64(7)
	body := asJSON(t, BuildOpenAIChat(resp, "m"))
	require.Equal(t, int64(4), body.Get("usage.prompt_tokens_details.cached_tokens").Int())
	require.Equal(t, int64(7), body.Get("usage.completion_tokens_details.reasoning_tokens").Int())
}

func TestBuildOpenAIResponses(t *testing.T) {
	body := asJSON(t, BuildOpenAIResponses(sampleResponse(), "gpt-4o"))

	require.Equal(t, "response", body.Get("object").String())
	require.Equal(t, "completed", body.Get("status").String())

	out := body.Get("output").Array()
	require.Len(t, out, 3)
	require.Equal(t, "reasoning", out[0].Get("type").String())
	require.Equal(t, "think first", out[0].Get("summary.0.text").String())
	require.Equal(t, "message", out[1].Get("type").String())
	require.Equal(t, "Checking the weather.", out[1].Get("content.0.text").String())
	require.Equal(t, "function_call", out[2].Get("type").String())
	require.Equal(t, "call_1", out[2].Get("call_id").String())

	require.Equal(t, int64(10), body.Get("usage.input_tokens").Int())
}

func TestBuildOpenAIResponsesIncompleteOnLength(t *testing.T) {
	resp := sampleResponse()
	resp.FinishReason = unified.FinishLength
	body := asJSON(t, BuildOpenAIResponses(resp, "m"))
	require.Equal(t, "incomplete", body.Get("status").String())
}

func TestBuildAnthropic(t *testing.T) {
	body := asJSON(t, BuildAnthropic(sampleResponse(), "claude-sonnet"))

	require.Equal(t, "message", body.Get("type").String())
	require.Equal(t, "tool_use", body.Get("stop_reason").String())

	content := body.Get("content").Array()
	require.Len(t, content, 3)
	require.Equal(t, "thinking", content[0].Get("type").String())
	require.Equal(t, "think first", content[0].Get("thinking").String())
	require.Equal(t, "text", content[1].Get("type").String())
	require.Equal(t, "tool_use", content[2].Get("type").String())
	require.Equal(t, "SF", content[2].Get("input.city").String())

	require.Equal(t, int64(10), body.Get("usage.input_tokens").Int())
	require.False(t, body.Get("usage.cache_read_input_tokens").Exists())
}

func TestBuildAnthropicStopReasons(t *testing.T) {
	for reason, want := range map[unified.FinishReason]string{
		unified.FinishStop:          "end_turn",
		unified.FinishLength:        "max_tokens",
		unified.FinishToolCalls:     "tool_use",
		unified.FinishContentFilter: "safety",
	} {
		resp := &unified.Response{ID: "x", FinishReason: reason}
		body := asJSON(t, BuildAnthropic(resp, "m"))
		require.Equal(t, want, body.Get("stop_reason").String(), "reason %s", reason)
	}
}

func TestBuildGemini(t *testing.T) {
	resp := sampleResponse()
	resp.Usage.ReasoningTokens = i64(5)
	body := asJSON(t, BuildGemini(resp, "gemini-pro"))

	parts := body.Get("candidates.0.content.parts").Array()
	require.Len(t, parts, 3)
	require.True(t, parts[0].Get("thought").Bool())
	require.Equal(t, "Checking the weather.", parts[1].Get("text").String())
	require.Equal(t, "get_weather", parts[2].Get("functionCall.name").String())
	require.Equal(t, "SF", parts[2].Get("functionCall.args.city").String())

	// Gemini has no tool-call finish reason; tool turns still end with STOP.
	require.Equal(t, "STOP", body.Get("candidates.0.finishReason").String())
	require.Equal(t, int64(5), body.Get("usageMetadata.thoughtsTokenCount").Int())
	require.Equal(t, int64(30), body.Get("usageMetadata.totalTokenCount").Int())
}

func TestMarshalArgumentsRawSentinel(t *testing.T) {
	raw := marshalArguments(map[string]interface{}{unified.RawInputKey: "not json"})
	require.Equal(t, "not json", raw)

	require.Equal(t, "{}", marshalArguments(nil))
	require.Equal(t, `{"a":1}`, marshalArguments(map[string]interface{}{"a": 1}))
}

func TestParseArgsObjectFallback(t *testing.T) {
	require.Equal(t, map[string]interface{}{"a": float64(1)}, parseArgsObject(`{"a":1}`))
	require.Equal(t, map[string]interface{}{}, parseArgsObject(""))
	require.Equal(t, map[string]interface{}{unified.RawInputKey: "oops"}, parseArgsObject("oops"))
}

func TestFrameEncode(t *testing.T) {
	require.Equal(t, "data: {\"a\":1}\n\n", Frame{Data: `{"a":1}`}.Encode())
	require.Equal(t, "event: ping\ndata: {}\n\n", Frame{Event: "ping", Data: "{}"}.Encode())
	require.Equal(t, "data: [DONE]\n\n", DoneFrame.Encode())
}
