package ingress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcowger/plexus/internal/unified"
)

func TestParseAnthropicBasic(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"max_tokens": 1024,
		"system": "Be brief.",
		"messages": [
			{"role": "user", "content": "Hello"}
		]
	}`)
	req, warns, err := ParseAnthropic(body)
	require.NoError(t, err)
	require.Empty(t, warns)

	require.Equal(t, unified.DialectAnthropic, req.IncomingDialect)
	require.Len(t, req.Messages, 2)
	require.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "Be brief.", req.Messages[0].PlainText())
	require.Equal(t, unified.RoleUser, req.Messages[1].Role)
	require.NotNil(t, req.Sampling.MaxOutputTokens)
	require.Equal(t, int64(1024), *req.Sampling.MaxOutputTokens)
}

func TestParseAnthropicSystemBlocks(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"max_tokens": 100,
		"system": [{"type": "text", "text": "part one. "}, {"type": "text", "text": "part two."}],
		"messages": [{"role": "user", "content": "hi there friend"}]
	}`)
	req, _, err := ParseAnthropic(body)
	require.NoError(t, err)
	require.Equal(t, "part one. part two.", req.Messages[0].PlainText())
}

func TestParseAnthropicToolUseAndResult(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": "weather in SF?"},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "need the tool"},
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "SF"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "{\"temp\": 18}"},
				{"type": "text", "text": "thanks, and in Paris?"}
			]}
		]
	}`)
	req, warns, err := ParseAnthropic(body)
	require.NoError(t, err)
	require.Empty(t, warns)

	require.Len(t, req.Messages, 4)

	asst := req.Messages[1]
	require.Equal(t, unified.RoleAssistant, asst.Role)
	require.Equal(t, "need the tool", asst.Reasoning)
	require.Equal(t, "Let me check.", asst.Text)
	require.Len(t, asst.ToolCalls, 1)
	require.Equal(t, "toolu_1", asst.ToolCalls[0].ID)

	// The tool result is flattened out of the user turn, preceding the text.
	toolMsg := req.Messages[2]
	require.Equal(t, unified.RoleTool, toolMsg.Role)
	require.Equal(t, "toolu_1", toolMsg.ToolCallID)
	require.Equal(t, "get_weather", toolMsg.ToolName)
	require.Equal(t, map[string]interface{}{"temp": float64(18)}, toolMsg.ToolOutputJSON)

	require.Equal(t, unified.RoleUser, req.Messages[3].Role)
	require.Equal(t, "thanks, and in Paris?", req.Messages[3].PlainText())
}

func TestParseAnthropicToolChoice(t *testing.T) {
	for wire, want := range map[string]unified.ToolChoiceMode{
		"auto": unified.ToolChoiceAuto,
		"any":  unified.ToolChoiceRequired,
		"none": unified.ToolChoiceNone,
	} {
		body := []byte(`{
			"model": "m", "max_tokens": 10,
			"messages": [{"role": "user", "content": "hello there"}],
			"tool_choice": {"type": "` + wire + `"}
		}`)
		req, _, err := ParseAnthropic(body)
		require.NoError(t, err)
		require.NotNil(t, req.ToolChoice)
		require.Equal(t, want, req.ToolChoice.Mode)
	}

	body := []byte(`{
		"model": "m", "max_tokens": 10,
		"messages": [{"role": "user", "content": "hello there"}],
		"tool_choice": {"type": "tool", "name": "get_weather"}
	}`)
	req, _, err := ParseAnthropic(body)
	require.NoError(t, err)
	require.Equal(t, unified.ToolChoiceSpecific, req.ToolChoice.Mode)
	require.Equal(t, "get_weather", req.ToolChoice.Name)
}

func TestParseAnthropicImage(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": [
				{"type": "image", "source": {"type": "base64", "media_type": "image/jpeg", "data": "aGVsbG8="}},
				{"type": "text", "text": "what is this?"}
			]}
		]
	}`)
	req, _, err := ParseAnthropic(body)
	require.NoError(t, err)
	parts := req.Messages[0].Parts
	require.Len(t, parts, 2)
	require.Equal(t, unified.PartImageURL, parts[0].Type)
	require.Equal(t, "image/jpeg", parts[0].MediaType)
	require.Equal(t, "aGVsbG8=", parts[0].Data)
}

func TestParseAnthropicValidation(t *testing.T) {
	_, _, err := ParseAnthropic([]byte(`{"max_tokens":10,"messages":[{"role":"user","content":"x"}]}`))
	require.Error(t, err)

	_, _, err = ParseAnthropic([]byte(`{"model":"m","max_tokens":10,"messages":[]}`))
	require.Error(t, err)
}
