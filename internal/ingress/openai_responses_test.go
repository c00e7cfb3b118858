package ingress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcowger/plexus/internal/unified"
)

func TestParseResponsesStringInput(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"instructions": "Answer briefly.",
		"input": "What is Go?"
	}`)
	req, warns, err := ParseOpenAIResponses(body)
	require.NoError(t, err)
	require.Empty(t, warns)

	require.Equal(t, unified.DialectOpenAIResponses, req.IncomingDialect)
	require.Len(t, req.Messages, 2)
	require.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "Answer briefly.", req.Messages[0].PlainText())
	require.Equal(t, unified.RoleUser, req.Messages[1].Role)
	require.Equal(t, "What is Go?", req.Messages[1].PlainText())
}

func TestParseResponsesItemList(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"input": [
			{"role": "user", "content": [{"type": "input_text", "text": "weather in SF?"}]},
			{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "Checking."}]},
			{"type": "function_call", "call_id": "call_9", "name": "get_weather", "arguments": "{\"city\":\"SF\"}"},
			{"type": "function_call_output", "call_id": "call_9", "output": "{\"temp\": 18}"}
		]
	}`)
	req, warns, err := ParseOpenAIResponses(body)
	require.NoError(t, err)
	require.Empty(t, warns)

	require.Len(t, req.Messages, 3)

	// The function_call item extends the preceding assistant message.
	asst := req.Messages[1]
	require.Equal(t, unified.RoleAssistant, asst.Role)
	require.Equal(t, "Checking.", asst.Text)
	require.Len(t, asst.ToolCalls, 1)
	require.Equal(t, "call_9", asst.ToolCalls[0].ID)
	require.Equal(t, map[string]interface{}{"city": "SF"}, asst.ToolCalls[0].Input)

	toolMsg := req.Messages[2]
	require.Equal(t, unified.RoleTool, toolMsg.Role)
	require.Equal(t, "call_9", toolMsg.ToolCallID)
	require.Equal(t, "get_weather", toolMsg.ToolName)
}

func TestParseResponsesReasoningItem(t *testing.T) {
	body := []byte(`{
		"model": "o3",
		"input": [
			{"role": "assistant", "content": [{"type": "output_text", "text": "done"}]},
			{"type": "reasoning", "summary": [{"type": "summary_text", "text": "thought about it"}]}
		]
	}`)
	req, _, err := ParseOpenAIResponses(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	require.Equal(t, "thought about it", req.Messages[0].Reasoning)
}

func TestParseResponsesFlatTools(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"input": "go",
		"tools": [
			{"type": "function", "name": "get_weather", "description": "d", "parameters": {"type": "object"}}
		],
		"text": {"format": {"type": "json_schema", "name": "out", "schema": {"type": "object"}}}
	}`)
	req, _, err := ParseOpenAIResponses(body)
	require.NoError(t, err)
	require.Len(t, req.Tools, 1)
	require.Equal(t, "get_weather", req.Tools[0].Name)
	require.NotNil(t, req.ResponseFormat)
	require.Equal(t, unified.FormatJSONSchema, req.ResponseFormat.Type)
	require.Equal(t, "out", req.ResponseFormat.Name)
}

func TestParseResponsesValidation(t *testing.T) {
	_, _, err := ParseOpenAIResponses([]byte(`{"model":"m"}`))
	require.Error(t, err)

	_, _, err = ParseOpenAIResponses([]byte(`{"input":"x"}`))
	require.Error(t, err)
}
