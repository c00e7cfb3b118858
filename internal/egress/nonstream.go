package egress

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/mcowger/plexus/internal/unified"
)

func openaiFinishReason(r unified.FinishReason) string {
	switch r {
	case unified.FinishLength:
		return "length"
	case unified.FinishToolCalls:
		return "tool_calls"
	case unified.FinishContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

func anthropicStopReason(r unified.FinishReason) string {
	switch r {
	case unified.FinishLength:
		return "max_tokens"
	case unified.FinishToolCalls:
		return "tool_use"
	case unified.FinishContentFilter:
		return "safety"
	case unified.FinishError:
		return "error"
	default:
		return "end_turn"
	}
}

func geminiFinishReason(r unified.FinishReason) string {
	switch r {
	case unified.FinishLength:
		return "MAX_TOKENS"
	case unified.FinishContentFilter:
		return "SAFETY"
	case unified.FinishError:
		return "OTHER"
	default:
		return "STOP"
	}
}

// marshalArguments renders tool-call input as the JSON string the OpenAI
// dialects expect. The raw-argument sentinel unwraps to the original text.
func marshalArguments(input map[string]interface{}) string {
	if raw, ok := input[unified.RawInputKey].(string); ok && len(input) == 1 {
		return raw
	}
	if input == nil {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// parseArgsObject parses an accumulated argument string into an object,
// falling back to the raw-argument sentinel when it does not parse.
func parseArgsObject(args string) map[string]interface{} {
	if args == "" {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(args), &out); err != nil || out == nil {
		return map[string]interface{}{unified.RawInputKey: args}
	}
	return out
}

func openaiUsage(u unified.Usage) map[string]interface{} {
	usage := map[string]interface{}{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.TotalTokens,
	}
	if u.CachedInputTokens != nil {
		usage["prompt_tokens_details"] = map[string]interface{}{"cached_tokens": *u.CachedInputTokens}
	}
	if u.ReasoningTokens != nil {
		usage["completion_tokens_details"] = map[string]interface{}{"reasoning_tokens": *u.ReasoningTokens}
	}
	return usage
}

func responsesUsage(u unified.Usage) map[string]interface{} {
	usage := map[string]interface{}{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.TotalTokens,
	}
	if u.CachedInputTokens != nil {
		usage["input_tokens_details"] = map[string]interface{}{"cached_tokens": *u.CachedInputTokens}
	}
	if u.ReasoningTokens != nil {
		usage["output_tokens_details"] = map[string]interface{}{"reasoning_tokens": *u.ReasoningTokens}
	}
	return usage
}

// BuildOpenAIChat renders the non-streaming Chat Completions response object.
func BuildOpenAIChat(resp *unified.Response, model string) map[string]interface{} {
	message := map[string]interface{}{"role": "assistant"}

	var text, reasoning string
	var toolCalls []map[string]interface{}
	for _, p := range resp.Parts {
		switch p.Type {
		case unified.RespText:
			text += p.Text
		case unified.RespReasoning:
			reasoning += p.Text
		case unified.RespToolCall:
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   p.ToolCall.ID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      p.ToolCall.Name,
					"arguments": marshalArguments(p.ToolCall.Input),
				},
			})
		}
	}
	if text != "" || len(toolCalls) == 0 {
		message["content"] = text
	} else {
		message["content"] = nil
	}
	if reasoning != "" {
		message["reasoning_content"] = reasoning
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	return map[string]interface{}{
		"id":      resp.ID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       message,
			"finish_reason": openaiFinishReason(resp.FinishReason),
		}},
		"usage": openaiUsage(resp.Usage),
	}
}

// BuildOpenAIResponses renders the non-streaming Responses API object.
func BuildOpenAIResponses(resp *unified.Response, model string) map[string]interface{} {
	var output []map[string]interface{}
	itemSeq := 0

	var reasoning string
	for _, p := range resp.Parts {
		if p.Type == unified.RespReasoning {
			reasoning += p.Text
		}
	}
	if reasoning != "" {
		output = append(output, map[string]interface{}{
			"id":      itemID(resp.ID, "rs", itemSeq),
			"type":    "reasoning",
			"summary": []map[string]interface{}{{"type": "summary_text", "text": reasoning}},
		})
		itemSeq++
	}

	var text string
	for _, p := range resp.Parts {
		if p.Type == unified.RespText {
			text += p.Text
		}
	}
	if text != "" {
		output = append(output, map[string]interface{}{
			"id":     itemID(resp.ID, "msg", itemSeq),
			"type":   "message",
			"role":   "assistant",
			"status": "completed",
			"content": []map[string]interface{}{{
				"type":        "output_text",
				"text":        text,
				"annotations": []interface{}{},
			}},
		})
		itemSeq++
	}

	for _, tc := range resp.ToolCalls() {
		output = append(output, map[string]interface{}{
			"id":        itemID(resp.ID, "fc", itemSeq),
			"type":      "function_call",
			"status":    "completed",
			"call_id":   tc.ID,
			"name":      tc.Name,
			"arguments": marshalArguments(tc.Input),
		})
		itemSeq++
	}

	status := "completed"
	if resp.FinishReason == unified.FinishLength || resp.FinishReason == unified.FinishContentFilter {
		status = "incomplete"
	}

	return map[string]interface{}{
		"id":         resp.ID,
		"object":     "response",
		"created_at": time.Now().Unix(),
		"status":     status,
		"model":      model,
		"output":     output,
		"usage":      responsesUsage(resp.Usage),
	}
}

// BuildAnthropic renders the non-streaming Messages response object.
func BuildAnthropic(resp *unified.Response, model string) map[string]interface{} {
	var content []map[string]interface{}
	for _, p := range resp.Parts {
		switch p.Type {
		case unified.RespReasoning:
			content = append(content, map[string]interface{}{"type": "thinking", "thinking": p.Text})
		case unified.RespText:
			content = append(content, map[string]interface{}{"type": "text", "text": p.Text})
		case unified.RespToolCall:
			input := p.ToolCall.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			content = append(content, map[string]interface{}{
				"type":  "tool_use",
				"id":    p.ToolCall.ID,
				"name":  p.ToolCall.Name,
				"input": input,
			})
		}
	}
	if content == nil {
		content = []map[string]interface{}{}
	}

	usage := map[string]interface{}{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}
	if resp.Usage.CachedInputTokens != nil {
		usage["cache_read_input_tokens"] = *resp.Usage.CachedInputTokens
	}

	return map[string]interface{}{
		"id":            resp.ID,
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       content,
		"stop_reason":   anthropicStopReason(resp.FinishReason),
		"stop_sequence": nil,
		"usage":         usage,
	}
}

// BuildGemini renders the non-streaming generateContent response object.
func BuildGemini(resp *unified.Response, model string) map[string]interface{} {
	var parts []map[string]interface{}
	for _, p := range resp.Parts {
		switch p.Type {
		case unified.RespReasoning:
			parts = append(parts, map[string]interface{}{"text": p.Text, "thought": true})
		case unified.RespText:
			parts = append(parts, map[string]interface{}{"text": p.Text})
		case unified.RespToolCall:
			args := p.ToolCall.Input
			if args == nil {
				args = map[string]interface{}{}
			}
			parts = append(parts, map[string]interface{}{
				"functionCall": map[string]interface{}{
					"name": p.ToolCall.Name,
					"args": args,
				},
			})
		}
	}
	if parts == nil {
		parts = []map[string]interface{}{}
	}

	usage := map[string]interface{}{
		"promptTokenCount":     resp.Usage.InputTokens,
		"candidatesTokenCount": resp.Usage.OutputTokens,
		"totalTokenCount":      resp.Usage.TotalTokens,
	}
	if resp.Usage.CachedInputTokens != nil {
		usage["cachedContentTokenCount"] = *resp.Usage.CachedInputTokens
	}
	if resp.Usage.ReasoningTokens != nil {
		usage["thoughtsTokenCount"] = *resp.Usage.ReasoningTokens
	}

	return map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content":      map[string]interface{}{"role": "model", "parts": parts},
			"finishReason": geminiFinishReason(resp.FinishReason),
			"index":        0,
		}},
		"usageMetadata": usage,
		"modelVersion":  model,
	}
}

func itemID(base, kind string, seq int) string {
	return base + "_" + kind + "_" + strconv.Itoa(seq)
}
