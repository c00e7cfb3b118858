package ingress

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mcowger/plexus/internal/unified"
)

var anthropicKnownKeys = map[string]bool{
	"model": true, "messages": true, "system": true, "max_tokens": true,
	"tools": true, "tool_choice": true, "temperature": true, "top_p": true,
	"top_k": true, "stop_sequences": true, "stream": true, "metadata": true,
	"thinking": true,
}

// ParseAnthropic translates an Anthropic Messages request body.
func ParseAnthropic(body []byte) (*unified.Request, []Warning, error) {
	if !gjson.ValidBytes(body) {
		return nil, nil, invalidf("request body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	var ws warnings

	model := root.Get("model").String()
	if model == "" {
		return nil, nil, invalidf("model is required")
	}
	msgs := root.Get("messages")
	if !msgs.Exists() || len(msgs.Array()) == 0 {
		return nil, nil, invalidf("messages must be a non-empty array")
	}

	req := &unified.Request{
		Model:           model,
		Stream:          root.Get("stream").Bool(),
		IncomingDialect: unified.DialectAnthropic,
		RequestID:       newRequestID(),
	}

	// System prompt: a string or a list of text blocks.
	if sys := root.Get("system"); sys.Exists() {
		if sys.Type == gjson.String {
			req.Messages = append(req.Messages, unified.TextMessage(unified.RoleSystem, sys.String()))
		} else {
			var sb strings.Builder
			for _, block := range sys.Array() {
				sb.WriteString(block.Get("text").String())
			}
			req.Messages = append(req.Messages, unified.TextMessage(unified.RoleSystem, sb.String()))
		}
	}

	toolNames := map[string]string{}

	for i, m := range msgs.Array() {
		role := m.Get("role").String()
		content := m.Get("content")
		switch role {
		case "user":
			parseAnthropicUserMessage(content, toolNames, req, i, &ws)
		case "assistant":
			req.Messages = append(req.Messages, parseAnthropicAssistantMessage(content, toolNames, i, &ws))
		case "":
			return nil, nil, invalidf("messages[%d]: role is required", i)
		default:
			ws.addf("messages", "unknown role %q dropped", role)
		}
	}

	for _, t := range root.Get("tools").Array() {
		name := t.Get("name").String()
		if name == "" {
			ws.addf("tools", "tool without name dropped")
			continue
		}
		req.Tools = append(req.Tools, unified.Tool{
			Name:        name,
			Description: t.Get("description").String(),
			InputSchema: jsonObject(t.Get("input_schema")),
		})
	}

	if tc := root.Get("tool_choice"); tc.Exists() {
		switch tc.Get("type").String() {
		case "auto":
			req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
		case "any":
			req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
		case "none":
			req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceNone}
		case "tool":
			req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceSpecific, Name: tc.Get("name").String()}
		default:
			ws.addf("tool_choice", "unknown type %q dropped", tc.Get("type").String())
		}
	}

	req.Sampling = unified.Sampling{
		MaxOutputTokens: optInt(root.Get("max_tokens")),
		Temperature:     optFloat(root.Get("temperature")),
		TopP:            optFloat(root.Get("top_p")),
		StopSequences:   stopSequences(root.Get("stop_sequences")),
	}

	warnUnknownKeys(body, anthropicKnownKeys, &ws)
	return req, ws, nil
}

// parseAnthropicUserMessage splits a user turn into a user message and, for
// any tool_result blocks, trailing tool messages.
func parseAnthropicUserMessage(content gjson.Result, toolNames map[string]string, req *unified.Request, msgIdx int, ws *warnings) {
	var parts []unified.ContentPart
	var toolMsgs []unified.Message

	if content.Type == gjson.String {
		parts = append(parts, unified.ContentPart{Type: unified.PartText, Text: content.String()})
	} else {
		for _, block := range content.Array() {
			switch block.Get("type").String() {
			case "text":
				parts = append(parts, unified.ContentPart{Type: unified.PartText, Text: block.Get("text").String()})

			case "image":
				switch block.Get("source.type").String() {
				case "base64":
					parts = append(parts, unified.ContentPart{
						Type:      unified.PartImageURL,
						MediaType: block.Get("source.media_type").String(),
						Data:      block.Get("source.data").String(),
					})
				case "url":
					parts = append(parts, unified.ContentPart{Type: unified.PartImageURL, URL: block.Get("source.url").String()})
				default:
					ws.addf("messages", "messages[%d]: unknown image source dropped", msgIdx)
				}

			case "document":
				parts = append(parts, unified.ContentPart{
					Type:      unified.PartFile,
					MediaType: block.Get("source.media_type").String(),
					Data:      block.Get("source.data").String(),
				})

			case "tool_result":
				callID := block.Get("tool_use_id").String()
				text := anthropicBlockText(block.Get("content"))
				jsonVal, plain := toolOutput(text)
				toolMsgs = append(toolMsgs, unified.Message{
					Role:           unified.RoleTool,
					ToolCallID:     callID,
					ToolName:       toolNames[callID],
					ToolOutputJSON: jsonVal,
					ToolOutputText: plain,
				})

			default:
				ws.addf("messages", "messages[%d]: unknown content block %q dropped", msgIdx, block.Get("type").String())
			}
		}
	}

	// Tool results precede any user text in the flattened sequence so the
	// tool-call back-reference stays adjacent to its assistant turn.
	req.Messages = append(req.Messages, toolMsgs...)
	if len(parts) > 0 {
		req.Messages = append(req.Messages, unified.Message{Role: unified.RoleUser, Parts: parts})
	}
}

func parseAnthropicAssistantMessage(content gjson.Result, toolNames map[string]string, msgIdx int, ws *warnings) unified.Message {
	msg := unified.Message{Role: unified.RoleAssistant}
	if content.Type == gjson.String {
		msg.Text = content.String()
		return msg
	}
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			msg.Text += block.Get("text").String()
		case "thinking":
			msg.Reasoning += block.Get("thinking").String()
		case "tool_use":
			id := block.Get("id").String()
			name := block.Get("name").String()
			input := map[string]interface{}{}
			if in := block.Get("input"); in.Exists() && in.IsObject() {
				_ = json.Unmarshal([]byte(in.Raw), &input)
			}
			msg.ToolCalls = append(msg.ToolCalls, unified.ToolCall{ID: id, Name: name, Input: input})
			if id != "" {
				toolNames[id] = name
			}
		default:
			ws.addf("messages", "messages[%d]: unknown content block %q dropped", msgIdx, block.Get("type").String())
		}
	}
	return msg
}

func anthropicBlockText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	var sb strings.Builder
	for _, block := range content.Array() {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
	}
	return sb.String()
}
