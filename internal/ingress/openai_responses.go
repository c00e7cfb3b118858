package ingress

import (
	"github.com/tidwall/gjson"

	"github.com/mcowger/plexus/internal/unified"
)

var responsesKnownKeys = map[string]bool{
	"model": true, "input": true, "instructions": true, "tools": true,
	"tool_choice": true, "text": true, "max_output_tokens": true,
	"temperature": true, "top_p": true, "stream": true, "metadata": true,
	"reasoning": true, "store": true, "parallel_tool_calls": true,
	"previous_response_id": true,
}

// ParseOpenAIResponses translates an OpenAI Responses API request body.
// The item-oriented input (message items, reasoning items, function_call
// items) flattens into the same unified message sequence.
func ParseOpenAIResponses(body []byte) (*unified.Request, []Warning, error) {
	if !gjson.ValidBytes(body) {
		return nil, nil, invalidf("request body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	var ws warnings

	model := root.Get("model").String()
	if model == "" {
		return nil, nil, invalidf("model is required")
	}
	input := root.Get("input")
	if !input.Exists() {
		return nil, nil, invalidf("input is required")
	}

	req := &unified.Request{
		Model:           model,
		Stream:          root.Get("stream").Bool(),
		IncomingDialect: unified.DialectOpenAIResponses,
		RequestID:       newRequestID(),
	}

	if instructions := root.Get("instructions").String(); instructions != "" {
		req.Messages = append(req.Messages, unified.TextMessage(unified.RoleSystem, instructions))
	}

	toolNames := map[string]string{}

	if input.Type == gjson.String {
		req.Messages = append(req.Messages, unified.TextMessage(unified.RoleUser, input.String()))
	} else {
		for i, item := range input.Array() {
			parseResponsesItem(item, toolNames, req, i, &ws)
		}
	}
	if len(req.Messages) == 0 {
		return nil, nil, invalidf("input produced no messages")
	}

	for _, t := range root.Get("tools").Array() {
		if t.Get("type").String() != "function" {
			ws.addf("tools", "unsupported tool type %q dropped", t.Get("type").String())
			continue
		}
		// Responses declares functions at the top level, not under a
		// nested function object.
		req.Tools = append(req.Tools, unified.Tool{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			InputSchema: jsonObject(t.Get("parameters")),
		})
	}

	req.ToolChoice = parseOpenAIToolChoice(root.Get("tool_choice"), &ws)
	req.ResponseFormat = parseResponsesTextFormat(root.Get("text.format"), &ws)
	req.Sampling = unified.Sampling{
		MaxOutputTokens: optInt(root.Get("max_output_tokens")),
		Temperature:     optFloat(root.Get("temperature")),
		TopP:            optFloat(root.Get("top_p")),
	}

	warnUnknownKeys(body, responsesKnownKeys, &ws)
	return req, ws, nil
}

func parseResponsesItem(item gjson.Result, toolNames map[string]string, req *unified.Request, idx int, ws *warnings) {
	itemType := item.Get("type").String()
	// Bare {role, content} items are message items without the tag.
	if itemType == "" && item.Get("role").Exists() {
		itemType = "message"
	}

	switch itemType {
	case "message":
		role := item.Get("role").String()
		content := item.Get("content")
		switch role {
		case "system", "developer":
			if role == "developer" {
				ws.addf("input", "developer role collapsed to system")
			}
			req.Messages = append(req.Messages, unified.Message{
				Role:  unified.RoleSystem,
				Parts: parseResponsesContentParts(content, idx, ws),
			})
		case "user":
			req.Messages = append(req.Messages, unified.Message{
				Role:  unified.RoleUser,
				Parts: parseResponsesContentParts(content, idx, ws),
			})
		case "assistant":
			msg := unified.Message{Role: unified.RoleAssistant}
			if content.Type == gjson.String {
				msg.Text = content.String()
			} else {
				for _, part := range content.Array() {
					switch part.Get("type").String() {
					case "output_text", "input_text", "text":
						msg.Text += part.Get("text").String()
					case "refusal":
						ws.addf("input", "input[%d]: refusal part dropped", idx)
					}
				}
			}
			req.Messages = append(req.Messages, msg)
		default:
			ws.addf("input", "input[%d]: unknown role %q dropped", idx, role)
		}

	case "function_call":
		callID := item.Get("call_id").String()
		name := item.Get("name").String()
		input := parseJSONArguments(item.Get("arguments").String(), "input.function_call", ws)
		if callID != "" {
			toolNames[callID] = name
		}
		// A function_call item extends the previous assistant turn when
		// one exists; otherwise it opens one.
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == unified.RoleAssistant {
			req.Messages[n-1].ToolCalls = append(req.Messages[n-1].ToolCalls, unified.ToolCall{ID: callID, Name: name, Input: input})
		} else {
			req.Messages = append(req.Messages, unified.Message{
				Role:      unified.RoleAssistant,
				ToolCalls: []unified.ToolCall{{ID: callID, Name: name, Input: input}},
			})
		}

	case "function_call_output":
		callID := item.Get("call_id").String()
		jsonVal, plain := toolOutput(item.Get("output").String())
		req.Messages = append(req.Messages, unified.Message{
			Role:           unified.RoleTool,
			ToolCallID:     callID,
			ToolName:       toolNames[callID],
			ToolOutputJSON: jsonVal,
			ToolOutputText: plain,
		})

	case "reasoning":
		var text string
		for _, s := range item.Get("summary").Array() {
			text += s.Get("text").String()
		}
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == unified.RoleAssistant {
			req.Messages[n-1].Reasoning += text
		} else if text != "" {
			req.Messages = append(req.Messages, unified.Message{Role: unified.RoleAssistant, Reasoning: text})
		}

	default:
		ws.addf("input", "input[%d]: unknown item type %q dropped", idx, itemType)
	}
}

func parseResponsesContentParts(content gjson.Result, idx int, ws *warnings) []unified.ContentPart {
	if content.Type == gjson.String {
		return []unified.ContentPart{{Type: unified.PartText, Text: content.String()}}
	}
	var parts []unified.ContentPart
	for _, p := range content.Array() {
		switch p.Get("type").String() {
		case "input_text", "output_text", "text":
			parts = append(parts, unified.ContentPart{Type: unified.PartText, Text: p.Get("text").String()})

		case "input_image":
			url := p.Get("image_url").String()
			if mediaType, data, ok := parseDataURI(url); ok {
				parts = append(parts, unified.ContentPart{Type: unified.PartImageURL, MediaType: mediaType, Data: data})
			} else {
				parts = append(parts, unified.ContentPart{Type: unified.PartImageURL, URL: url})
			}

		case "input_file":
			if fileID := p.Get("file_id").String(); fileID != "" {
				parts = append(parts, unified.ContentPart{Type: unified.PartFile, FileID: fileID})
				continue
			}
			part := unified.ContentPart{Type: unified.PartFile, Filename: p.Get("filename").String()}
			if mediaType, data, ok := parseDataURI(p.Get("file_data").String()); ok {
				part.MediaType = mediaType
				part.Data = data
			} else {
				part.Data = p.Get("file_data").String()
			}
			parts = append(parts, part)

		default:
			ws.addf("input", "input[%d]: unknown content part %q dropped", idx, p.Get("type").String())
		}
	}
	return parts
}

func parseResponsesTextFormat(v gjson.Result, ws *warnings) *unified.ResponseFormat {
	if !v.Exists() {
		return nil
	}
	switch v.Get("type").String() {
	case "", "text":
		return nil
	case "json_object":
		return &unified.ResponseFormat{Type: unified.FormatJSONObject}
	case "json_schema":
		rf := &unified.ResponseFormat{
			Type:        unified.FormatJSONSchema,
			Schema:      jsonObject(v.Get("schema")),
			Name:        v.Get("name").String(),
			Description: v.Get("description").String(),
		}
		if strict := v.Get("strict"); strict.Exists() {
			b := strict.Bool()
			rf.Strict = &b
		}
		return rf
	default:
		ws.addf("text.format", "unknown type %q dropped", v.Get("type").String())
		return nil
	}
}
