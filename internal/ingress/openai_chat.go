package ingress

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mcowger/plexus/internal/unified"
)

var openaiChatKnownKeys = map[string]bool{
	"model": true, "messages": true, "tools": true, "tool_choice": true,
	"response_format": true, "max_tokens": true, "max_completion_tokens": true,
	"temperature": true, "top_p": true, "frequency_penalty": true,
	"presence_penalty": true, "stop": true, "seed": true, "stream": true,
	"stream_options": true, "n": true, "user": true,
}

// ParseOpenAIChat translates an OpenAI Chat Completions request body.
func ParseOpenAIChat(body []byte) (*unified.Request, []Warning, error) {
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
		IncomingDialect: unified.DialectOpenAIChat,
		RequestID:       newRequestID(),
	}

	// Tool-call ids seen on assistant turns; later tool messages resolve
	// their tool name through this map.
	toolNames := map[string]string{}

	for i, m := range msgs.Array() {
		role := m.Get("role").String()
		switch role {
		case "system", "developer":
			if role == "developer" {
				ws.addf("messages", "developer role collapsed to system")
			}
			req.Messages = append(req.Messages, unified.Message{
				Role:  unified.RoleSystem,
				Parts: parseOpenAIContentParts(m.Get("content"), i, &ws),
			})

		case "user":
			req.Messages = append(req.Messages, unified.Message{
				Role:  unified.RoleUser,
				Parts: parseOpenAIContentParts(m.Get("content"), i, &ws),
			})

		case "assistant":
			msg := unified.Message{Role: unified.RoleAssistant}
			if c := m.Get("content"); c.Type == gjson.String {
				msg.Text = c.String()
			} else if c.IsArray() {
				for _, part := range c.Array() {
					if part.Get("type").String() == "text" {
						msg.Text += part.Get("text").String()
					}
				}
			}
			for _, tc := range m.Get("tool_calls").Array() {
				id := tc.Get("id").String()
				name := tc.Get("function.name").String()
				input := parseJSONArguments(tc.Get("function.arguments").String(), "messages.tool_calls", &ws)
				msg.ToolCalls = append(msg.ToolCalls, unified.ToolCall{ID: id, Name: name, Input: input})
				if id != "" {
					toolNames[id] = name
				}
			}
			req.Messages = append(req.Messages, msg)

		case "tool":
			callID := m.Get("tool_call_id").String()
			if callID == "" {
				return nil, nil, invalidf("messages[%d]: tool message requires tool_call_id", i)
			}
			content := m.Get("content")
			text := content.String()
			if content.IsArray() {
				var sb strings.Builder
				for _, part := range content.Array() {
					if part.Get("type").String() == "text" {
						sb.WriteString(part.Get("text").String())
					}
				}
				text = sb.String()
			}
			jsonVal, plain := toolOutput(text)
			req.Messages = append(req.Messages, unified.Message{
				Role:           unified.RoleTool,
				ToolCallID:     callID,
				ToolName:       toolNames[callID],
				ToolOutputJSON: jsonVal,
				ToolOutputText: plain,
			})

		case "":
			return nil, nil, invalidf("messages[%d]: role is required", i)
		default:
			ws.addf("messages", "unknown role %q dropped", role)
		}
	}

	for _, t := range root.Get("tools").Array() {
		if t.Get("type").String() != "function" {
			ws.addf("tools", "unsupported tool type %q dropped", t.Get("type").String())
			continue
		}
		req.Tools = append(req.Tools, unified.Tool{
			Name:        t.Get("function.name").String(),
			Description: t.Get("function.description").String(),
			InputSchema: jsonObject(t.Get("function.parameters")),
		})
	}

	req.ToolChoice = parseOpenAIToolChoice(root.Get("tool_choice"), &ws)
	req.ResponseFormat = parseOpenAIResponseFormat(root.Get("response_format"), &ws)
	req.Sampling = parseOpenAISampling(root)

	warnUnknownKeys(body, openaiChatKnownKeys, &ws)
	return req, ws, nil
}

// parseOpenAIContentParts handles string content and the ordered part list
// of user/system messages.
func parseOpenAIContentParts(content gjson.Result, msgIdx int, ws *warnings) []unified.ContentPart {
	if content.Type == gjson.String {
		return []unified.ContentPart{{Type: unified.PartText, Text: content.String()}}
	}
	var parts []unified.ContentPart
	for _, p := range content.Array() {
		switch p.Get("type").String() {
		case "text":
			parts = append(parts, unified.ContentPart{Type: unified.PartText, Text: p.Get("text").String()})

		case "image_url":
			url := p.Get("image_url.url").String()
			if mediaType, data, ok := parseDataURI(url); ok {
				parts = append(parts, unified.ContentPart{
					Type:      unified.PartImageURL,
					MediaType: mediaType,
					Data:      data,
				})
			} else {
				parts = append(parts, unified.ContentPart{Type: unified.PartImageURL, URL: url})
			}

		case "input_audio":
			format := p.Get("input_audio.format").String()
			if format != "wav" && format != "mp3" {
				ws.addf("messages", "messages[%d]: unsupported audio format %q", msgIdx, format)
			}
			parts = append(parts, unified.ContentPart{
				Type:   unified.PartAudio,
				Format: format,
				Data:   p.Get("input_audio.data").String(),
			})

		case "file":
			if fileID := p.Get("file.file_id").String(); fileID != "" {
				parts = append(parts, unified.ContentPart{Type: unified.PartFile, FileID: fileID})
				continue
			}
			filename := p.Get("file.filename").String()
			fileData := p.Get("file.file_data").String()
			part := unified.ContentPart{Type: unified.PartFile, Filename: filename}
			if mediaType, data, ok := parseDataURI(fileData); ok {
				part.MediaType = mediaType
				part.Data = data
			} else {
				part.Data = fileData
			}
			parts = append(parts, part)

		default:
			ws.addf("messages", "messages[%d]: unknown content part %q dropped", msgIdx, p.Get("type").String())
		}
	}
	return parts
}

func parseOpenAIToolChoice(v gjson.Result, ws *warnings) *unified.ToolChoice {
	if !v.Exists() {
		return nil
	}
	if v.Type == gjson.String {
		switch v.String() {
		case "auto":
			return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
		case "none":
			return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
		case "required":
			return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
		default:
			ws.addf("tool_choice", "unknown value %q dropped", v.String())
			return nil
		}
	}
	if v.Get("type").String() == "function" {
		return &unified.ToolChoice{Mode: unified.ToolChoiceSpecific, Name: v.Get("function.name").String()}
	}
	ws.addf("tool_choice", "unknown shape dropped")
	return nil
}

func parseOpenAIResponseFormat(v gjson.Result, ws *warnings) *unified.ResponseFormat {
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
			Schema:      jsonObject(v.Get("json_schema.schema")),
			Name:        v.Get("json_schema.name").String(),
			Description: v.Get("json_schema.description").String(),
		}
		if strict := v.Get("json_schema.strict"); strict.Exists() {
			b := strict.Bool()
			rf.Strict = &b
		}
		return rf
	default:
		ws.addf("response_format", "unknown type %q dropped", v.Get("type").String())
		return nil
	}
}

func parseOpenAISampling(root gjson.Result) unified.Sampling {
	s := unified.Sampling{
		Temperature:      optFloat(root.Get("temperature")),
		TopP:             optFloat(root.Get("top_p")),
		FrequencyPenalty: optFloat(root.Get("frequency_penalty")),
		PresencePenalty:  optFloat(root.Get("presence_penalty")),
		StopSequences:    stopSequences(root.Get("stop")),
		Seed:             optInt(root.Get("seed")),
	}
	if v := root.Get("max_completion_tokens"); v.Exists() {
		s.MaxOutputTokens = optInt(v)
	} else {
		s.MaxOutputTokens = optInt(root.Get("max_tokens"))
	}
	return s
}
