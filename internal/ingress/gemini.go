package ingress

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mcowger/plexus/internal/unified"
)

var geminiKnownKeys = map[string]bool{
	"contents": true, "systemInstruction": true, "system_instruction": true,
	"tools": true, "toolConfig": true, "tool_config": true,
	"generationConfig": true, "generation_config": true,
	"safetySettings": true, "safety_settings": true,
}

// ParseGemini translates a Gemini generateContent request body. The model
// name and stream flag come from the URL, not the body, so the handler
// passes them in.
func ParseGemini(body []byte, model string, stream bool) (*unified.Request, []Warning, error) {
	if !gjson.ValidBytes(body) {
		return nil, nil, invalidf("request body is not valid JSON")
	}
	if model == "" {
		return nil, nil, invalidf("model is required")
	}
	root := gjson.ParseBytes(body)
	var ws warnings

	contents := root.Get("contents")
	if !contents.Exists() || len(contents.Array()) == 0 {
		return nil, nil, invalidf("contents must be a non-empty array")
	}

	req := &unified.Request{
		Model:           model,
		Stream:          stream,
		IncomingDialect: unified.DialectGemini,
		RequestID:       newRequestID(),
	}

	if sys := geminiField(root, "systemInstruction", "system_instruction"); sys.Exists() {
		var sb strings.Builder
		for _, p := range sys.Get("parts").Array() {
			sb.WriteString(p.Get("text").String())
		}
		if sb.Len() > 0 {
			req.Messages = append(req.Messages, unified.TextMessage(unified.RoleSystem, sb.String()))
		}
	}

	// Gemini function calls carry no ids. We synthesize one per call in
	// conversation order and match each functionResponse to the oldest
	// unconsumed call of the same name.
	callSeq := 0
	pendingByName := map[string][]string{}

	for i, c := range contents.Array() {
		role := c.Get("role").String()
		switch role {
		case "user", "":
			parseGeminiUserContent(c.Get("parts"), pendingByName, req, i, &ws)
		case "model":
			msg := unified.Message{Role: unified.RoleAssistant}
			for _, p := range c.Get("parts").Array() {
				switch {
				case p.Get("text").Exists():
					if p.Get("thought").Bool() {
						msg.Reasoning += p.Get("text").String()
					} else {
						msg.Text += p.Get("text").String()
					}
				case p.Get("functionCall").Exists():
					name := p.Get("functionCall.name").String()
					id := fmt.Sprintf("call_%s_%d", name, callSeq)
					callSeq++
					args := map[string]interface{}{}
					if a := p.Get("functionCall.args"); a.IsObject() {
						_ = json.Unmarshal([]byte(a.Raw), &args)
					}
					msg.ToolCalls = append(msg.ToolCalls, unified.ToolCall{ID: id, Name: name, Input: args})
					pendingByName[name] = append(pendingByName[name], id)
				default:
					ws.addf("contents", "contents[%d]: unsupported model part dropped", i)
				}
			}
			req.Messages = append(req.Messages, msg)
		default:
			ws.addf("contents", "unknown role %q dropped", role)
		}
	}

	for _, t := range root.Get("tools").Array() {
		for _, fd := range t.Get("functionDeclarations").Array() {
			req.Tools = append(req.Tools, unified.Tool{
				Name:        fd.Get("name").String(),
				Description: fd.Get("description").String(),
				InputSchema: jsonObject(fd.Get("parameters")),
			})
		}
	}

	if tc := geminiField(root, "toolConfig", "tool_config"); tc.Exists() {
		cfg := tc.Get("functionCallingConfig")
		switch cfg.Get("mode").String() {
		case "", "AUTO":
			if cfg.Exists() {
				req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
			}
		case "ANY":
			// ANY with a single allowed name pins that function.
			if allowed := cfg.Get("allowedFunctionNames").Array(); len(allowed) == 1 {
				req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceSpecific, Name: allowed[0].String()}
			} else {
				req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
			}
		case "NONE":
			req.ToolChoice = &unified.ToolChoice{Mode: unified.ToolChoiceNone}
		default:
			ws.addf("toolConfig", "unknown mode %q dropped", cfg.Get("mode").String())
		}
	}

	if gc := geminiField(root, "generationConfig", "generation_config"); gc.Exists() {
		req.Sampling = unified.Sampling{
			MaxOutputTokens: optInt(gc.Get("maxOutputTokens")),
			Temperature:     optFloat(gc.Get("temperature")),
			TopP:            optFloat(gc.Get("topP")),
			StopSequences:   stopSequences(gc.Get("stopSequences")),
			Seed:            optInt(gc.Get("seed")),
		}
		switch gc.Get("responseMimeType").String() {
		case "application/json":
			if schema := gc.Get("responseSchema"); schema.Exists() {
				req.ResponseFormat = &unified.ResponseFormat{
					Type:   unified.FormatJSONSchema,
					Schema: jsonObject(schema),
				}
			} else {
				req.ResponseFormat = &unified.ResponseFormat{Type: unified.FormatJSONObject}
			}
		case "", "text/plain":
		default:
			ws.addf("generationConfig", "unsupported responseMimeType %q dropped", gc.Get("responseMimeType").String())
		}
	}

	warnUnknownKeys(body, geminiKnownKeys, &ws)
	return req, ws, nil
}

func parseGeminiUserContent(parts gjson.Result, pendingByName map[string][]string, req *unified.Request, idx int, ws *warnings) {
	var contentParts []unified.ContentPart
	var toolMsgs []unified.Message

	for _, p := range parts.Array() {
		switch {
		case p.Get("text").Exists():
			contentParts = append(contentParts, unified.ContentPart{Type: unified.PartText, Text: p.Get("text").String()})

		case p.Get("inlineData").Exists():
			mime := p.Get("inlineData.mimeType").String()
			data := p.Get("inlineData.data").String()
			if strings.HasPrefix(mime, "image/") {
				contentParts = append(contentParts, unified.ContentPart{Type: unified.PartImageURL, MediaType: mime, Data: data})
			} else if strings.HasPrefix(mime, "audio/") {
				contentParts = append(contentParts, unified.ContentPart{
					Type:   unified.PartAudio,
					Format: strings.TrimPrefix(mime, "audio/"),
					Data:   data,
				})
			} else {
				contentParts = append(contentParts, unified.ContentPart{Type: unified.PartFile, MediaType: mime, Data: data})
			}

		case p.Get("fileData").Exists():
			contentParts = append(contentParts, unified.ContentPart{
				Type:      unified.PartFile,
				MediaType: p.Get("fileData.mimeType").String(),
				URL:       p.Get("fileData.fileUri").String(),
			})

		case p.Get("functionResponse").Exists():
			name := p.Get("functionResponse.name").String()
			var callID string
			if queue := pendingByName[name]; len(queue) > 0 {
				callID = queue[0]
				pendingByName[name] = queue[1:]
			} else {
				ws.addf("contents", "contents[%d]: functionResponse %q has no matching call", idx, name)
			}
			var jsonVal interface{}
			if resp := p.Get("functionResponse.response"); resp.IsObject() || resp.IsArray() {
				_ = json.Unmarshal([]byte(resp.Raw), &jsonVal)
			}
			toolMsgs = append(toolMsgs, unified.Message{
				Role:           unified.RoleTool,
				ToolCallID:     callID,
				ToolName:       name,
				ToolOutputJSON: jsonVal,
			})

		default:
			ws.addf("contents", "contents[%d]: unsupported user part dropped", idx)
		}
	}

	req.Messages = append(req.Messages, toolMsgs...)
	if len(contentParts) > 0 {
		req.Messages = append(req.Messages, unified.Message{Role: unified.RoleUser, Parts: contentParts})
	}
}

// geminiField reads a field that appears in both camelCase and snake_case
// on the wire.
func geminiField(root gjson.Result, camel, snake string) gjson.Result {
	if v := root.Get(camel); v.Exists() {
		return v
	}
	return root.Get(snake)
}
