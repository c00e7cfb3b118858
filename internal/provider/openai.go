package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// OpenAIAdapter speaks the Chat Completions wire protocol. OpenRouter is
// the same protocol against a different base URL, so both provider types
// share this adapter.
type OpenAIAdapter struct {
	providerType config.ProviderType
}

// NewOpenAIAdapter builds an adapter for the given OpenAI-compatible type.
func NewOpenAIAdapter(t config.ProviderType) *OpenAIAdapter {
	return &OpenAIAdapter{providerType: t}
}

func (a *OpenAIAdapter) Type() config.ProviderType { return a.providerType }

func (a *OpenAIAdapter) client(p *config.Provider) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(p.APIKey),
		option.WithBaseURL(p.BaseURL),
	}
	for k, v := range p.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return openai.NewClient(opts...)
}

// buildParams renders the unified request as ChatCompletionNewParams.
// Union message shapes are built through JSON round-trips; the SDK's param
// unions deserialize cleanly and this keeps the mapping in one place.
func (a *OpenAIAdapter) buildParams(call Call) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(call.Model),
	}

	for i := range call.Request.Messages {
		m := &call.Request.Messages[i]
		switch m.Role {
		case unified.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.PlainText()))
		case unified.RoleUser:
			params.Messages = append(params.Messages, buildOpenAIUserMessage(m))
		case unified.RoleAssistant:
			params.Messages = append(params.Messages, buildOpenAIAssistantMessage(m))
		case unified.RoleTool:
			params.Messages = append(params.Messages, unmarshalOpenAIMessage(map[string]interface{}{
				"role":         "tool",
				"tool_call_id": m.ToolCallID,
				"content":      toolOutputString(m),
			}))
		}
	}

	for _, t := range call.Request.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: param.Opt[string]{Value: t.Description},
			Parameters:  t.InputSchema,
		}))
	}

	if tc := call.Request.ToolChoice; tc != nil {
		switch tc.Mode {
		case unified.ToolChoiceNone:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.Opt("none")}
		case unified.ToolChoiceRequired:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.Opt("required")}
		case unified.ToolChoiceSpecific:
			params.ToolChoice = openai.ToolChoiceOptionFunctionToolChoice(
				openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
			)
		default:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.Opt("auto")}
		}
	}

	if rf := call.Request.ResponseFormat; rf != nil {
		switch rf.Type {
		case unified.FormatJSONObject:
			params.SetExtraFields(map[string]interface{}{
				"response_format": map[string]interface{}{"type": "json_object"},
			})
		case unified.FormatJSONSchema:
			schema := map[string]interface{}{
				"name":   rf.Name,
				"schema": rf.Schema,
			}
			if rf.Description != "" {
				schema["description"] = rf.Description
			}
			if rf.Strict != nil {
				schema["strict"] = *rf.Strict
			}
			params.SetExtraFields(map[string]interface{}{
				"response_format": map[string]interface{}{
					"type":        "json_schema",
					"json_schema": schema,
				},
			})
		}
	}

	s := applyStripRules(call.Provider, call.Model, call.Request.Sampling)
	if s.MaxOutputTokens != nil {
		params.MaxTokens = openai.Opt(*s.MaxOutputTokens)
	}
	if s.Temperature != nil {
		params.Temperature = openai.Opt(*s.Temperature)
	}
	if s.TopP != nil {
		params.TopP = openai.Opt(*s.TopP)
	}
	if s.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Opt(*s.FrequencyPenalty)
	}
	if s.PresencePenalty != nil {
		params.PresencePenalty = openai.Opt(*s.PresencePenalty)
	}
	if s.Seed != nil {
		params.Seed = openai.Opt(*s.Seed)
	}
	if len(s.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: s.StopSequences}
	}

	return params
}

func buildOpenAIUserMessage(m *unified.Message) openai.ChatCompletionMessageParamUnion {
	textOnly := true
	for _, p := range m.Parts {
		if p.Type != unified.PartText {
			textOnly = false
			break
		}
	}
	if textOnly {
		return openai.UserMessage(m.PlainText())
	}

	var parts []map[string]interface{}
	for _, p := range m.Parts {
		switch p.Type {
		case unified.PartText:
			parts = append(parts, map[string]interface{}{"type": "text", "text": p.Text})
		case unified.PartImageURL:
			url := p.URL
			if url == "" {
				url = "data:" + p.MediaType + ";base64," + p.Data
			}
			parts = append(parts, map[string]interface{}{
				"type":      "image_url",
				"image_url": map[string]interface{}{"url": url},
			})
		case unified.PartAudio:
			parts = append(parts, map[string]interface{}{
				"type":        "input_audio",
				"input_audio": map[string]interface{}{"format": p.Format, "data": p.Data},
			})
		case unified.PartFile:
			file := map[string]interface{}{}
			if p.FileID != "" {
				file["file_id"] = p.FileID
			} else {
				file["filename"] = p.Filename
				file["file_data"] = "data:" + p.MediaType + ";base64," + p.Data
			}
			parts = append(parts, map[string]interface{}{"type": "file", "file": file})
		}
	}
	return unmarshalOpenAIMessage(map[string]interface{}{"role": "user", "content": parts})
}

func buildOpenAIAssistantMessage(m *unified.Message) openai.ChatCompletionMessageParamUnion {
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(m.Text)
	}
	var toolCalls []map[string]interface{}
	for _, tc := range m.ToolCalls {
		args := "{}"
		if raw, ok := tc.Input[unified.RawInputKey].(string); ok && len(tc.Input) == 1 {
			args = raw
		} else if b, err := json.Marshal(tc.Input); err == nil {
			args = string(b)
		}
		toolCalls = append(toolCalls, map[string]interface{}{
			"id":   tc.ID,
			"type": "function",
			"function": map[string]interface{}{
				"name":      tc.Name,
				"arguments": args,
			},
		})
	}
	return unmarshalOpenAIMessage(map[string]interface{}{
		"role":       "assistant",
		"content":    m.Text,
		"tool_calls": toolCalls,
	})
}

func unmarshalOpenAIMessage(m map[string]interface{}) openai.ChatCompletionMessageParamUnion {
	b, _ := json.Marshal(m)
	var out openai.ChatCompletionMessageParamUnion
	_ = json.Unmarshal(b, &out)
	return out
}

func toolOutputString(m *unified.Message) string {
	if m.ToolOutputJSON != nil {
		if b, err := json.Marshal(m.ToolOutputJSON); err == nil {
			return string(b)
		}
	}
	return m.ToolOutputText
}

func (a *OpenAIAdapter) classify(provider string, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		var header http.Header
		if apierr.Response != nil {
			header = apierr.Response.Header
		}
		return classifyStatus(provider, apierr.StatusCode, retryAfterHeader(header), err)
	}
	return classifyTransport(provider, err)
}

// Complete performs a non-streaming chat completion.
func (a *OpenAIAdapter) Complete(ctx context.Context, call Call) (*unified.Response, error) {
	client := a.client(call.Provider)
	completion, err := client.Chat.Completions.New(ctx, a.buildParams(call))
	if err != nil {
		return nil, a.classify(call.Provider.Name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, unified.NewError(unified.ErrUpstreamTransient, "provider %s returned no choices", call.Provider.Name)
	}

	choice := completion.Choices[0]
	resp := &unified.Response{
		ID:            completion.ID,
		Provider:      call.Provider.Name,
		ProviderModel: call.Model,
		FinishReason:  mapOpenAIFinishReason(string(choice.FinishReason)),
	}
	if resp.ID == "" {
		resp.ID = responseID("chatcmpl")
	}

	if extra := choice.Message.JSON.ExtraFields; extra != nil {
		if rc, ok := extra["reasoning_content"]; ok {
			var reasoning string
			if json.Unmarshal([]byte(rc.Raw()), &reasoning) == nil && reasoning != "" {
				resp.Parts = append(resp.Parts, unified.ResponsePart{Type: unified.RespReasoning, Text: reasoning})
			}
		}
	}
	if choice.Message.Content != "" {
		resp.Parts = append(resp.Parts, unified.ResponsePart{Type: unified.RespText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]interface{}{unified.RawInputKey: tc.Function.Arguments}
			}
		}
		resp.Parts = append(resp.Parts, unified.ResponsePart{
			Type:     unified.RespToolCall,
			ToolCall: &unified.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input},
		})
	}

	resp.Usage = unified.Usage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		TotalTokens:  completion.Usage.TotalTokens,
	}
	if c := completion.Usage.PromptTokensDetails.CachedTokens; c > 0 {
		resp.Usage.CachedInputTokens = &c
	}
	if r := completion.Usage.CompletionTokensDetails.ReasoningTokens; r > 0 {
		resp.Usage.ReasoningTokens = &r
	}
	return resp, nil
}

// Stream performs a streaming chat completion, translating chunks into
// neutral events.
func (a *OpenAIAdapter) Stream(ctx context.Context, call Call, emit Emit) error {
	client := a.client(call.Provider)
	params := a.buildParams(call)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		textOpen      bool
		reasoningOpen bool
		openTools     = map[int64]string{} // chunk index -> block id
		usage         unified.Usage
		finish        = unified.FinishOther
		sawFinish     bool
	)

	closeBlocks := func() {
		if reasoningOpen {
			emit(unified.ReasoningEnd("reasoning_0"))
			reasoningOpen = false
		}
		if textOpen {
			emit(unified.TextEnd("text_0"))
			textOpen = false
		}
		for _, id := range openTools {
			emit(unified.ToolInputEnd(id))
		}
		openTools = map[int64]string{}
	}

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
			if c := chunk.Usage.PromptTokensDetails.CachedTokens; c > 0 {
				usage.CachedInputTokens = &c
			}
			if r := chunk.Usage.CompletionTokensDetails.ReasoningTokens; r > 0 {
				usage.ReasoningTokens = &r
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if extra := choice.Delta.JSON.ExtraFields; extra != nil {
			if rc, ok := extra["reasoning_content"]; ok {
				var reasoning string
				if json.Unmarshal([]byte(rc.Raw()), &reasoning) == nil && reasoning != "" {
					if !reasoningOpen {
						reasoningOpen = true
						emit(unified.ReasoningStart("reasoning_0"))
					}
					emit(unified.ReasoningDelta("reasoning_0", reasoning))
				}
			}
		}

		if choice.Delta.Content != "" {
			if reasoningOpen {
				emit(unified.ReasoningEnd("reasoning_0"))
				reasoningOpen = false
			}
			if !textOpen {
				textOpen = true
				emit(unified.TextStart("text_0"))
			}
			emit(unified.TextDelta("text_0", choice.Delta.Content))
		}

		for _, tc := range choice.Delta.ToolCalls {
			id, started := openTools[tc.Index]
			if !started {
				id = tc.ID
				if id == "" {
					id = "call_" + strconv.FormatInt(tc.Index, 10)
				}
				openTools[tc.Index] = id
				emit(unified.ToolInputStart(id, tc.Function.Name))
			}
			if tc.Function.Arguments != "" {
				emit(unified.ToolInputDelta(id, tc.Function.Arguments))
			}
		}

		if choice.FinishReason != "" {
			finish = mapOpenAIFinishReason(string(choice.FinishReason))
			sawFinish = true
		}
	}
	if err := stream.Err(); err != nil {
		if sawFinish {
			// Finish already observed; treat trailing errors as stream close.
			closeBlocks()
			emit(unified.Finish(finish, &usage))
			return nil
		}
		return a.classify(call.Provider.Name, err)
	}

	closeBlocks()
	emit(unified.Finish(finish, &usage))
	return nil
}

func mapOpenAIFinishReason(r string) unified.FinishReason {
	switch r {
	case "stop":
		return unified.FinishStop
	case "length":
		return unified.FinishLength
	case "tool_calls", "function_call":
		return unified.FinishToolCalls
	case "content_filter":
		return unified.FinishContentFilter
	case "":
		return unified.FinishOther
	default:
		return unified.FinishOther
	}
}
