package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// defaultAnthropicMaxTokens applies when the client set no output cap;
// the Messages API requires max_tokens.
const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter speaks the Anthropic Messages wire protocol.
type AnthropicAdapter struct{}

// NewAnthropicAdapter builds the Anthropic adapter.
func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

func (a *AnthropicAdapter) Type() config.ProviderType { return config.ProviderAnthropic }

func (a *AnthropicAdapter) client(p *config.Provider) anthropic.Client {
	// The SDK appends /v1 itself.
	base := strings.TrimRight(p.BaseURL, "/")
	base = strings.TrimSuffix(base, "/v1")

	opts := []anthropicOption.RequestOption{
		anthropicOption.WithAPIKey(p.APIKey),
		anthropicOption.WithBaseURL(base),
	}
	for k, v := range p.Headers {
		opts = append(opts, anthropicOption.WithHeader(k, v))
	}
	return anthropic.NewClient(opts...)
}

func (a *AnthropicAdapter) buildParams(call Call) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(call.Model),
		MaxTokens: defaultAnthropicMaxTokens,
	}

	var systemParts []string
	for i := range call.Request.Messages {
		m := &call.Request.Messages[i]
		switch m.Role {
		case unified.RoleSystem:
			systemParts = append(systemParts, m.PlainText())
		case unified.RoleUser:
			if blocks := buildAnthropicUserBlocks(m); len(blocks) > 0 {
				params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
			}
		case unified.RoleAssistant:
			if blocks := buildAnthropicAssistantBlocks(m); len(blocks) > 0 {
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
			}
		case unified.RoleTool:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, toolOutputString(m), false),
			))
		}
	}
	if len(systemParts) > 0 {
		params.System = make([]anthropic.TextBlockParam, len(systemParts))
		for i, s := range systemParts {
			params.System[i] = anthropic.TextBlockParam{Text: s}
		}
	}

	for _, t := range call.Request.Tools {
		var schemaParam anthropic.ToolInputSchemaParam
		if t.InputSchema != nil {
			if b, err := json.Marshal(t.InputSchema); err == nil {
				_ = json.Unmarshal(b, &schemaParam)
			}
		}
		tool := anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: schemaParam,
		}}
		if t.Description != "" {
			tool.OfTool.Description = anthropic.Opt(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	if tc := call.Request.ToolChoice; tc != nil {
		switch tc.Mode {
		case unified.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		case unified.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case unified.ToolChoiceSpecific:
			params.ToolChoice = anthropic.ToolChoiceParamOfTool(tc.Name)
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	s := applyStripRules(call.Provider, call.Model, call.Request.Sampling)
	if s.MaxOutputTokens != nil {
		params.MaxTokens = *s.MaxOutputTokens
	}
	if s.Temperature != nil {
		params.Temperature = anthropic.Float(*s.Temperature)
	}
	if s.TopP != nil {
		params.TopP = anthropic.Float(*s.TopP)
	}
	if len(s.StopSequences) > 0 {
		params.StopSequences = s.StopSequences
	}

	return params
}

func buildAnthropicUserBlocks(m *unified.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch p.Type {
		case unified.PartText:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case unified.PartImageURL:
			if p.Data != "" {
				blocks = append(blocks, anthropic.NewImageBlockBase64(p.MediaType, p.Data))
			} else if p.URL != "" {
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: p.URL}))
			}
		case unified.PartFile:
			if p.Data != "" {
				blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: p.Data}))
			}
		}
	}
	return blocks
}

func buildAnthropicAssistantBlocks(m *unified.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if m.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Text))
	}
	for _, tc := range m.ToolCalls {
		var input interface{} = tc.Input
		if raw, ok := tc.Input[unified.RawInputKey].(string); ok && len(tc.Input) == 1 {
			input = raw
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}
	return blocks
}

func (a *AnthropicAdapter) classify(provider string, err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		var header http.Header
		if apierr.Response != nil {
			header = apierr.Response.Header
		}
		return classifyStatus(provider, apierr.StatusCode, retryAfterHeader(header), err)
	}
	return classifyTransport(provider, err)
}

// Complete performs a non-streaming messages call.
func (a *AnthropicAdapter) Complete(ctx context.Context, call Call) (*unified.Response, error) {
	client := a.client(call.Provider)
	msg, err := client.Messages.New(ctx, a.buildParams(call))
	if err != nil {
		return nil, a.classify(call.Provider.Name, err)
	}

	resp := &unified.Response{
		ID:            msg.ID,
		Provider:      call.Provider.Name,
		ProviderModel: call.Model,
		FinishReason:  mapAnthropicStopReason(string(msg.StopReason)),
	}
	if resp.ID == "" {
		resp.ID = responseID("msg")
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Parts = append(resp.Parts, unified.ResponsePart{Type: unified.RespText, Text: block.Text})
		case "thinking":
			resp.Parts = append(resp.Parts, unified.ResponsePart{Type: unified.RespReasoning, Text: block.Thinking})
		case "tool_use":
			input := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					input = map[string]interface{}{unified.RawInputKey: string(block.Input)}
				}
			}
			resp.Parts = append(resp.Parts, unified.ResponsePart{
				Type:     unified.RespToolCall,
				ToolCall: &unified.ToolCall{ID: block.ID, Name: block.Name, Input: input},
			})
		}
	}

	resp.Usage = unified.Usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
	}
	if c := msg.Usage.CacheReadInputTokens; c > 0 {
		resp.Usage.CachedInputTokens = &c
	}
	return resp, nil
}

// Stream performs a streaming messages call, translating SSE events into
// neutral events.
func (a *AnthropicAdapter) Stream(ctx context.Context, call Call, emit Emit) error {
	client := a.client(call.Provider)
	stream := client.Messages.NewStreaming(ctx, a.buildParams(call))
	defer stream.Close()

	var (
		usage      unified.Usage
		finish     = unified.FinishOther
		blockIDs   = map[int64]string{} // content block index -> neutral id
		blockTypes = map[int64]string{}
		sawStop    bool
	)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			usage.InputTokens = event.Message.Usage.InputTokens
			if c := event.Message.Usage.CacheReadInputTokens; c > 0 {
				usage.CachedInputTokens = &c
			}

		case "content_block_start":
			idx := event.Index
			switch event.ContentBlock.Type {
			case "text":
				id := "text_" + itoa64(idx)
				blockIDs[idx] = id
				blockTypes[idx] = "text"
				emit(unified.TextStart(id))
			case "thinking":
				id := "reasoning_" + itoa64(idx)
				blockIDs[idx] = id
				blockTypes[idx] = "thinking"
				emit(unified.ReasoningStart(id))
			case "tool_use":
				id := event.ContentBlock.ID
				if id == "" {
					id = "toolu_" + itoa64(idx)
				}
				blockIDs[idx] = id
				blockTypes[idx] = "tool_use"
				emit(unified.ToolInputStart(id, event.ContentBlock.Name))
			}

		case "content_block_delta":
			id, ok := blockIDs[event.Index]
			if !ok {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				emit(unified.TextDelta(id, event.Delta.Text))
			case "thinking_delta":
				emit(unified.ReasoningDelta(id, event.Delta.Thinking))
			case "input_json_delta":
				emit(unified.ToolInputDelta(id, event.Delta.PartialJSON))
			}

		case "content_block_stop":
			id, ok := blockIDs[event.Index]
			if !ok {
				continue
			}
			switch blockTypes[event.Index] {
			case "text":
				emit(unified.TextEnd(id))
			case "thinking":
				emit(unified.ReasoningEnd(id))
			case "tool_use":
				emit(unified.ToolInputEnd(id))
			}
			delete(blockIDs, event.Index)
			delete(blockTypes, event.Index)

		case "message_delta":
			if event.Delta.StopReason != "" {
				finish = mapAnthropicStopReason(string(event.Delta.StopReason))
			}
			if event.Usage.OutputTokens > 0 {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			sawStop = true
		}
	}
	if err := stream.Err(); err != nil && !sawStop {
		return a.classify(call.Provider.Name, err)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	emit(unified.Finish(finish, &usage))
	return nil
}

func mapAnthropicStopReason(r string) unified.FinishReason {
	switch r {
	case "end_turn", "stop_sequence":
		return unified.FinishStop
	case "max_tokens":
		return unified.FinishLength
	case "tool_use":
		return unified.FinishToolCalls
	case "refusal", "safety":
		return unified.FinishContentFilter
	case "":
		return unified.FinishOther
	default:
		return unified.FinishOther
	}
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
