package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/unified"
)

// GeminiAdapter speaks the Gemini generateContent protocol through the
// genai SDK.
type GeminiAdapter struct{}

// NewGeminiAdapter builds the Gemini adapter.
func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) Type() config.ProviderType { return config.ProviderGemini }

func (a *GeminiAdapter) client(ctx context.Context, p *config.Provider) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  p.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, unified.WrapError(unified.ErrConfig, err, "gemini client for provider %s", p.Name)
	}
	return client, nil
}

func (a *GeminiAdapter) buildRequest(call Call) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content

	var systemText string
	for i := range call.Request.Messages {
		m := &call.Request.Messages[i]
		switch m.Role {
		case unified.RoleSystem:
			systemText += m.PlainText()

		case unified.RoleUser:
			content := &genai.Content{Role: "user"}
			for _, p := range m.Parts {
				switch p.Type {
				case unified.PartText:
					content.Parts = append(content.Parts, genai.NewPartFromText(p.Text))
				case unified.PartImageURL, unified.PartFile, unified.PartAudio:
					if p.Data != "" {
						// The blob wants raw bytes; the SDK re-encodes on the
						// wire, so passing the base64 text through would
						// double-encode it.
						raw, err := base64.StdEncoding.DecodeString(p.Data)
						if err != nil {
							logrus.WithField("part", string(p.Type)).Warn("invalid base64 inline data, part dropped")
							continue
						}
						content.Parts = append(content.Parts, &genai.Part{
							InlineData: &genai.Blob{MIMEType: geminiMIMEType(p), Data: raw},
						})
					} else if p.URL != "" {
						content.Parts = append(content.Parts, &genai.Part{
							FileData: &genai.FileData{MIMEType: p.MediaType, FileURI: p.URL},
						})
					}
				}
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}

		case unified.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if m.Reasoning != "" {
				part := genai.NewPartFromText(m.Reasoning)
				part.Thought = true
				content.Parts = append(content.Parts, part)
			}
			if m.Text != "" {
				content.Parts = append(content.Parts, genai.NewPartFromText(m.Text))
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Input},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}

		case unified.RoleTool:
			response := map[string]interface{}{}
			switch v := m.ToolOutputJSON.(type) {
			case map[string]interface{}:
				response = v
			case nil:
				response["result"] = m.ToolOutputText
			default:
				response["result"] = v
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.ToolName,
						Response: response,
					},
				}},
			})
		}
	}

	if systemText != "" {
		cfg.SystemInstruction = &genai.Content{
			Role:  "system",
			Parts: []*genai.Part{genai.NewPartFromText(systemText)},
		}
	}

	if len(call.Request.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(call.Request.Tools))
		for _, t := range call.Request.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
			if t.InputSchema != nil {
				var schema *genai.Schema
				if b, err := json.Marshal(t.InputSchema); err == nil {
					if json.Unmarshal(b, &schema) == nil {
						normalizeSchemaTypes(schema)
						decl.Parameters = schema
					}
				}
			}
			decls = append(decls, decl)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	if tc := call.Request.ToolChoice; tc != nil {
		fcc := &genai.FunctionCallingConfig{}
		switch tc.Mode {
		case unified.ToolChoiceNone:
			fcc.Mode = genai.FunctionCallingConfigModeNone
		case unified.ToolChoiceRequired:
			fcc.Mode = genai.FunctionCallingConfigModeAny
		case unified.ToolChoiceSpecific:
			fcc.Mode = genai.FunctionCallingConfigModeAny
			fcc.AllowedFunctionNames = []string{tc.Name}
		default:
			fcc.Mode = genai.FunctionCallingConfigModeAuto
		}
		cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: fcc}
	}

	if rf := call.Request.ResponseFormat; rf != nil {
		switch rf.Type {
		case unified.FormatJSONObject:
			cfg.ResponseMIMEType = "application/json"
		case unified.FormatJSONSchema:
			cfg.ResponseMIMEType = "application/json"
			if rf.Schema != nil {
				var schema *genai.Schema
				if b, err := json.Marshal(rf.Schema); err == nil {
					if json.Unmarshal(b, &schema) == nil {
						normalizeSchemaTypes(schema)
						cfg.ResponseSchema = schema
					}
				}
			}
		}
	}

	s := applyStripRules(call.Provider, call.Model, call.Request.Sampling)
	if s.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = int32(*s.MaxOutputTokens)
	}
	if s.Temperature != nil {
		temp := float32(*s.Temperature)
		cfg.Temperature = &temp
	}
	if s.TopP != nil {
		topP := float32(*s.TopP)
		cfg.TopP = &topP
	}
	if len(s.StopSequences) > 0 {
		cfg.StopSequences = s.StopSequences
	}

	return contents, cfg
}

func (a *GeminiAdapter) classify(provider string, err error) error {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return classifyStatus(provider, apierr.Code, 0, err)
	}
	return classifyTransport(provider, err)
}

// Complete performs a non-streaming generateContent call.
func (a *GeminiAdapter) Complete(ctx context.Context, call Call) (*unified.Response, error) {
	client, err := a.client(ctx, call.Provider)
	if err != nil {
		return nil, err
	}
	contents, cfg := a.buildRequest(call)
	result, err := client.Models.GenerateContent(ctx, call.Model, contents, cfg)
	if err != nil {
		return nil, a.classify(call.Provider.Name, err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, unified.NewError(unified.ErrUpstreamTransient, "provider %s returned no candidates", call.Provider.Name)
	}

	candidate := result.Candidates[0]
	resp := &unified.Response{
		ID:            responseID("gen"),
		Provider:      call.Provider.Name,
		ProviderModel: call.Model,
		FinishReason:  mapGeminiFinishReason(candidate),
	}

	callSeq := 0
	for _, part := range candidate.Content.Parts {
		switch {
		case part.Text != "":
			kind := unified.RespText
			if part.Thought {
				kind = unified.RespReasoning
			}
			resp.Parts = append(resp.Parts, unified.ResponsePart{Type: kind, Text: part.Text})
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + part.FunctionCall.Name + "_" + strconv.Itoa(callSeq)
			}
			callSeq++
			resp.Parts = append(resp.Parts, unified.ResponsePart{
				Type: unified.RespToolCall,
				ToolCall: &unified.ToolCall{
					ID:    id,
					Name:  part.FunctionCall.Name,
					Input: part.FunctionCall.Args,
				},
			})
		}
	}

	resp.Usage = geminiUsage(result)
	return resp, nil
}

// Stream performs a streaming generateContent call, translating chunks
// into neutral events.
func (a *GeminiAdapter) Stream(ctx context.Context, call Call, emit Emit) error {
	client, err := a.client(ctx, call.Provider)
	if err != nil {
		return err
	}
	contents, cfg := a.buildRequest(call)

	var (
		usage         unified.Usage
		finish        = unified.FinishOther
		textOpen      bool
		reasoningOpen bool
		callSeq       int
	)

	closeText := func() {
		if reasoningOpen {
			emit(unified.ReasoningEnd("reasoning_0"))
			reasoningOpen = false
		}
		if textOpen {
			emit(unified.TextEnd("text_0"))
			textOpen = false
		}
	}

	for chunk, err := range client.Models.GenerateContentStream(ctx, call.Model, contents, cfg) {
		if err != nil {
			return a.classify(call.Provider.Name, err)
		}
		if u := geminiUsage(chunk); u.TotalTokens > 0 {
			usage = u
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		candidate := chunk.Candidates[0]
		if candidate.FinishReason != "" {
			finish = mapGeminiFinishReason(candidate)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			switch {
			case part.Text != "" && part.Thought:
				if textOpen {
					emit(unified.TextEnd("text_0"))
					textOpen = false
				}
				if !reasoningOpen {
					reasoningOpen = true
					emit(unified.ReasoningStart("reasoning_0"))
				}
				emit(unified.ReasoningDelta("reasoning_0", part.Text))

			case part.Text != "":
				if reasoningOpen {
					emit(unified.ReasoningEnd("reasoning_0"))
					reasoningOpen = false
				}
				if !textOpen {
					textOpen = true
					emit(unified.TextStart("text_0"))
				}
				emit(unified.TextDelta("text_0", part.Text))

			case part.FunctionCall != nil:
				// Gemini emits complete calls, not argument fragments.
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + part.FunctionCall.Name + "_" + strconv.Itoa(callSeq)
				}
				callSeq++
				closeText()
				emit(unified.ToolInputStart(id, part.FunctionCall.Name))
				if b, err := json.Marshal(part.FunctionCall.Args); err == nil {
					emit(unified.ToolInputDelta(id, string(b)))
				}
				emit(unified.ToolInputEnd(id))
				if finish == unified.FinishOther {
					finish = unified.FinishToolCalls
				}
			}
		}
	}

	closeText()
	emit(unified.Finish(finish, &usage))
	return nil
}

func geminiMIMEType(p unified.ContentPart) string {
	if p.MediaType != "" {
		return p.MediaType
	}
	if p.Type == unified.PartAudio && p.Format != "" {
		return "audio/" + p.Format
	}
	return "application/octet-stream"
}

func geminiUsage(r *genai.GenerateContentResponse) unified.Usage {
	var u unified.Usage
	if r.UsageMetadata == nil {
		return u
	}
	u.InputTokens = int64(r.UsageMetadata.PromptTokenCount)
	u.OutputTokens = int64(r.UsageMetadata.CandidatesTokenCount)
	u.TotalTokens = int64(r.UsageMetadata.TotalTokenCount)
	if r.UsageMetadata.CachedContentTokenCount > 0 {
		c := int64(r.UsageMetadata.CachedContentTokenCount)
		u.CachedInputTokens = &c
	}
	if r.UsageMetadata.ThoughtsTokenCount > 0 {
		t := int64(r.UsageMetadata.ThoughtsTokenCount)
		u.ReasoningTokens = &t
	}
	return u
}

func mapGeminiFinishReason(c *genai.Candidate) unified.FinishReason {
	switch c.FinishReason {
	case genai.FinishReasonStop:
		// The final stream chunk can carry the finish reason with no content.
		if c.Content != nil {
			for _, part := range c.Content.Parts {
				if part.FunctionCall != nil {
					return unified.FinishToolCalls
				}
			}
		}
		return unified.FinishStop
	case genai.FinishReasonMaxTokens:
		return unified.FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonProhibitedContent:
		return unified.FinishContentFilter
	case "":
		return unified.FinishOther
	default:
		return unified.FinishOther
	}
}

// normalizeSchemaTypes uppercases JSON Schema type names, recursively,
// to match the genai schema enum.
func normalizeSchemaTypes(schema *genai.Schema) {
	if schema == nil {
		return
	}
	switch genai.Type(strings.ToUpper(string(schema.Type))) {
	case genai.TypeObject:
		schema.Type = genai.TypeObject
	case genai.TypeString:
		schema.Type = genai.TypeString
	case genai.TypeNumber:
		schema.Type = genai.TypeNumber
	case genai.TypeInteger:
		schema.Type = genai.TypeInteger
	case genai.TypeBoolean:
		schema.Type = genai.TypeBoolean
	case genai.TypeArray:
		schema.Type = genai.TypeArray
	case genai.TypeNULL:
		schema.Type = genai.TypeNULL
	}
	for _, prop := range schema.Properties {
		normalizeSchemaTypes(prop)
	}
	normalizeSchemaTypes(schema.Items)
	for _, anyOf := range schema.AnyOf {
		normalizeSchemaTypes(anyOf)
	}
}
