package unified

// Dialect identifies a client-facing wire protocol.
type Dialect string

const (
	DialectOpenAIChat      Dialect = "openai-chat"
	DialectOpenAIResponses Dialect = "openai-responses"
	DialectAnthropic       Dialect = "anthropic-messages"
	DialectGemini          Dialect = "gemini"
)

// Role is the conversational role of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText     PartType = "text"
	PartFile     PartType = "file"
	PartImageURL PartType = "image-url"
	PartAudio    PartType = "audio"
)

// ContentPart is one ordered element of a system/user message.
// Exactly the fields matching Type are populated.
type ContentPart struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	MediaType string   `json:"media_type,omitempty"` // file, image (when decoded from a data URI)
	Data      string   `json:"data,omitempty"`       // base64 payload for file/audio/inline image
	Filename  string   `json:"filename,omitempty"`
	FileID    string   `json:"file_id,omitempty"` // provider-hosted file reference
	URL       string   `json:"url,omitempty"`     // remote image reference
	Format    string   `json:"format,omitempty"`  // audio format: wav, mp3
}

// ToolCall is an assistant-issued invocation of a declared tool.
// Input is the parsed JSON arguments; when the client sent arguments that
// did not parse, Input carries {"_raw": "<original string>"}.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// RawInputKey is the sentinel key used when tool arguments fail to parse.
const RawInputKey = "_raw"

// Message is the tagged variant over system/user/assistant/tool messages.
//
// System/User: Parts. Assistant: Text and/or ToolCalls, optionally Reasoning.
// Tool: ToolCallID, ToolName and either ToolOutputJSON or ToolOutputText.
type Message struct {
	Role Role `json:"role"`

	Parts []ContentPart `json:"parts,omitempty"`

	Text      string     `json:"text,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	ToolCallID     string      `json:"tool_call_id,omitempty"`
	ToolName       string      `json:"tool_name,omitempty"`
	ToolOutputJSON interface{} `json:"tool_output_json,omitempty"`
	ToolOutputText string      `json:"tool_output_text,omitempty"`
}

// TextMessage builds a single-part text message for the given role.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{{Type: PartText, Text: text}}}
}

// PlainText concatenates the textual parts of a system/user message, or
// returns the assistant text.
func (m *Message) PlainText() string {
	if m.Role == RoleAssistant {
		return m.Text
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Tool is a provider-neutral tool declaration.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// ToolChoiceMode enumerates the tool selection policies.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "specific"
)

// ToolChoice selects how the model may use tools. Name is set only for
// ToolChoiceSpecific.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}

// ResponseFormatType enumerates the structured output modes.
type ResponseFormatType string

const (
	FormatText       ResponseFormatType = "text"
	FormatJSONObject ResponseFormatType = "json_object"
	FormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat constrains the shape of the model output.
type ResponseFormat struct {
	Type        ResponseFormatType     `json:"type"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Strict      *bool                  `json:"strict,omitempty"`
}

// Sampling carries the optional generation parameters. Nil pointers mean
// the client did not set the parameter; they are omitted upstream.
type Sampling struct {
	MaxOutputTokens  *int64   `json:"max_output_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
}

// Request is the dialect-neutral representation of one inference call.
// It exists for the duration of a single client request and is owned
// exclusively by its handler.
type Request struct {
	Model           string          `json:"model"`
	Messages        []Message       `json:"messages"`
	Tools           []Tool          `json:"tools,omitempty"`
	ToolChoice      *ToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat  *ResponseFormat `json:"response_format,omitempty"`
	Sampling        Sampling        `json:"sampling"`
	Stream          bool            `json:"stream"`
	IncomingDialect Dialect         `json:"incoming_dialect"`
	RequestID       string          `json:"request_id"`
}

// LastUserText returns the concatenated text of the most recent user message,
// or "" when there is none.
func (r *Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].PlainText()
		}
	}
	return ""
}

// AllText concatenates every textual fragment across the conversation.
// Used for token estimation.
func (r *Request) AllText() string {
	var out string
	for i := range r.Messages {
		out += r.Messages[i].PlainText()
		out += r.Messages[i].Reasoning
		if r.Messages[i].ToolOutputText != "" {
			out += r.Messages[i].ToolOutputText
		}
	}
	return out
}

// FinishReason is the provider-neutral completion status.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishContentFilter FinishReason = "content-filter"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
)

// Usage carries token accounting. Pointer fields distinguish "provider did
// not report" from zero; downstream reporting must not substitute zero.
type Usage struct {
	InputTokens       int64  `json:"input_tokens"`
	OutputTokens      int64  `json:"output_tokens"`
	TotalTokens       int64  `json:"total_tokens"`
	CachedInputTokens *int64 `json:"cached_input_tokens,omitempty"`
	ReasoningTokens   *int64 `json:"reasoning_tokens,omitempty"`
}

// ResponsePartType identifies the kind of a response part.
type ResponsePartType string

const (
	RespText      ResponsePartType = "text"
	RespReasoning ResponsePartType = "reasoning-text"
	RespToolCall  ResponsePartType = "tool-call"
	RespSource    ResponsePartType = "source"
)

// ResponsePart is one ordered element of a model response.
type ResponsePart struct {
	Type     ResponsePartType `json:"type"`
	Text     string           `json:"text,omitempty"`
	ToolCall *ToolCall        `json:"tool_call,omitempty"`
	URL      string           `json:"url,omitempty"`
	Title    string           `json:"title,omitempty"`
}

// Response is the provider-neutral non-streaming result.
type Response struct {
	ID            string         `json:"id"`
	FinishReason  FinishReason   `json:"finish_reason"`
	Parts         []ResponsePart `json:"parts"`
	Usage         Usage          `json:"usage"`
	Provider      string         `json:"provider"`
	ProviderModel string         `json:"provider_model"`
}

// Text concatenates the plain text parts of the response.
func (r *Response) Text() string {
	var out string
	for _, p := range r.Parts {
		if p.Type == RespText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts in order.
func (r *Response) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, p := range r.Parts {
		if p.Type == RespToolCall && p.ToolCall != nil {
			out = append(out, *p.ToolCall)
		}
	}
	return out
}
