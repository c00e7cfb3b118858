package egress

import (
	"github.com/mcowger/plexus/internal/unified"
)

// GeminiTransducer converts neutral stream events into streamGenerateContent
// chunks. Gemini streams anonymous data frames, each a GenerateContentResponse
// carrying partial candidate content; tool-call arguments are buffered until
// the block closes because a functionCall part must carry complete args.
type GeminiTransducer struct {
	model string

	pendingTools map[string]*geminiToolAcc
	finished     bool
}

type geminiToolAcc struct {
	name    string
	accArgs string
}

// NewGeminiTransducer builds a transducer for one stream.
func NewGeminiTransducer(model string) *GeminiTransducer {
	return &GeminiTransducer{model: model, pendingTools: map[string]*geminiToolAcc{}}
}

// Finished reports whether the terminal chunk has been emitted.
func (t *GeminiTransducer) Finished() bool { return t.finished }

func (t *GeminiTransducer) chunk(parts []map[string]interface{}, finishReason string, usage map[string]interface{}) Frame {
	candidate := map[string]interface{}{
		"content": map[string]interface{}{"role": "model", "parts": parts},
		"index":   0,
	}
	if finishReason != "" {
		candidate["finishReason"] = finishReason
	}
	body := map[string]interface{}{
		"candidates":   []map[string]interface{}{candidate},
		"modelVersion": t.model,
	}
	if usage != nil {
		body["usageMetadata"] = usage
	}
	return dataFrame(body)
}

// Push consumes one neutral event and returns the frames it produces.
func (t *GeminiTransducer) Push(ev unified.StreamEvent) []Frame {
	if t.finished {
		return nil
	}
	switch ev.Type {
	case unified.EventTextDelta:
		return []Frame{t.chunk([]map[string]interface{}{{"text": ev.Text}}, "", nil)}

	case unified.EventReasoningDelta:
		return []Frame{t.chunk([]map[string]interface{}{{"text": ev.Text, "thought": true}}, "", nil)}

	case unified.EventToolInputStart:
		t.pendingTools[ev.ID] = &geminiToolAcc{name: ev.ToolName}
		return nil

	case unified.EventToolInputDelta:
		if acc, ok := t.pendingTools[ev.ID]; ok {
			acc.accArgs += ev.Delta
		}
		return nil

	case unified.EventToolInputEnd:
		acc, ok := t.pendingTools[ev.ID]
		if !ok {
			return nil
		}
		delete(t.pendingTools, ev.ID)
		args := parseArgsObject(acc.accArgs)
		return []Frame{t.chunk([]map[string]interface{}{{
			"functionCall": map[string]interface{}{"name": acc.name, "args": args},
		}}, "", nil)}

	case unified.EventFinish:
		t.finished = true
		var usage map[string]interface{}
		if ev.Usage != nil {
			usage = map[string]interface{}{
				"promptTokenCount":     ev.Usage.InputTokens,
				"candidatesTokenCount": ev.Usage.OutputTokens,
				"totalTokenCount":      ev.Usage.TotalTokens,
			}
			if ev.Usage.ReasoningTokens != nil {
				usage["thoughtsTokenCount"] = *ev.Usage.ReasoningTokens
			}
		}
		return []Frame{t.chunk([]map[string]interface{}{}, geminiFinishReason(ev.FinishReason), usage)}

	case unified.EventError, unified.EventAbort:
		t.finished = true
		return []Frame{t.chunk([]map[string]interface{}{}, "OTHER", nil)}
	}
	return nil
}
