package egress

import (
	"github.com/mcowger/plexus/internal/unified"
)

type anthropicBlock struct {
	index     int
	blockType string // text, thinking, tool_use
}

// AnthropicTransducer converts neutral stream events into Anthropic
// Messages named SSE events. message_start is deferred until the first
// event so input token counts can ride along when the provider reports
// them early.
type AnthropicTransducer struct {
	messageID string
	model     string

	nextBlockIndex   int
	activeBlocks     map[string]*anthropicBlock
	inputTokens      int64
	outputTokens     int64
	sentMessageStart bool
	finished         bool
}

// NewAnthropicTransducer builds a transducer for one stream.
func NewAnthropicTransducer(messageID, model string) *AnthropicTransducer {
	return &AnthropicTransducer{
		messageID:    messageID,
		model:        model,
		activeBlocks: map[string]*anthropicBlock{},
	}
}

// Finished reports whether message_stop has been emitted.
func (t *AnthropicTransducer) Finished() bool { return t.finished }

func (t *AnthropicTransducer) messageStart() []Frame {
	if t.sentMessageStart {
		return nil
	}
	t.sentMessageStart = true
	return []Frame{eventFrame("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]interface{}{
				"input_tokens":  t.inputTokens,
				"output_tokens": 0,
			},
		},
	})}
}

func (t *AnthropicTransducer) blockStart(neutralID, blockType string, block map[string]interface{}) []Frame {
	frames := t.messageStart()
	b := &anthropicBlock{index: t.nextBlockIndex, blockType: blockType}
	t.nextBlockIndex++
	t.activeBlocks[neutralID] = b
	block["type"] = blockType
	frames = append(frames, eventFrame("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         b.index,
		"content_block": block,
	}))
	return frames
}

func (t *AnthropicTransducer) blockDelta(neutralID string, delta map[string]interface{}) []Frame {
	b, ok := t.activeBlocks[neutralID]
	if !ok {
		return nil
	}
	return []Frame{eventFrame("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": b.index,
		"delta": delta,
	})}
}

func (t *AnthropicTransducer) terminate(stopReason string) []Frame {
	t.finished = true
	frames := t.messageStart()
	frames = append(frames,
		eventFrame("message_delta", map[string]interface{}{
			"type": "message_delta",
			"delta": map[string]interface{}{
				"stop_reason":   stopReason,
				"stop_sequence": nil,
			},
			"usage": map[string]interface{}{"output_tokens": t.outputTokens},
		}),
		eventFrame("message_stop", map[string]interface{}{"type": "message_stop"}),
	)
	return frames
}

// Push consumes one neutral event and returns the frames it produces.
func (t *AnthropicTransducer) Push(ev unified.StreamEvent) []Frame {
	if t.finished {
		return nil
	}
	switch ev.Type {
	case unified.EventTextStart:
		return t.blockStart(ev.ID, "text", map[string]interface{}{"text": ""})

	case unified.EventReasoningStart:
		return t.blockStart(ev.ID, "thinking", map[string]interface{}{"thinking": ""})

	case unified.EventToolInputStart:
		return t.blockStart(ev.ID, "tool_use", map[string]interface{}{
			"id":    ev.ID,
			"name":  ev.ToolName,
			"input": map[string]interface{}{},
		})

	case unified.EventTextDelta:
		frames := t.messageStart()
		return append(frames, t.blockDelta(ev.ID, map[string]interface{}{"type": "text_delta", "text": ev.Text})...)

	case unified.EventReasoningDelta:
		frames := t.messageStart()
		return append(frames, t.blockDelta(ev.ID, map[string]interface{}{"type": "thinking_delta", "thinking": ev.Text})...)

	case unified.EventToolInputDelta:
		frames := t.messageStart()
		return append(frames, t.blockDelta(ev.ID, map[string]interface{}{"type": "input_json_delta", "partial_json": ev.Delta})...)

	case unified.EventTextEnd, unified.EventReasoningEnd, unified.EventToolInputEnd:
		b, ok := t.activeBlocks[ev.ID]
		if !ok {
			return nil
		}
		delete(t.activeBlocks, ev.ID)
		frames := t.messageStart()
		return append(frames, eventFrame("content_block_stop", map[string]interface{}{
			"type":  "content_block_stop",
			"index": b.index,
		}))

	case unified.EventFinish:
		if ev.Usage != nil {
			t.inputTokens = ev.Usage.InputTokens
			t.outputTokens = ev.Usage.OutputTokens
		}
		return t.terminate(anthropicStopReason(ev.FinishReason))

	case unified.EventError, unified.EventAbort:
		return t.terminate("end_turn")
	}
	return nil
}
