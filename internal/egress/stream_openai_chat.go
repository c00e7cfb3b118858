package egress

import (
	"time"

	"github.com/mcowger/plexus/internal/unified"
)

// ChatTransducer converts neutral stream events into Chat Completions
// chunks. Frames are anonymous data frames; the caller appends DoneFrame
// after Finish returns true.
type ChatTransducer struct {
	streamID string
	created  int64
	model    string

	sentRole          bool
	nextToolCallIndex int
	toolIndexes       map[string]int
	finished          bool
}

// NewChatTransducer builds a transducer for one stream.
func NewChatTransducer(streamID, model string) *ChatTransducer {
	return &ChatTransducer{
		streamID:    streamID,
		created:     time.Now().Unix(),
		model:       model,
		toolIndexes: map[string]int{},
	}
}

// Finished reports whether the terminal chunk has been emitted.
func (t *ChatTransducer) Finished() bool { return t.finished }

func (t *ChatTransducer) chunk(delta map[string]interface{}, finishReason interface{}, usage map[string]interface{}) Frame {
	body := map[string]interface{}{
		"id":      t.streamID,
		"object":  "chat.completion.chunk",
		"created": t.created,
		"model":   t.model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	if usage != nil {
		body["usage"] = usage
	}
	return dataFrame(body)
}

// Push consumes one neutral event and returns the frames it produces.
func (t *ChatTransducer) Push(ev unified.StreamEvent) []Frame {
	if t.finished {
		return nil
	}
	switch ev.Type {
	case unified.EventTextStart, unified.EventReasoningStart,
		unified.EventTextEnd, unified.EventReasoningEnd, unified.EventToolInputEnd:
		// Chat chunks carry no block framing.
		return nil

	case unified.EventTextDelta, unified.EventReasoningDelta:
		var frames []Frame
		if !t.sentRole {
			t.sentRole = true
			frames = append(frames, t.chunk(map[string]interface{}{"role": "assistant"}, nil, nil))
		}
		if ev.Type == unified.EventReasoningDelta {
			frames = append(frames, t.chunk(map[string]interface{}{"reasoning_content": ev.Text}, nil, nil))
		} else {
			frames = append(frames, t.chunk(map[string]interface{}{"content": ev.Text}, nil, nil))
		}
		return frames

	case unified.EventToolInputStart:
		var frames []Frame
		if !t.sentRole {
			t.sentRole = true
			frames = append(frames, t.chunk(map[string]interface{}{"role": "assistant"}, nil, nil))
		}
		idx := t.nextToolCallIndex
		t.nextToolCallIndex++
		t.toolIndexes[ev.ID] = idx
		frames = append(frames, t.chunk(map[string]interface{}{
			"tool_calls": []map[string]interface{}{{
				"index": idx,
				"id":    ev.ID,
				"type":  "function",
				"function": map[string]interface{}{
					"name":      ev.ToolName,
					"arguments": "",
				},
			}},
		}, nil, nil))
		return frames

	case unified.EventToolInputDelta:
		idx, ok := t.toolIndexes[ev.ID]
		if !ok {
			return nil
		}
		return []Frame{t.chunk(map[string]interface{}{
			"tool_calls": []map[string]interface{}{{
				"index":    idx,
				"function": map[string]interface{}{"arguments": ev.Delta},
			}},
		}, nil, nil)}

	case unified.EventFinish:
		t.finished = true
		var usage map[string]interface{}
		if ev.Usage != nil {
			usage = openaiUsage(*ev.Usage)
		}
		return []Frame{t.chunk(map[string]interface{}{}, openaiFinishReason(ev.FinishReason), usage)}

	case unified.EventError, unified.EventAbort:
		t.finished = true
		return []Frame{t.chunk(map[string]interface{}{}, "stop", nil)}
	}
	return nil
}
