package egress

import (
	"time"

	"github.com/mcowger/plexus/internal/unified"
)

type responsesItem struct {
	itemType    string // message, reasoning, function_call
	outputIndex int
	itemID      string
	callID      string
	name        string
	accText     string
	accArgs     string
}

// ResponsesTransducer converts neutral stream events into Responses API
// named SSE events.
type ResponsesTransducer struct {
	responseID string
	createdAt  int64
	model      string

	nextOutputIndex int
	sequence        int
	items           map[string]*responsesItem
	started         bool
	finished        bool
}

// NewResponsesTransducer builds a transducer for one stream.
func NewResponsesTransducer(responseID, model string) *ResponsesTransducer {
	return &ResponsesTransducer{
		responseID: responseID,
		createdAt:  time.Now().Unix(),
		model:      model,
		items:      map[string]*responsesItem{},
	}
}

// Finished reports whether response.completed has been emitted.
func (t *ResponsesTransducer) Finished() bool { return t.finished }

func (t *ResponsesTransducer) event(name string, payload map[string]interface{}) Frame {
	payload["type"] = name
	payload["sequence_number"] = t.sequence
	t.sequence++
	return eventFrame(name, payload)
}

func (t *ResponsesTransducer) responseObject(status string, usage map[string]interface{}) map[string]interface{} {
	obj := map[string]interface{}{
		"id":         t.responseID,
		"object":     "response",
		"created_at": t.createdAt,
		"status":     status,
		"model":      t.model,
		"output":     []interface{}{},
	}
	if usage != nil {
		obj["usage"] = usage
	}
	return obj
}

func (t *ResponsesTransducer) itemObject(it *responsesItem, done bool) map[string]interface{} {
	switch it.itemType {
	case "reasoning":
		var summary []map[string]interface{}
		if done {
			summary = []map[string]interface{}{{"type": "summary_text", "text": it.accText}}
		} else {
			summary = []map[string]interface{}{}
		}
		return map[string]interface{}{"id": it.itemID, "type": "reasoning", "summary": summary}
	case "function_call":
		status := "in_progress"
		if done {
			status = "completed"
		}
		return map[string]interface{}{
			"id":        it.itemID,
			"type":      "function_call",
			"status":    status,
			"call_id":   it.callID,
			"name":      it.name,
			"arguments": it.accArgs,
		}
	default:
		status := "in_progress"
		content := []map[string]interface{}{}
		if done {
			status = "completed"
			content = []map[string]interface{}{{
				"type":        "output_text",
				"text":        it.accText,
				"annotations": []interface{}{},
			}}
		}
		return map[string]interface{}{
			"id":      it.itemID,
			"type":    "message",
			"role":    "assistant",
			"status":  status,
			"content": content,
		}
	}
}

func (t *ResponsesTransducer) start() []Frame {
	if t.started {
		return nil
	}
	t.started = true
	return []Frame{t.event("response.created", map[string]interface{}{
		"response": t.responseObject("in_progress", nil),
	})}
}

func (t *ResponsesTransducer) addItem(neutralID, itemType, kind string, ev unified.StreamEvent) []Frame {
	it := &responsesItem{
		itemType:    itemType,
		outputIndex: t.nextOutputIndex,
		itemID:      itemID(t.responseID, kind, t.nextOutputIndex),
	}
	if itemType == "function_call" {
		it.callID = ev.ID
		it.name = ev.ToolName
	}
	t.nextOutputIndex++
	t.items[neutralID] = it
	return []Frame{t.event("response.output_item.added", map[string]interface{}{
		"output_index": it.outputIndex,
		"item":         t.itemObject(it, false),
	})}
}

func (t *ResponsesTransducer) doneItem(neutralID string) []Frame {
	it, ok := t.items[neutralID]
	if !ok {
		return nil
	}
	return []Frame{t.event("response.output_item.done", map[string]interface{}{
		"output_index": it.outputIndex,
		"item":         t.itemObject(it, true),
	})}
}

// Push consumes one neutral event and returns the frames it produces.
func (t *ResponsesTransducer) Push(ev unified.StreamEvent) []Frame {
	if t.finished {
		return nil
	}
	frames := t.start()

	switch ev.Type {
	case unified.EventTextStart:
		frames = append(frames, t.addItem(ev.ID, "message", "msg", ev)...)

	case unified.EventReasoningStart:
		frames = append(frames, t.addItem(ev.ID, "reasoning", "rs", ev)...)

	case unified.EventToolInputStart:
		frames = append(frames, t.addItem(ev.ID, "function_call", "fc", ev)...)

	case unified.EventTextDelta:
		if it, ok := t.items[ev.ID]; ok {
			it.accText += ev.Text
			frames = append(frames, t.event("response.output_text.delta", map[string]interface{}{
				"item_id":       it.itemID,
				"output_index":  it.outputIndex,
				"content_index": 0,
				"delta":         ev.Text,
			}))
		}

	case unified.EventReasoningDelta:
		if it, ok := t.items[ev.ID]; ok {
			it.accText += ev.Text
			frames = append(frames, t.event("response.reasoning_summary_text.delta", map[string]interface{}{
				"item_id":       it.itemID,
				"output_index":  it.outputIndex,
				"summary_index": 0,
				"delta":         ev.Text,
			}))
		}

	case unified.EventToolInputDelta:
		if it, ok := t.items[ev.ID]; ok {
			it.accArgs += ev.Delta
			frames = append(frames, t.event("response.function_call_arguments.delta", map[string]interface{}{
				"item_id":      it.itemID,
				"output_index": it.outputIndex,
				"delta":        ev.Delta,
			}))
		}

	case unified.EventTextEnd, unified.EventReasoningEnd, unified.EventToolInputEnd:
		frames = append(frames, t.doneItem(ev.ID)...)

	case unified.EventFinish:
		t.finished = true
		var usage map[string]interface{}
		if ev.Usage != nil {
			usage = responsesUsage(*ev.Usage)
		}
		status := "completed"
		if ev.FinishReason == unified.FinishLength || ev.FinishReason == unified.FinishContentFilter {
			status = "incomplete"
		}
		frames = append(frames, t.event("response.completed", map[string]interface{}{
			"response": t.responseObject(status, usage),
		}))

	case unified.EventError, unified.EventAbort:
		t.finished = true
		frames = append(frames, t.event("response.completed", map[string]interface{}{
			"response": t.responseObject("incomplete", nil),
		}))
	}
	return frames
}
