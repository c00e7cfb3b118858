package unified

// StreamEventType enumerates the provider-neutral streaming vocabulary
// consumed by the egress transducers.
type StreamEventType string

const (
	EventTextStart      StreamEventType = "text-start"
	EventTextDelta      StreamEventType = "text-delta"
	EventTextEnd        StreamEventType = "text-end"
	EventReasoningStart StreamEventType = "reasoning-start"
	EventReasoningDelta StreamEventType = "reasoning-delta"
	EventReasoningEnd   StreamEventType = "reasoning-end"
	EventToolInputStart StreamEventType = "tool-input-start"
	EventToolInputDelta StreamEventType = "tool-input-delta"
	EventToolInputEnd   StreamEventType = "tool-input-end"
	EventFinish         StreamEventType = "finish"
	EventError          StreamEventType = "error"
	EventAbort          StreamEventType = "abort"
)

// StreamEvent is one element of the neutral event stream. ID scopes deltas
// to their enclosing block; it is opaque to the consumer but round-trips
// within a single stream. For every block id the sequence satisfies
// start delta* end, and finish occurs at most once, after all blocks closed.
type StreamEvent struct {
	Type StreamEventType

	// Block identity; set for all block-scoped events.
	ID string

	// Text payload for text-delta / reasoning-delta.
	Text string

	// Tool metadata for tool-input-start.
	ToolName string

	// Raw JSON argument fragment for tool-input-delta.
	Delta string

	// Terminal payload for finish.
	FinishReason FinishReason
	Usage        *Usage

	// Error payload for error events.
	Err error
}

// TextStart returns a text block opener.
func TextStart(id string) StreamEvent { return StreamEvent{Type: EventTextStart, ID: id} }

// TextDelta returns a text fragment event.
func TextDelta(id, text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, ID: id, Text: text}
}

// TextEnd returns a text block closer.
func TextEnd(id string) StreamEvent { return StreamEvent{Type: EventTextEnd, ID: id} }

// ReasoningStart returns a reasoning block opener.
func ReasoningStart(id string) StreamEvent { return StreamEvent{Type: EventReasoningStart, ID: id} }

// ReasoningDelta returns a reasoning fragment event.
func ReasoningDelta(id, text string) StreamEvent {
	return StreamEvent{Type: EventReasoningDelta, ID: id, Text: text}
}

// ReasoningEnd returns a reasoning block closer.
func ReasoningEnd(id string) StreamEvent { return StreamEvent{Type: EventReasoningEnd, ID: id} }

// ToolInputStart opens a tool-call block.
func ToolInputStart(id, name string) StreamEvent {
	return StreamEvent{Type: EventToolInputStart, ID: id, ToolName: name}
}

// ToolInputDelta appends a JSON argument fragment to a tool-call block.
func ToolInputDelta(id, delta string) StreamEvent {
	return StreamEvent{Type: EventToolInputDelta, ID: id, Delta: delta}
}

// ToolInputEnd closes a tool-call block.
func ToolInputEnd(id string) StreamEvent { return StreamEvent{Type: EventToolInputEnd, ID: id} }

// Finish returns the terminal event.
func Finish(reason FinishReason, usage *Usage) StreamEvent {
	return StreamEvent{Type: EventFinish, FinishReason: reason, Usage: usage}
}

// Abort returns the client-cancellation event.
func Abort() StreamEvent { return StreamEvent{Type: EventAbort} }

// ErrorEvent returns a stream error event.
func ErrorEvent(err error) StreamEvent { return StreamEvent{Type: EventError, Err: err} }
