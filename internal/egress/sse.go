// Package egress renders unified responses and stream events back into the
// wire format of the client's dialect.
package egress

import (
	"encoding/json"
	"fmt"
)

// Frame is one server-sent event. Event is empty for dialects that stream
// anonymous data-only frames.
type Frame struct {
	Event string
	Data  string
}

// Encode serializes the frame in SSE wire form, including the trailing
// blank line.
func (f Frame) Encode() string {
	if f.Event == "" {
		return fmt.Sprintf("data: %s\n\n", f.Data)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", f.Event, f.Data)
}

// DoneFrame is the OpenAI stream terminator.
var DoneFrame = Frame{Data: "[DONE]"}

// dataFrame marshals v into an anonymous data frame.
func dataFrame(v interface{}) Frame {
	b, _ := json.Marshal(v)
	return Frame{Data: string(b)}
}

// eventFrame marshals v into a named event frame.
func eventFrame(event string, v interface{}) Frame {
	b, _ := json.Marshal(v)
	return Frame{Event: event, Data: string(b)}
}
