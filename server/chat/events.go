package chat

import "encoding/json"

// EventType discriminates outbound stream events.
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"

	// Tool call lifecycle. Input streams in while the model writes the
	// arguments, becomes available when the call is complete, and output
	// follows after execution. Progress events carry tool sub-output.
	EventToolInputStreaming EventType = "tool-input-streaming"
	EventToolInputAvailable EventType = "tool-input-available"
	EventToolOutput         EventType = "tool-output-available"
	EventToolProgress       EventType = "tool-progress"

	// Out-of-band metadata such as chat title and usage accounting.
	EventData EventType = "data"

	// Terminal events. Exactly one of these ends every stream.
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one record of the outbound generation stream. Seq is assigned by
// the broker and strictly increases within a stream.
type Event struct {
	Seq  int64     `json:"seq"`
	Type EventType `json:"type"`

	// Delta carries incremental text for text and reasoning events.
	Delta string `json:"delta,omitempty"`

	// Tool call fields.
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// Data and tool progress payloads.
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Terminal fields.
	MessageID string `json:"messageId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// IsTerminal reports whether the event ends its stream.
func (e *Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func dataEvent(kind string, payload any) Event {
	raw, _ := json.Marshal(payload)
	return Event{Type: EventData, Kind: kind, Payload: raw}
}
