package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Role is the author role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is one turn entry in a chat. Messages are immutable once written;
// the edit-and-regenerate flow replaces them via truncation instead.
// CreatedTs is in microseconds and strictly increasing per chat, which keeps
// truncate-after semantics well-defined.
type Message struct {
	ID          string
	ChatID      string
	Role        Role
	Parts       []ContentPart
	Attachments []AttachmentRef
	CreatedTs   int64
}

type FindMessage struct {
	ID     *string
	ChatID *string
	Limit  *int
}

// AttachmentRef points at a file carried by a message. StorageKey is set only
// for attachments living in the managed object store; it is what cleanup
// deletes when the message or chat goes away.
type AttachmentRef struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	StorageKey  string `json:"storageKey,omitempty"`
}

// PartType discriminates the closed ContentPart union.
type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeFile      PartType = "file"
	PartTypeReasoning PartType = "reasoning"
	PartTypeToolCall  PartType = "tool_call"
	PartTypeData      PartType = "data"
)

// ContentPart is one element of a message body. The union is closed: every
// variant carries its own typed payload and is decoded exactly once at the
// storage boundary.
type ContentPart interface {
	PartType() PartType
}

type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) PartType() PartType { return PartTypeText }

type FilePart struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType"`
	Filename  string `json:"filename,omitempty"`
}

func (FilePart) PartType() PartType { return PartTypeFile }

type ReasoningPart struct {
	Text string `json:"text"`
}

func (ReasoningPart) PartType() PartType { return PartTypeReasoning }

// ToolCallState tracks the lifecycle of a tool invocation. The state only
// moves forward within one message's lifetime.
type ToolCallState string

const (
	ToolCallInputStreaming  ToolCallState = "input_streaming"
	ToolCallInputAvailable  ToolCallState = "input_available"
	ToolCallOutputAvailable ToolCallState = "output_available"
)

var toolCallStateRank = map[ToolCallState]int{
	ToolCallInputStreaming:  0,
	ToolCallInputAvailable:  1,
	ToolCallOutputAvailable: 2,
}

// CanAdvanceTo reports whether a transition from s to next moves forward.
func (s ToolCallState) CanAdvanceTo(next ToolCallState) bool {
	return toolCallStateRank[next] >= toolCallStateRank[s]
}

type ToolCallPart struct {
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	State      ToolCallState   `json:"state"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

func (ToolCallPart) PartType() PartType { return PartTypeToolCall }

// Advance moves the call to next. Backward transitions are dropped,
// keeping the state machine forward-only.
func (p *ToolCallPart) Advance(next ToolCallState) {
	if p.State.CanAdvanceTo(next) {
		p.State = next
	}
}

// DataPart carries out-of-band metadata, such as which model produced a
// response and its token usage.
type DataPart struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (DataPart) PartType() PartType { return PartTypeData }

// partEnvelope is the wire shape for one serialized content part.
type partEnvelope struct {
	Type PartType        `json:"type"`
	Body json.RawMessage `json:"body"`
}

// MarshalContentParts serializes parts for a message body column.
func MarshalContentParts(parts []ContentPart) ([]byte, error) {
	envelopes := make([]partEnvelope, 0, len(parts))
	for _, part := range parts {
		body, err := json.Marshal(part)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal content part")
		}
		envelopes = append(envelopes, partEnvelope{Type: part.PartType(), Body: body})
	}
	return json.Marshal(envelopes)
}

// UnmarshalContentParts decodes a message body column back into the typed
// union. Unknown part types are an error: the union is closed.
func UnmarshalContentParts(data []byte) ([]ContentPart, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var envelopes []partEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal content parts")
	}

	parts := make([]ContentPart, 0, len(envelopes))
	for _, env := range envelopes {
		var part ContentPart
		switch env.Type {
		case PartTypeText:
			var p TextPart
			if err := json.Unmarshal(env.Body, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal text part")
			}
			part = p
		case PartTypeFile:
			var p FilePart
			if err := json.Unmarshal(env.Body, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal file part")
			}
			part = p
		case PartTypeReasoning:
			var p ReasoningPart
			if err := json.Unmarshal(env.Body, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal reasoning part")
			}
			part = p
		case PartTypeToolCall:
			var p ToolCallPart
			if err := json.Unmarshal(env.Body, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal tool call part")
			}
			part = p
		case PartTypeData:
			var p DataPart
			if err := json.Unmarshal(env.Body, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal data part")
			}
			part = p
		default:
			return nil, errors.Errorf("unknown content part type %q", env.Type)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// MarshalAttachments serializes attachment refs for storage.
func MarshalAttachments(refs []AttachmentRef) ([]byte, error) {
	if len(refs) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(refs)
}

// UnmarshalAttachments decodes an attachment column.
func UnmarshalAttachments(data []byte) ([]AttachmentRef, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var refs []AttachmentRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal attachments")
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs, nil
}

// PlainText concatenates the text parts of a message.
func (m *Message) PlainText() string {
	text := ""
	for _, part := range m.Parts {
		if p, ok := part.(TextPart); ok {
			text += p.Text
		}
	}
	return text
}
