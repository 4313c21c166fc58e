package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentPartsRoundtrip(t *testing.T) {
	parts := []ContentPart{
		ReasoningPart{Text: "thinking it over"},
		ToolCallPart{
			ToolName:   "get_weather",
			ToolCallID: "call-1",
			State:      ToolCallOutputAvailable,
			Input:      json.RawMessage(`{"latitude":52.5}`),
			Output:     json.RawMessage(`{"temperature":18.5}`),
		},
		TextPart{Text: "It is 18.5 degrees."},
		DataPart{Kind: "generation", Payload: json.RawMessage(`{"modelId":"chat-model"}`)},
	}

	raw, err := MarshalContentParts(parts)
	require.NoError(t, err)

	got, err := UnmarshalContentParts(raw)
	require.NoError(t, err)
	require.Len(t, got, len(parts))

	assert.Equal(t, ReasoningPart{Text: "thinking it over"}, got[0])
	tc, ok := got[1].(ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "get_weather", tc.ToolName)
	assert.Equal(t, ToolCallOutputAvailable, tc.State)
	assert.JSONEq(t, `{"temperature":18.5}`, string(tc.Output))
	assert.Equal(t, TextPart{Text: "It is 18.5 degrees."}, got[2])
	assert.Equal(t, PartTypeData, got[3].PartType())
}

func TestUnmarshalContentPartsRejectsUnknownType(t *testing.T) {
	raw := []byte(`[{"type":"hologram","body":{}}]`)
	_, err := UnmarshalContentParts(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown content part type")
}

func TestUnmarshalContentPartsEmpty(t *testing.T) {
	got, err := UnmarshalContentParts(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = UnmarshalContentParts([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestToolCallStateCanAdvanceTo(t *testing.T) {
	assert.True(t, ToolCallInputStreaming.CanAdvanceTo(ToolCallInputAvailable))
	assert.True(t, ToolCallInputAvailable.CanAdvanceTo(ToolCallOutputAvailable))
	assert.True(t, ToolCallInputStreaming.CanAdvanceTo(ToolCallInputStreaming))

	assert.False(t, ToolCallOutputAvailable.CanAdvanceTo(ToolCallInputAvailable))
	assert.False(t, ToolCallInputAvailable.CanAdvanceTo(ToolCallInputStreaming))
}

func TestToolCallPartAdvance(t *testing.T) {
	part := &ToolCallPart{State: ToolCallInputStreaming}

	part.Advance(ToolCallInputAvailable)
	assert.Equal(t, ToolCallInputAvailable, part.State)

	part.Advance(ToolCallOutputAvailable)
	assert.Equal(t, ToolCallOutputAvailable, part.State)

	// Backward transitions are ignored.
	part.Advance(ToolCallInputStreaming)
	assert.Equal(t, ToolCallOutputAvailable, part.State)
}

func TestMessagePlainText(t *testing.T) {
	msg := &Message{Parts: []ContentPart{
		ReasoningPart{Text: "ignored"},
		TextPart{Text: "Hello, "},
		DataPart{Kind: "generation"},
		TextPart{Text: "world."},
	}}
	assert.Equal(t, "Hello, world.", msg.PlainText())

	assert.Empty(t, (&Message{}).PlainText())
}

func TestAttachmentsRoundtrip(t *testing.T) {
	raw, err := MarshalAttachments(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	got, err := UnmarshalAttachments(raw)
	require.NoError(t, err)
	assert.Nil(t, got)

	refs := []AttachmentRef{{
		Name:        "notes.pdf",
		URL:         "https://files.example.com/notes.pdf",
		ContentType: "application/pdf",
		StorageKey:  "attachments/user-1/abc.pdf",
	}}
	raw, err = MarshalAttachments(refs)
	require.NoError(t, err)
	got, err = UnmarshalAttachments(raw)
	require.NoError(t, err)
	assert.Equal(t, refs, got)
}
