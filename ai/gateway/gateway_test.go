package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWords(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"hello world", []string{"hello ", "world"}},
		{"a b c", []string{"a ", "b ", "c"}},
		{"a  b", []string{"a  ", "b"}},
		{" lead", []string{" ", "lead"}},
		{"trail ", []string{"trail "}},
		{"line\nbreak\ttab", []string{"line\n", "break\t", "tab"}},
	}
	for _, tt := range tests {
		got := splitWords(tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		// Splitting never changes the content, only the chunking.
		assert.Equal(t, tt.input, strings.Join(got, ""))
	}
}

func TestLookupModel(t *testing.T) {
	m := LookupModel(DefaultModelID)
	require.NotNil(t, m)
	assert.Equal(t, DefaultModelID, m.ID)
	assert.True(t, m.SupportsTools)

	reasoning := LookupModel(ReasoningModelID)
	require.NotNil(t, reasoning)
	assert.True(t, reasoning.SupportsReasoning)
	assert.False(t, reasoning.SupportsTools)

	assert.Nil(t, LookupModel("no-such-model"))
}

func TestUpstreamNameFallsBackToOpenAI(t *testing.T) {
	m := LookupModel(DefaultModelID)
	require.NotNil(t, m)

	openaiName := m.UpstreamName("openai")
	assert.NotEmpty(t, openaiName)
	assert.Equal(t, openaiName, m.UpstreamName("unknown-provider"))
}

func TestConvertMessagesCarriesToolCalls(t *testing.T) {
	msgs := convertMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Name: "get_weather", Arguments: `{"lat":1}`}}},
		{Role: "tool", Content: `{"temp":20}`, ToolCallID: "c1"},
	})
	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "get_weather", msgs[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
}
