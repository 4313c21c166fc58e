package gateway

// Model describes one chat model offered to clients. The upstream name is
// what the provider API expects; the ID is the stable identifier clients send.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// SupportsTools gates function calling. Reasoning models run without
	// tools and surface their thinking as reasoning parts instead.
	SupportsTools     bool `json:"supportsTools"`
	SupportsReasoning bool `json:"supportsReasoning"`

	upstream map[string]string
}

const (
	DefaultModelID   = "chat-model"
	ReasoningModelID = "chat-model-reasoning"
)

var catalog = []*Model{
	{
		ID:            DefaultModelID,
		Name:          "Chat model",
		Description:   "General-purpose chat model with tool support",
		SupportsTools: true,
		upstream: map[string]string{
			"openai":      "gpt-4o",
			"deepseek":    "deepseek-chat",
			"openrouter":  "openai/gpt-4o",
			"siliconflow": "Qwen/Qwen2.5-72B-Instruct",
			"ollama":      "llama3.1",
		},
	},
	{
		ID:                ReasoningModelID,
		Name:              "Reasoning model",
		Description:       "Slower model that thinks before answering",
		SupportsReasoning: true,
		upstream: map[string]string{
			"openai":      "o3-mini",
			"deepseek":    "deepseek-reasoner",
			"openrouter":  "deepseek/deepseek-r1",
			"siliconflow": "deepseek-ai/DeepSeek-R1",
			"ollama":      "deepseek-r1",
		},
	},
}

// Models returns the full model catalog.
func Models() []*Model {
	return catalog
}

// LookupModel returns the catalog entry for id, or nil if unknown.
func LookupModel(id string) *Model {
	for _, m := range catalog {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// UpstreamName resolves the provider-specific model name. Unknown providers
// fall back to the OpenAI name since they speak the same protocol.
func (m *Model) UpstreamName(provider string) string {
	if name, ok := m.upstream[provider]; ok {
		return name
	}
	return m.upstream["openai"]
}
