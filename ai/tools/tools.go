// Package tools implements the function-calling surface offered to chat
// models. Tool failures are data, not control flow: Execute returns an
// {"error": ...} payload instead of an error so a broken tool never aborts
// the generation turn.
package tools

import (
	"context"
	"encoding/json"

	"github.com/chatloom/chatloom/ai/gateway"
)

// ProgressFunc lets long-running tools publish intermediate output. Events
// are attached to the active tool call by the caller.
type ProgressFunc func(kind string, payload any)

// ChatContext carries per-turn identity and the progress sink into tools.
type ChatContext struct {
	UserID   string
	ChatID   string
	Progress ProgressFunc
}

func (c *ChatContext) emit(kind string, payload any) {
	if c != nil && c.Progress != nil {
		c.Progress(kind, payload)
	}
}

// Tool is one callable function.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage, cc *ChatContext) json.RawMessage
}

// GenerateFunc produces text from a prompt, used by tools that delegate
// writing work back to a model.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// Registry holds the toolset and selects it per model.
type Registry struct {
	tools []Tool
}

// NewRegistry wires the standard toolset.
func NewRegistry(gen GenerateFunc, docs DocumentStore) *Registry {
	return &Registry{
		tools: []Tool{
			NewWeatherTool(),
			NewCreateDocumentTool(gen, docs),
			NewUpdateDocumentTool(gen, docs),
			NewSuggestionsTool(gen, docs),
		},
	}
}

// ForModel returns the tools available to a model. Reasoning-only models
// get none.
func (r *Registry) ForModel(model *gateway.Model) []Tool {
	if model == nil || !model.SupportsTools {
		return nil
	}
	return r.tools
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) Tool {
	for _, t := range r.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Descriptors converts a toolset for the gateway.
func Descriptors(ts []Tool) []gateway.ToolDescriptor {
	out := make([]gateway.ToolDescriptor, len(ts))
	for i, t := range ts {
		out[i] = gateway.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return out
}

// errorOutput encodes a tool failure as a result payload.
func errorOutput(err error) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": err.Error()})
	return out
}

func mustMarshal(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return errorOutput(err)
	}
	return out
}
