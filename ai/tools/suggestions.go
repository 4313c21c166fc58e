package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SuggestionsTool proposes edits for a document.
type SuggestionsTool struct {
	gen  GenerateFunc
	docs DocumentStore
}

func NewSuggestionsTool(gen GenerateFunc, docs DocumentStore) *SuggestionsTool {
	return &SuggestionsTool{gen: gen, docs: docs}
}

func (t *SuggestionsTool) Name() string { return "request_suggestions" }

func (t *SuggestionsTool) Description() string {
	return "Request writing suggestions for an existing document."
}

func (t *SuggestionsTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Document id"}
		},
		"required": ["id"],
		"additionalProperties": false
	}`)
}

func (t *SuggestionsTool) Execute(ctx context.Context, input json.RawMessage, cc *ChatContext) json.RawMessage {
	var args struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorOutput(fmt.Errorf("invalid input: %w", err))
	}
	if t.docs == nil {
		return errorOutput(fmt.Errorf("document storage is not configured"))
	}

	doc, err := t.docs.LoadDocument(ctx, cc.UserID, args.ID)
	if err != nil {
		return errorOutput(fmt.Errorf("document %s not found: %w", args.ID, err))
	}

	raw, err := t.gen(ctx,
		"Give up to 5 concrete suggestions to improve the following markdown document. "+
			"One suggestion per line, no numbering.\n\n---\n"+doc.Content+"\n---")
	if err != nil {
		return errorOutput(fmt.Errorf("suggestion generation failed: %w", err))
	}

	var suggestions []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• "))
		if line != "" {
			suggestions = append(suggestions, line)
		}
		if len(suggestions) == 5 {
			break
		}
	}
	cc.emit("suggestions", map[string]any{"id": doc.ID, "suggestions": suggestions})

	return mustMarshal(map[string]any{
		"id":          doc.ID,
		"suggestions": suggestions,
	})
}
