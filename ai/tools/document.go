package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatloom/chatloom/objectstore"
)

// Document is a model-authored artifact kept in object storage.
type Document struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	UpdatedTs int64  `json:"updatedTs"`
}

// DocumentStore persists documents created by tools.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *Document) error
	LoadDocument(ctx context.Context, userID, id string) (*Document, error)
}

// ObjectDocumentStore keeps documents as JSON objects in the attachment
// bucket under a documents/ prefix.
type ObjectDocumentStore struct {
	objects objectstore.Client
}

func NewObjectDocumentStore(objects objectstore.Client) *ObjectDocumentStore {
	return &ObjectDocumentStore{objects: objects}
}

func documentKey(userID, id string) string {
	return fmt.Sprintf("documents/%s/%s.json", userID, id)
}

func (s *ObjectDocumentStore) SaveDocument(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return objectstore.PutBytes(ctx, s.objects, documentKey(doc.UserID, doc.ID), data, "application/json")
}

func (s *ObjectDocumentStore) LoadDocument(ctx context.Context, userID, id string) (*Document, error) {
	r, err := s.objects.Get(ctx, documentKey(userID, id))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

// CreateDocumentTool writes a fresh document. The model supplies a title;
// the body is generated and streamed back as progress so clients can render
// it while the tool is still running.
type CreateDocumentTool struct {
	gen  GenerateFunc
	docs DocumentStore
}

func NewCreateDocumentTool(gen GenerateFunc, docs DocumentStore) *CreateDocumentTool {
	return &CreateDocumentTool{gen: gen, docs: docs}
}

func (t *CreateDocumentTool) Name() string { return "create_document" }

func (t *CreateDocumentTool) Description() string {
	return "Create a document for writing or content creation tasks. Use for substantial content the user will want to keep or edit."
}

func (t *CreateDocumentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Document title"}
		},
		"required": ["title"],
		"additionalProperties": false
	}`)
}

func (t *CreateDocumentTool) Execute(ctx context.Context, input json.RawMessage, cc *ChatContext) json.RawMessage {
	var args struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorOutput(fmt.Errorf("invalid input: %w", err))
	}
	if args.Title == "" {
		return errorOutput(fmt.Errorf("title is required"))
	}
	if t.docs == nil {
		return errorOutput(fmt.Errorf("document storage is not configured"))
	}

	id := uuid.NewString()
	cc.emit("document-created", map[string]string{"id": id, "title": args.Title})

	content, err := t.gen(ctx, "Write a well-structured markdown document titled "+
		fmt.Sprintf("%q", args.Title)+". Respond with the document body only.")
	if err != nil {
		return errorOutput(fmt.Errorf("document generation failed: %w", err))
	}
	cc.emit("document-delta", map[string]string{"id": id, "content": content})

	doc := &Document{
		ID:        id,
		UserID:    cc.UserID,
		Title:     args.Title,
		Content:   content,
		UpdatedTs: time.Now().Unix(),
	}
	if err := t.docs.SaveDocument(ctx, doc); err != nil {
		return errorOutput(fmt.Errorf("document save failed: %w", err))
	}

	return mustMarshal(map[string]string{
		"id":    id,
		"title": args.Title,
		"state": "created",
	})
}

// UpdateDocumentTool rewrites an existing document per the model's
// instructions.
type UpdateDocumentTool struct {
	gen  GenerateFunc
	docs DocumentStore
}

func NewUpdateDocumentTool(gen GenerateFunc, docs DocumentStore) *UpdateDocumentTool {
	return &UpdateDocumentTool{gen: gen, docs: docs}
}

func (t *UpdateDocumentTool) Name() string { return "update_document" }

func (t *UpdateDocumentTool) Description() string {
	return "Update an existing document with the given description of changes."
}

func (t *UpdateDocumentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Document id"},
			"description": {"type": "string", "description": "What to change"}
		},
		"required": ["id", "description"],
		"additionalProperties": false
	}`)
}

func (t *UpdateDocumentTool) Execute(ctx context.Context, input json.RawMessage, cc *ChatContext) json.RawMessage {
	var args struct {
		ID          string `json:"id"`
		Description string `json:"description"`
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

	content, err := t.gen(ctx, fmt.Sprintf(
		"Rewrite the following markdown document applying this change: %s\n\n---\n%s\n---\n\nRespond with the full updated document body only.",
		args.Description, doc.Content))
	if err != nil {
		return errorOutput(fmt.Errorf("document update failed: %w", err))
	}
	cc.emit("document-delta", map[string]string{"id": doc.ID, "content": content})

	doc.Content = content
	doc.UpdatedTs = time.Now().Unix()
	if err := t.docs.SaveDocument(ctx, doc); err != nil {
		return errorOutput(fmt.Errorf("document save failed: %w", err))
	}

	return mustMarshal(map[string]string{
		"id":    doc.ID,
		"title": doc.Title,
		"state": "updated",
	})
}
