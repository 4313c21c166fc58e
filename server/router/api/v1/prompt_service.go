package v1

import (
	"context"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/chatloom/chatloom/internal/rank"
	"github.com/chatloom/chatloom/server/auth"
	"github.com/chatloom/chatloom/server/chat"
	"github.com/chatloom/chatloom/store"
)

const (
	promptTitleMaxLen = 100
	promptBodyMaxLen  = 2000
)

// defaultPrompts are copied into each user's library on first use.
var defaultPrompts = []struct {
	Title  string
	Prompt string
}{
	{"Explain like I'm five", "Explain the following topic in simple terms a child could understand: "},
	{"Summarize", "Summarize the following text in a few bullet points: "},
	{"Improve writing", "Improve the clarity and style of the following text without changing its meaning: "},
	{"Brainstorm", "Brainstorm ten creative ideas about: "},
}

type promptView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Prompt    string `json:"prompt"`
	ModelID   string `json:"modelId,omitempty"`
	OrderKey  string `json:"orderKey"`
	IsDefault bool   `json:"isDefault"`
	CreatedTs int64  `json:"createdTs"`
}

// ListPrompts returns the caller's prompt library in display order, seeding
// the defaults on first use.
func (s *APIV1Service) ListPrompts(c echo.Context) error {
	session := auth.SessionFrom(c)
	ctx := c.Request().Context()

	prompts, err := s.Store.ListPrompts(ctx, &store.FindPrompt{UserID: &session.UserID})
	if err != nil {
		return httpError(err)
	}
	if len(prompts) == 0 {
		if prompts, err = s.seedDefaultPrompts(ctx, session.UserID); err != nil {
			return httpError(err)
		}
	}

	views := make([]promptView, 0, len(prompts))
	for _, p := range prompts {
		views = append(views, toPromptView(p))
	}
	return c.JSON(http.StatusOK, views)
}

type createPromptRequest struct {
	Title   string `json:"title"`
	Prompt  string `json:"prompt"`
	ModelID string `json:"modelId,omitempty"`
}

// CreatePrompt appends a prompt at the end of the caller's library.
func (s *APIV1Service) CreatePrompt(c echo.Context) error {
	session := auth.SessionFrom(c)
	ctx := c.Request().Context()

	var body createPromptRequest
	if err := c.Bind(&body); err != nil {
		return httpError(&chat.ValidationError{Detail: "malformed request body"})
	}
	if err := validatePromptFields(body.Title, body.Prompt); err != nil {
		return httpError(err)
	}

	last, err := s.lastOrderKey(ctx, session.UserID)
	if err != nil {
		return httpError(err)
	}
	orderKey, err := rank.Between(last, "")
	if err != nil {
		return httpError(err)
	}

	prompt, err := s.Store.CreatePrompt(ctx, &store.Prompt{
		ID:        newID(),
		UserID:    session.UserID,
		Title:     body.Title,
		Prompt:    body.Prompt,
		ModelID:   body.ModelID,
		OrderKey:  orderKey,
		CreatedTs: time.Now().UnixMicro(),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toPromptView(prompt))
}

type updatePromptRequest struct {
	Title   *string `json:"title"`
	Prompt  *string `json:"prompt"`
	ModelID *string `json:"modelId"`
}

// UpdatePrompt edits a prompt's content.
func (s *APIV1Service) UpdatePrompt(c echo.Context) error {
	session := auth.SessionFrom(c)
	ctx := c.Request().Context()

	var body updatePromptRequest
	if err := c.Bind(&body); err != nil {
		return httpError(&chat.ValidationError{Detail: "malformed request body"})
	}
	if body.Title != nil {
		if n := utf8.RuneCountInString(*body.Title); n < 1 || n > promptTitleMaxLen {
			return httpError(invalidField("title", "must be 1-100 characters"))
		}
	}
	if body.Prompt != nil {
		if n := utf8.RuneCountInString(*body.Prompt); n < 1 || n > promptBodyMaxLen {
			return httpError(invalidField("prompt", "must be 1-2000 characters"))
		}
	}

	if _, err := s.ownedPrompt(ctx, c.Param("promptID"), session.UserID); err != nil {
		return httpError(err)
	}

	updated, err := s.Store.UpdatePrompt(ctx, &store.UpdatePrompt{
		ID:      c.Param("promptID"),
		Title:   body.Title,
		Prompt:  body.Prompt,
		ModelID: body.ModelID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toPromptView(updated))
}

// DeletePrompt removes a prompt from the caller's library.
func (s *APIV1Service) DeletePrompt(c echo.Context) error {
	session := auth.SessionFrom(c)
	ctx := c.Request().Context()

	if _, err := s.ownedPrompt(ctx, c.Param("promptID"), session.UserID); err != nil {
		return httpError(err)
	}
	if err := s.Store.DeletePrompt(ctx, &store.DeletePrompt{ID: c.Param("promptID")}); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type movePromptRequest struct {
	AfterID  string `json:"afterId,omitempty"`
	BeforeID string `json:"beforeId,omitempty"`
}

// MovePrompt reorders one prompt between two neighbors. Only the moved row
// is rewritten: the new order key is synthesized strictly between the
// neighbors' keys.
func (s *APIV1Service) MovePrompt(c echo.Context) error {
	session := auth.SessionFrom(c)
	ctx := c.Request().Context()

	var body movePromptRequest
	if err := c.Bind(&body); err != nil {
		return httpError(&chat.ValidationError{Detail: "malformed request body"})
	}

	if _, err := s.ownedPrompt(ctx, c.Param("promptID"), session.UserID); err != nil {
		return httpError(err)
	}

	afterKey, err := s.neighborKey(ctx, body.AfterID, session.UserID)
	if err != nil {
		return httpError(err)
	}
	beforeKey, err := s.neighborKey(ctx, body.BeforeID, session.UserID)
	if err != nil {
		return httpError(err)
	}

	orderKey, err := rank.Between(afterKey, beforeKey)
	if err != nil {
		return httpError(invalidField("afterId/beforeId", err.Error()))
	}

	updated, err := s.Store.UpdatePrompt(ctx, &store.UpdatePrompt{
		ID:       c.Param("promptID"),
		OrderKey: &orderKey,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toPromptView(updated))
}

func (s *APIV1Service) seedDefaultPrompts(ctx context.Context, userID string) ([]*store.Prompt, error) {
	var seeded []*store.Prompt
	orderKey := rank.Initial()
	for _, d := range defaultPrompts {
		prompt, err := s.Store.CreatePrompt(ctx, &store.Prompt{
			ID:        newID(),
			UserID:    userID,
			Title:     d.Title,
			Prompt:    d.Prompt,
			OrderKey:  orderKey,
			IsDefault: true,
			CreatedTs: time.Now().UnixMicro(),
		})
		if err != nil {
			return nil, err
		}
		seeded = append(seeded, prompt)

		if orderKey, err = rank.Between(orderKey, ""); err != nil {
			return nil, err
		}
	}
	return seeded, nil
}

func (s *APIV1Service) lastOrderKey(ctx context.Context, userID string) (string, error) {
	prompts, err := s.Store.ListPrompts(ctx, &store.FindPrompt{UserID: &userID})
	if err != nil {
		return "", err
	}
	if len(prompts) == 0 {
		return "", nil
	}
	return prompts[len(prompts)-1].OrderKey, nil
}

// neighborKey resolves a neighbor prompt's order key; an empty id means the
// unbounded end.
func (s *APIV1Service) neighborKey(ctx context.Context, promptID, userID string) (string, error) {
	if promptID == "" {
		return "", nil
	}
	prompt, err := s.ownedPrompt(ctx, promptID, userID)
	if err != nil {
		return "", err
	}
	return prompt.OrderKey, nil
}

func (s *APIV1Service) ownedPrompt(ctx context.Context, promptID, userID string) (*store.Prompt, error) {
	prompts, err := s.Store.ListPrompts(ctx, &store.FindPrompt{ID: &promptID})
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, chat.ErrChatNotFound
	}
	if prompts[0].UserID != userID {
		return nil, chat.ErrUnauthorized
	}
	return prompts[0], nil
}

func toPromptView(p *store.Prompt) promptView {
	return promptView{
		ID:        p.ID,
		Title:     p.Title,
		Prompt:    p.Prompt,
		ModelID:   p.ModelID,
		OrderKey:  p.OrderKey,
		IsDefault: p.IsDefault,
		CreatedTs: p.CreatedTs,
	}
}

func validatePromptFields(title, prompt string) error {
	if n := utf8.RuneCountInString(title); n < 1 || n > promptTitleMaxLen {
		return invalidField("title", "must be 1-100 characters")
	}
	if n := utf8.RuneCountInString(prompt); n < 1 || n > promptBodyMaxLen {
		return invalidField("prompt", "must be 1-2000 characters")
	}
	return nil
}
