package v1

import (
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/chatloom/chatloom/ai/gateway"
	"github.com/chatloom/chatloom/server/auth"
	"github.com/chatloom/chatloom/server/chat"
	"github.com/chatloom/chatloom/store"
)

const (
	textPartMinLen = 1
	textPartMaxLen = 2000
	titleMaxLen    = 100
)

var allowedAttachmentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
}

type turnPart struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

type turnMessage struct {
	ID          string                `json:"id"`
	Role        string                `json:"role"`
	Parts       []turnPart            `json:"parts"`
	Attachments []store.AttachmentRef `json:"attachments,omitempty"`
}

type submitTurnRequest struct {
	Message                *turnMessage `json:"message"`
	SelectedChatModel      string       `json:"selectedChatModel"`
	SelectedVisibilityType string       `json:"selectedVisibilityType"`
}

type regenerateRequest struct {
	MessageID string `json:"messageId"`
	submitTurnRequest
}

type messageView struct {
	ID          string                `json:"id"`
	ChatID      string                `json:"chatId"`
	Role        store.Role            `json:"role"`
	Parts       json.RawMessage       `json:"parts"`
	Attachments []store.AttachmentRef `json:"attachments,omitempty"`
	CreatedTs   int64                 `json:"createdTs"`
}

type chatView struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Visibility store.Visibility `json:"visibility"`
	CreatedTs  int64            `json:"createdTs"`
}

// SubmitTurn accepts a user turn and answers with the generation event
// stream.
func (s *APIV1Service) SubmitTurn(c echo.Context) error {
	session := auth.SessionFrom(c)
	chatID := c.Param("chatID")

	var body submitTurnRequest
	if err := c.Bind(&body); err != nil {
		return httpError(&chat.ValidationError{Detail: "malformed request body"})
	}
	req, err := s.buildTurnRequest(chatID, session, &body)
	if err != nil {
		return httpError(err)
	}

	if !s.limiter.Allow(session.UserID) {
		return httpError(chat.ErrRateLimited)
	}

	events, unsubscribe, err := s.orchestrator.SubmitTurn(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	defer unsubscribe()
	return chat.ServeSSE(c, events)
}

// ResumeStream reattaches to an in-flight generation for the chat.
func (s *APIV1Service) ResumeStream(c echo.Context) error {
	session := auth.SessionFrom(c)
	events, unsubscribe, err := s.orchestrator.Resume(c.Request().Context(), c.Param("chatID"), session.UserID)
	if err != nil {
		return httpError(err)
	}
	defer unsubscribe()
	return chat.ServeSSE(c, events)
}

// StopStream cancels the chat's in-flight generation.
func (s *APIV1Service) StopStream(c echo.Context) error {
	session := auth.SessionFrom(c)
	if err := s.orchestrator.Stop(c.Request().Context(), c.Param("chatID"), session.UserID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"stopped": true})
}

// Regenerate truncates the chat at the edited message and re-runs the turn.
func (s *APIV1Service) Regenerate(c echo.Context) error {
	session := auth.SessionFrom(c)
	chatID := c.Param("chatID")

	var body regenerateRequest
	if err := c.Bind(&body); err != nil {
		return httpError(&chat.ValidationError{Detail: "malformed request body"})
	}
	if body.MessageID == "" {
		return httpError(&chat.ValidationError{Field: "messageId", Detail: "required"})
	}
	req, err := s.buildTurnRequest(chatID, session, &body.submitTurnRequest)
	if err != nil {
		return httpError(err)
	}

	if !s.limiter.Allow(session.UserID) {
		return httpError(chat.ErrRateLimited)
	}

	events, unsubscribe, err := s.orchestrator.EditAndRegenerate(c.Request().Context(), req, body.MessageID)
	if err != nil {
		return httpError(err)
	}
	defer unsubscribe()
	return chat.ServeSSE(c, events)
}

// ListChats returns the caller's visible chats, newest first.
func (s *APIV1Service) ListChats(c echo.Context) error {
	session := auth.SessionFrom(c)
	chats, err := s.Store.ListChats(c.Request().Context(), &store.FindChat{OwnerID: &session.UserID})
	if err != nil {
		return httpError(err)
	}

	views := make([]chatView, 0, len(chats))
	for _, ch := range chats {
		views = append(views, chatView{ID: ch.ID, Title: ch.Title, Visibility: ch.Visibility, CreatedTs: ch.CreatedTs})
	}
	return c.JSON(http.StatusOK, views)
}

// ListMessages returns the chat transcript in order.
func (s *APIV1Service) ListMessages(c echo.Context) error {
	session := auth.SessionFrom(c)
	chatID := c.Param("chatID")

	ch, err := s.readableChat(c, chatID, session)
	if err != nil {
		return httpError(err)
	}

	msgs, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{ChatID: &ch.ID})
	if err != nil {
		return httpError(err)
	}

	views := make([]messageView, 0, len(msgs))
	for _, msg := range msgs {
		parts, err := store.MarshalContentParts(msg.Parts)
		if err != nil {
			return httpError(err)
		}
		views = append(views, messageView{
			ID:          msg.ID,
			ChatID:      msg.ChatID,
			Role:        msg.Role,
			Parts:       parts,
			Attachments: msg.Attachments,
			CreatedTs:   msg.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, views)
}

type updateChatRequest struct {
	Title      *string           `json:"title"`
	Visibility *store.Visibility `json:"visibility"`
}

// UpdateChat renames a chat or changes its visibility.
func (s *APIV1Service) UpdateChat(c echo.Context) error {
	session := auth.SessionFrom(c)
	chatID := c.Param("chatID")

	var body updateChatRequest
	if err := c.Bind(&body); err != nil {
		return httpError(&chat.ValidationError{Detail: "malformed request body"})
	}
	if body.Title != nil {
		if n := utf8.RuneCountInString(*body.Title); n < 1 || n > titleMaxLen {
			return httpError(invalidField("title", "must be 1-100 characters"))
		}
	}
	if body.Visibility != nil && !body.Visibility.IsValid() {
		return httpError(invalidField("visibility", "must be public or private"))
	}
	if body.Title == nil && body.Visibility == nil {
		return httpError(&chat.ValidationError{Detail: "nothing to update"})
	}

	if _, err := s.ownedChat(c, chatID, session); err != nil {
		return httpError(err)
	}

	updated, err := s.Store.UpdateChat(c.Request().Context(), &store.UpdateChat{
		ID:         chatID,
		Title:      body.Title,
		Visibility: body.Visibility,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, chatView{ID: updated.ID, Title: updated.Title, Visibility: updated.Visibility, CreatedTs: updated.CreatedTs})
}

// DeleteChat soft-deletes by default. With ?purge=true it purges the chat,
// its messages and votes, and any managed attachment objects.
func (s *APIV1Service) DeleteChat(c echo.Context) error {
	session := auth.SessionFrom(c)
	chatID := c.Param("chatID")
	ctx := c.Request().Context()

	// Deletion must see soft-deleted chats too, otherwise a hidden chat
	// could never be purged.
	ch, err := s.Store.GetChat(ctx, &store.FindChat{ID: &chatID, IncludeHidden: true})
	if err != nil {
		return httpError(err)
	}
	if ch == nil {
		return httpError(chat.ErrChatNotFound)
	}
	if ch.OwnerID != session.UserID {
		return httpError(chat.ErrUnauthorized)
	}

	if c.QueryParam("purge") != "true" {
		hidden := true
		if _, err := s.Store.UpdateChat(ctx, &store.UpdateChat{ID: chatID, Hidden: &hidden}); err != nil {
			return httpError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}

	// Purge backing files first; a dangling object is worse than a dangling
	// row pointing at a deleted object.
	if s.objects != nil {
		msgs, err := s.Store.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
		if err != nil {
			return httpError(err)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, msg := range msgs {
			for _, ref := range msg.Attachments {
				if ref.StorageKey == "" {
					continue
				}
				key := ref.StorageKey
				g.Go(func() error {
					if err := s.objects.Delete(gctx, key); err != nil {
						c.Logger().Warnf("failed to delete attachment %s: %v", key, err)
					}
					return nil
				})
			}
		}
		_ = g.Wait()
	}
	if err := s.Store.DeleteChat(ctx, &store.DeleteChat{ID: chatID}); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type voteRequest struct {
	IsUpvoted bool `json:"isUpvoted"`
}

// VoteMessage records a thumbs up or down, last write wins.
func (s *APIV1Service) VoteMessage(c echo.Context) error {
	session := auth.SessionFrom(c)
	chatID := c.Param("chatID")
	messageID := c.Param("messageID")
	ctx := c.Request().Context()

	var body voteRequest
	if err := c.Bind(&body); err != nil {
		return httpError(&chat.ValidationError{Detail: "malformed request body"})
	}

	if _, err := s.ownedChat(c, chatID, session); err != nil {
		return httpError(err)
	}
	msg, err := s.Store.GetMessage(ctx, &store.FindMessage{ID: &messageID})
	if err != nil {
		return httpError(err)
	}
	if msg == nil || msg.ChatID != chatID {
		return httpError(chat.ErrChatNotFound)
	}

	vote, err := s.Store.UpsertVote(ctx, &store.Vote{
		ChatID:    chatID,
		MessageID: messageID,
		IsUpvoted: body.IsUpvoted,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vote)
}

// ListVotes returns all votes in a chat.
func (s *APIV1Service) ListVotes(c echo.Context) error {
	session := auth.SessionFrom(c)
	chatID := c.Param("chatID")

	if _, err := s.readableChat(c, chatID, session); err != nil {
		return httpError(err)
	}
	votes, err := s.Store.ListVotes(c.Request().Context(), &store.FindVote{ChatID: &chatID})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, votes)
}

// buildTurnRequest validates a submission and converts it to the
// orchestrator's input.
func (s *APIV1Service) buildTurnRequest(chatID string, session *auth.Session, body *submitTurnRequest) (*chat.TurnRequest, error) {
	if !isUUID(chatID) {
		return nil, invalidField("chatID", "must be a UUID")
	}
	if body.Message == nil {
		return nil, invalidField("message", "required")
	}
	if !isUUID(body.Message.ID) {
		return nil, invalidField("message.id", "must be a UUID")
	}
	if body.Message.Role != string(store.RoleUser) {
		return nil, invalidField("message.role", "must be user")
	}

	model := gateway.LookupModel(body.SelectedChatModel)
	if model == nil {
		return nil, invalidField("selectedChatModel", "unknown model id")
	}

	visibility := store.Visibility(body.SelectedVisibilityType)
	if body.SelectedVisibilityType != "" && !visibility.IsValid() {
		return nil, invalidField("selectedVisibilityType", "must be public or private")
	}

	var parts []store.ContentPart
	textParts := 0
	for _, p := range body.Message.Parts {
		switch p.Type {
		case "text":
			textParts++
			if n := utf8.RuneCountInString(p.Text); n < textPartMinLen || n > textPartMaxLen {
				return nil, invalidField("message.parts", "text must be 1-2000 characters")
			}
			parts = append(parts, store.TextPart{Text: p.Text})
		case "file":
			if !allowedAttachmentTypes[p.MediaType] {
				return nil, invalidField("message.parts", "unsupported media type "+p.MediaType)
			}
			if p.URL == "" {
				return nil, invalidField("message.parts", "file part needs a url")
			}
			parts = append(parts, store.FilePart{URL: p.URL, MediaType: p.MediaType, Filename: p.Filename})
		default:
			return nil, invalidField("message.parts", "unsupported part type "+p.Type)
		}
	}
	if textParts != 1 {
		return nil, invalidField("message.parts", "exactly one text part is required")
	}
	for _, ref := range body.Message.Attachments {
		if !allowedAttachmentTypes[ref.ContentType] {
			return nil, invalidField("message.attachments", "unsupported media type "+ref.ContentType)
		}
		// A submitted storage key is later presigned for the model; accepting
		// another user's key here would leak their object.
		if ref.StorageKey != "" && !ownsStorageKey(session.UserID, ref.StorageKey) {
			return nil, invalidField("message.attachments", "storage key does not belong to the caller")
		}
	}

	return &chat.TurnRequest{
		ChatID:   chatID,
		UserID:   session.UserID,
		UserType: session.UserType,
		Message: &store.Message{
			ID:          body.Message.ID,
			Parts:       parts,
			Attachments: body.Message.Attachments,
		},
		Model:      model,
		Visibility: visibility,
	}, nil
}

// ownedChat loads a chat and requires the caller to be its owner.
func (s *APIV1Service) ownedChat(c echo.Context, chatID string, session *auth.Session) (*store.Chat, error) {
	ch, err := s.Store.GetChat(c.Request().Context(), &store.FindChat{ID: &chatID})
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, chat.ErrChatNotFound
	}
	if ch.OwnerID != session.UserID {
		return nil, chat.ErrUnauthorized
	}
	return ch, nil
}

// readableChat loads a chat readable by the caller: the owner always, anyone
// for public chats.
func (s *APIV1Service) readableChat(c echo.Context, chatID string, session *auth.Session) (*store.Chat, error) {
	ch, err := s.Store.GetChat(c.Request().Context(), &store.FindChat{ID: &chatID})
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, chat.ErrChatNotFound
	}
	if ch.OwnerID != session.UserID && ch.Visibility != store.VisibilityPublic {
		return nil, chat.ErrUnauthorized
	}
	return ch, nil
}

func invalidField(field, detail string) error {
	return &chat.ValidationError{Field: field, Detail: detail}
}
