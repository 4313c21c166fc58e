package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/ai/gateway"
	"github.com/chatloom/chatloom/internal/profile"
	"github.com/chatloom/chatloom/server/auth"
	"github.com/chatloom/chatloom/server/chat"
	"github.com/chatloom/chatloom/store"
	"github.com/chatloom/chatloom/store/db/sqlite"
)

func validSubmitBody() *submitTurnRequest {
	return &submitTurnRequest{
		Message: &turnMessage{
			ID:   uuid.NewString(),
			Role: "user",
			Parts: []turnPart{
				{Type: "text", Text: "What is the capital of France?"},
			},
		},
		SelectedChatModel:      gateway.DefaultModelID,
		SelectedVisibilityType: "private",
	}
}

func TestBuildTurnRequest(t *testing.T) {
	s := &APIV1Service{}
	session := &auth.Session{UserID: "user-1", UserType: store.UserTypeRegistered}
	chatID := uuid.NewString()

	t.Run("valid request passes through", func(t *testing.T) {
		body := validSubmitBody()
		body.Message.Parts = append(body.Message.Parts, turnPart{
			Type:      "file",
			URL:       "https://files.example.com/photo.png",
			MediaType: "image/png",
			Filename:  "photo.png",
		})
		req, err := s.buildTurnRequest(chatID, session, body)
		require.NoError(t, err)
		assert.Equal(t, chatID, req.ChatID)
		assert.Equal(t, "user-1", req.UserID)
		assert.Equal(t, gateway.DefaultModelID, req.Model.ID)
		assert.Equal(t, store.VisibilityPrivate, req.Visibility)
		require.Len(t, req.Message.Parts, 2)
		assert.IsType(t, store.TextPart{}, req.Message.Parts[0])
		assert.IsType(t, store.FilePart{}, req.Message.Parts[1])
	})

	t.Run("empty visibility defaults downstream", func(t *testing.T) {
		body := validSubmitBody()
		body.SelectedVisibilityType = ""
		req, err := s.buildTurnRequest(chatID, session, body)
		require.NoError(t, err)
		assert.Empty(t, string(req.Visibility))
	})

	rejects := []struct {
		name   string
		mutate func(*submitTurnRequest)
		field  string
	}{
		{"non-uuid chat id handled separately", nil, "chatID"},
		{"missing message", func(b *submitTurnRequest) { b.Message = nil }, "message"},
		{"non-uuid message id", func(b *submitTurnRequest) { b.Message.ID = "not-a-uuid" }, "message.id"},
		{"assistant role", func(b *submitTurnRequest) { b.Message.Role = "assistant" }, "message.role"},
		{"unknown model", func(b *submitTurnRequest) { b.SelectedChatModel = "gpt-99" }, "selectedChatModel"},
		{"bad visibility", func(b *submitTurnRequest) { b.SelectedVisibilityType = "secret" }, "selectedVisibilityType"},
		{"empty text part", func(b *submitTurnRequest) { b.Message.Parts[0].Text = "" }, "message.parts"},
		{"oversized text part", func(b *submitTurnRequest) { b.Message.Parts[0].Text = strings.Repeat("x", textPartMaxLen+1) }, "message.parts"},
		{"no text part", func(b *submitTurnRequest) { b.Message.Parts = nil }, "message.parts"},
		{"two text parts", func(b *submitTurnRequest) {
			b.Message.Parts = append(b.Message.Parts, turnPart{Type: "text", Text: "second"})
		}, "message.parts"},
		{"unsupported part type", func(b *submitTurnRequest) {
			b.Message.Parts = append(b.Message.Parts, turnPart{Type: "video", URL: "https://x/y.mp4"})
		}, "message.parts"},
		{"file part without url", func(b *submitTurnRequest) {
			b.Message.Parts = append(b.Message.Parts, turnPart{Type: "file", MediaType: "image/png"})
		}, "message.parts"},
		{"disallowed file media type", func(b *submitTurnRequest) {
			b.Message.Parts = append(b.Message.Parts, turnPart{Type: "file", URL: "https://x/a.exe", MediaType: "application/x-msdownload"})
		}, "message.parts"},
		{"disallowed attachment type", func(b *submitTurnRequest) {
			b.Message.Attachments = []store.AttachmentRef{{Name: "a.svg", URL: "https://x/a.svg", ContentType: "image/svg+xml"}}
		}, "message.attachments"},
		{"attachment storage key outside caller namespace", func(b *submitTurnRequest) {
			b.Message.Attachments = []store.AttachmentRef{{Name: "a.png", URL: "https://x/a.png", ContentType: "image/png", StorageKey: "attachments/user-2/a.png"}}
		}, "message.attachments"},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			body := validSubmitBody()
			id := chatID
			if tt.mutate == nil {
				id = "not-a-uuid"
			} else {
				tt.mutate(body)
			}
			_, err := s.buildTurnRequest(id, session, body)
			require.Error(t, err)
			var ve *chat.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	t.Run("text part at max length passes", func(t *testing.T) {
		body := validSubmitBody()
		body.Message.Parts[0].Text = strings.Repeat("é", textPartMaxLen)
		_, err := s.buildTurnRequest(chatID, session, body)
		assert.NoError(t, err)
	})

	t.Run("attachment storage key in caller namespace passes", func(t *testing.T) {
		body := validSubmitBody()
		body.Message.Attachments = []store.AttachmentRef{{Name: "a.png", URL: "https://x/a.png", ContentType: "image/png", StorageKey: "attachments/user-1/a.png"}}
		_, err := s.buildTurnRequest(chatID, session, body)
		assert.NoError(t, err)
	})
}

func newTestService(t *testing.T) *APIV1Service {
	t.Helper()
	p := &profile.Profile{
		Mode:        "dev",
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "test.db"),
		Secret:      "test-secret",
		TurnTimeout: 30,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { _ = driver.Close() })
	return &APIV1Service{Profile: p, Store: store.New(driver, p), secret: p.Secret}
}

func TestDeleteChatPurgeReachesSoftDeletedChat(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	chatID := uuid.NewString()
	_, err := s.Store.CreateChat(ctx, &store.Chat{
		ID:         chatID,
		OwnerID:    "user-1",
		Title:      "Done with this",
		Visibility: store.VisibilityPrivate,
		CreatedTs:  time.Now().UnixMicro(),
	})
	require.NoError(t, err)
	hidden := true
	_, err = s.Store.UpdateChat(ctx, &store.UpdateChat{ID: chatID, Hidden: &hidden})
	require.NoError(t, err)

	token, err := auth.GenerateToken(s.secret, "user-1", store.UserTypeRegistered)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chats/"+chatID+"?purge=true", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("chatID")
	c.SetParamValues(chatID)

	// A chat hidden by a soft delete must still be reachable for a purge.
	handler := auth.Middleware(s.secret)(s.DeleteChat)
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ch, err := s.Store.GetChat(ctx, &store.FindChat{ID: &chatID, IncludeHidden: true})
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestHTTPErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&chat.ValidationError{Field: "title", Detail: "bad"}, http.StatusBadRequest, "bad_request"},
		{&chat.PersistError{Stage: "user-message", Err: assert.AnError}, http.StatusInternalServerError, "persistence_error"},
		{chat.ErrUnauthorized, http.StatusForbidden, "forbidden"},
		{chat.ErrChatNotFound, http.StatusNotFound, "not_found"},
		{chat.ErrNoActiveStream, http.StatusNotFound, "not_found"},
		{chat.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{chat.ErrChatBusy, http.StatusConflict, "conflict"},
		{assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		var he *echo.HTTPError
		require.ErrorAs(t, httpError(tt.err), &he)
		assert.Equal(t, tt.status, he.Code)
		body, ok := he.Message.(apiError)
		require.True(t, ok)
		assert.Equal(t, tt.code, body.Code)
	}
}
