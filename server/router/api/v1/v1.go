// Package v1 exposes the REST and streaming API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatloom/chatloom/ai/gateway"
	"github.com/chatloom/chatloom/internal/profile"
	"github.com/chatloom/chatloom/objectstore"
	"github.com/chatloom/chatloom/server/auth"
	"github.com/chatloom/chatloom/server/chat"
	"github.com/chatloom/chatloom/server/ratelimit"
	"github.com/chatloom/chatloom/store"
)

// APIV1Service bundles the API surface and its collaborators.
type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store

	orchestrator *chat.Orchestrator
	objects      objectstore.Client
	limiter      *ratelimit.Limiter
	secret       string
}

func NewAPIV1Service(p *profile.Profile, st *store.Store, orch *chat.Orchestrator, objects objectstore.Client) *APIV1Service {
	return &APIV1Service{
		Profile:      p,
		Store:        st,
		orchestrator: orch,
		objects:      objects,
		limiter:      ratelimit.New(60, 10),
		secret:       p.Secret,
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/v1/auth/guest", s.CreateGuestSession)

	g := e.Group("/api/v1", auth.Middleware(s.secret))

	g.GET("/models", s.ListModels)

	g.GET("/chats", s.ListChats)
	g.POST("/chats/:chatID/turns", s.SubmitTurn)
	g.GET("/chats/:chatID/stream", s.ResumeStream)
	g.POST("/chats/:chatID/stop", s.StopStream)
	g.POST("/chats/:chatID/regenerate", s.Regenerate)
	g.GET("/chats/:chatID/messages", s.ListMessages)
	g.PATCH("/chats/:chatID", s.UpdateChat)
	g.DELETE("/chats/:chatID", s.DeleteChat)
	g.GET("/chats/:chatID/votes", s.ListVotes)
	g.PUT("/chats/:chatID/messages/:messageID/vote", s.VoteMessage)

	g.GET("/prompts", s.ListPrompts)
	g.POST("/prompts", s.CreatePrompt)
	g.PATCH("/prompts/:promptID", s.UpdatePrompt)
	g.DELETE("/prompts/:promptID", s.DeletePrompt)
	g.POST("/prompts/:promptID/move", s.MovePrompt)

	g.POST("/attachments", s.UploadAttachment)
	g.GET("/attachments/url", s.GetAttachmentURL)
}

// ListModels returns the model catalog.
func (s *APIV1Service) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, gateway.Models())
}

// CreateGuestSession mints an anonymous session so a visitor can chat before
// registering.
func (s *APIV1Service) CreateGuestSession(c echo.Context) error {
	userID := "guest-" + newID()
	token, err := auth.GenerateToken(s.secret, userID, store.UserTypeGuest)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}
	c.SetCookie(&http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]string{
		"userId": userID,
		"token":  token,
	})
}
