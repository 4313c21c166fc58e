// Package server assembles the HTTP server from its collaborators.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chatloom/chatloom/ai/gateway"
	"github.com/chatloom/chatloom/ai/tools"
	"github.com/chatloom/chatloom/internal/profile"
	"github.com/chatloom/chatloom/objectstore"
	"github.com/chatloom/chatloom/server/chat"
	"github.com/chatloom/chatloom/server/metrics"
	apiv1 "github.com/chatloom/chatloom/server/router/api/v1"
	"github.com/chatloom/chatloom/store"
)

type Server struct {
	e *echo.Echo

	Profile *profile.Profile
	Store   *store.Store
}

// NewServer wires the full application: object store, model gateway, tool
// registry, orchestrator, and the API routes.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowCredentials: false,
	}))

	s := &Server{
		e:       e,
		Profile: p,
		Store:   st,
	}

	var objects objectstore.Client
	if p.IsObjectStoreEnabled() {
		var err error
		if objects, err = objectstore.New(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to init object storage: %w", err)
		}
	} else {
		slog.Warn("object storage not configured, attachments and documents are disabled")
	}

	gw := gateway.New(p)

	var docs tools.DocumentStore
	if objects != nil {
		docs = tools.NewObjectDocumentStore(objects)
	}
	registry := tools.NewRegistry(func(ctx context.Context, prompt string) (string, error) {
		return gw.GenerateOnce(ctx, gateway.LookupModel(gateway.DefaultModelID), []gateway.Message{
			{Role: "user", Content: prompt},
		})
	}, docs)

	exporter := metrics.NewExporter(metrics.DefaultConfig())
	orchestrator := chat.NewOrchestrator(st, gw, registry, chat.NewBroker(), objects, exporter, p)

	apiService := apiv1.NewAPIV1Service(p, st, orchestrator, objects)
	apiService.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	return s, nil
}

// Start begins serving in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.e.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
		}
	}()
	return nil
}

// Shutdown drains connections and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.e.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
	slog.Info("chatloom stopped properly")
}
