package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/audit"
	"github.com/replydesk/internal/inbox"
	"github.com/replydesk/internal/poller"
)

// PollerControl is the slice of *poller.Poller the API drives.
type PollerControl interface {
	Status() poller.Status
	Trigger()
}

// EventStore reads the audit log. *audit.EventsRepo implements it.
type EventStore interface {
	ListRecent(ctx context.Context, limit int) ([]*audit.Event, error)
	ListByEmail(ctx context.Context, emailID int64, limit int) ([]*audit.Event, error)
}

// EscalationStore lists emails routed to a human. *inbox.EmailsRepo implements it.
type EscalationStore interface {
	ListEscalations(ctx context.Context, limit int) ([]*inbox.Email, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Poller      PollerControl
	Events      EventStore
	Escalations EscalationStore
	JWTSecret   string
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	deps Deps
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		deps: deps,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Public endpoints
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})
	s.echo.GET("/status", s.getStatus)
	s.echo.GET("/openapi.json", s.getOpenAPI)

	// Everything else requires a bearer token when a secret is configured.
	var guard []echo.MiddlewareFunc
	if s.deps.JWTSecret != "" {
		guard = append(guard, RequireBearer(s.deps.JWTSecret))
	} else {
		log.Warn().Msg("api.jwt_secret is empty, operator routes are unauthenticated")
	}

	s.echo.POST("/trigger-run", s.triggerRun, guard...)
	s.echo.GET("/logs", s.getLogs, guard...)
	s.echo.GET("/escalations", s.getEscalations, guard...)

	// API v1 group
	v1 := s.echo.Group("/api/v1", guard...)
	v1.GET("/conversations/:id/events", s.getConversationEvents)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}
