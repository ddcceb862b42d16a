package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/audit"
	"github.com/replydesk/internal/inbox"
	"github.com/replydesk/internal/poller"
)

// queryLimit reads ?limit=, falling back to def outside 1..max.
func queryLimit(c echo.Context, def, max int) int {
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= max {
			return parsed
		}
	}
	return def
}

// getStatus handles GET /status
func (s *Server) getStatus(c echo.Context) error {
	if s.deps.Poller == nil {
		return c.JSON(http.StatusOK, poller.Status{State: poller.StateIdle})
	}
	return c.JSON(http.StatusOK, s.deps.Poller.Status())
}

// triggerRun handles POST /trigger-run
func (s *Server) triggerRun(c echo.Context) error {
	if s.deps.Poller == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Poller is not running"})
	}
	s.deps.Poller.Trigger()
	if op, ok := c.Get(OperatorContextKey).(string); ok {
		log.Info().Str("operator", op).Msg("Manual poll triggered")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// getLogs handles GET /logs
func (s *Server) getLogs(c echo.Context) error {
	limit := queryLimit(c, audit.DefaultListLimit, audit.MaxListLimit)

	events, err := s.deps.Events.ListRecent(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve events"})
	}

	// Ensure events is a non-nil slice so JSON encodes to []
	if events == nil {
		events = make([]*audit.Event, 0)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"meta": map[string]interface{}{
			"count": len(events),
			"limit": limit,
		},
	})
}

// getEscalations handles GET /escalations
func (s *Server) getEscalations(c echo.Context) error {
	limit := queryLimit(c, 50, 500)

	emails, err := s.deps.Escalations.ListEscalations(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list escalations")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve escalations"})
	}
	if emails == nil {
		emails = make([]*inbox.Email, 0)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"escalations": emails,
		"meta": map[string]interface{}{
			"count": len(emails),
			"limit": limit,
		},
	})
}

// getConversationEvents handles GET /api/v1/conversations/:id/events
func (s *Server) getConversationEvents(c echo.Context) error {
	emailID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || emailID <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid conversation ID"})
	}

	limit := queryLimit(c, audit.DefaultListLimit, audit.MaxListLimit)

	events, err := s.deps.Events.ListByEmail(c.Request().Context(), emailID, limit)
	if err != nil {
		log.Error().Err(err).Int64("email_id", emailID).Msg("Failed to list conversation events")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve events"})
	}
	if events == nil {
		events = make([]*audit.Event, 0)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"meta": map[string]interface{}{
			"conversationId": emailID,
			"count":          len(events),
			"limit":          limit,
		},
	})
}
