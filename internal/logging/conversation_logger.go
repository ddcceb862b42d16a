package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/actions"
)

// ConversationLogger is a zerolog logger scoped to one conversation run. Warn
// and error entries are mirrored to the audit sink as LOG events so they show
// up next to the conversation's other events.
type ConversationLogger struct {
	zerolog.Logger
	conversationID int64
	runID          string
	start          time.Time
}

// ForConversation derives a logger from the global one. sink may be nil.
func ForConversation(sink actions.AuditSink, conversationID int64, runID string) *ConversationLogger {
	logger := log.With().
		Int64("conversation_id", conversationID).
		Str("run_id", runID).
		Logger()
	if sink != nil {
		logger = logger.Hook(auditHook{sink: sink, conversationID: conversationID, runID: runID})
	}
	return &ConversationLogger{
		Logger:         logger,
		conversationID: conversationID,
		runID:          runID,
		start:          time.Now(),
	}
}

// Section marks the start of a loop phase.
func (c *ConversationLogger) Section(title string) {
	c.Debug().Dur("elapsed", time.Since(c.start)).Msgf("=== %s ===", title)
}

// Elapsed is the time since the logger was created.
func (c *ConversationLogger) Elapsed() time.Duration {
	return time.Since(c.start)
}

type auditHook struct {
	sink           actions.AuditSink
	conversationID int64
	runID          string
}

func (h auditHook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if level < zerolog.WarnLevel || level == zerolog.NoLevel {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := map[string]string{
		"level":   level.String(),
		"message": message,
		"run_id":  h.runID,
	}
	if err := h.sink.Append(ctx, h.conversationID, actions.EventLog, payload); err != nil {
		// Global logger, not the hooked one, so a failing sink cannot recurse.
		log.Debug().Err(err).Msg("failed to mirror log entry to audit sink")
	}
}
