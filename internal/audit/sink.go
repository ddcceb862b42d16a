package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/replydesk/internal/actions"
)

// Levels stored with each event.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Redactor masks personal data in free text.
type Redactor interface {
	Redact(text string) string
}

// Sink implements actions.AuditSink on top of EventsRepo. It is safe for
// concurrent use; each Append is a single insert.
type Sink struct {
	repo     *EventsRepo
	redactor Redactor
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithRedactor masks string values in payloads before they are stored.
func WithRedactor(r Redactor) SinkOption {
	return func(s *Sink) { s.redactor = r }
}

// NewSink creates a database-backed audit sink.
func NewSink(repo *EventsRepo, opts ...SinkOption) *Sink {
	s := &Sink{repo: repo}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append writes one event. A conversationID of zero is stored without an email reference.
func (s *Sink) Append(ctx context.Context, conversationID int64, event string, payload any) error {
	e := &Event{
		Event: event,
		Level: LevelFor(event, payload),
	}
	if conversationID > 0 {
		e.EmailID = &conversationID
	}

	if payload != nil {
		if s.redactor != nil {
			payload = s.redactValue("", payload)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		e.Payload = raw
	}

	return s.repo.Insert(ctx, e)
}

// identifierKeys hold values that are never personal data and must stay
// queryable as written.
var identifierKeys = map[string]struct{}{
	"run_id":     {},
	"call_id":    {},
	"level":      {},
	"decision":   {},
	"action":     {},
	"message_id": {},
}

// redactValue copies v with every string masked. Payload maps are owned by
// callers, so nothing is changed in place.
func (s *Sink) redactValue(key string, v any) any {
	if _, ok := identifierKeys[key]; ok {
		return v
	}

	switch val := v.(type) {
	case string:
		return s.redactor.Redact(val)
	case map[string]any:
		return s.redactMap(val)
	case actions.Args:
		return s.redactMap(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			if _, ok := identifierKeys[k]; ok {
				out[k] = item
				continue
			}
			out[k] = s.redactor.Redact(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = s.redactor.Redact(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.redactValue("", item)
		}
		return out
	}
	return v
}

func (s *Sink) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, item := range m {
		out[k] = s.redactValue(k, item)
	}
	return out
}

// LevelFor derives the stored level from the event name. LOG events carry
// their own level in the payload.
func LevelFor(event string, payload any) string {
	switch event {
	case actions.EventSentBeforeValidation:
		return LevelError
	case actions.EventEscalated:
		return LevelWarn
	case actions.EventLog:
		if level := payloadLevel(payload); level != "" {
			return level
		}
		return LevelInfo
	}

	upper := strings.ToUpper(event)
	switch {
	case strings.Contains(upper, "ERROR") || strings.Contains(upper, "FAIL"):
		return LevelError
	case strings.Contains(upper, "WARN") || strings.Contains(upper, "ESCALAT"):
		return LevelWarn
	}
	return LevelInfo
}

func payloadLevel(payload any) string {
	var level string
	switch p := payload.(type) {
	case map[string]string:
		level = p["level"]
	case map[string]any:
		level, _ = p["level"].(string)
	}

	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "":
		return ""
	}
	return LevelInfo
}

var _ actions.AuditSink = (*Sink)(nil)
