package actions

import "context"

// Retriever returns knowledge snippets ordered by relevance.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]string, error)
}

// Responder delivers a plain-text reply.
type Responder interface {
	Send(ctx context.Context, to, subject, body string) error
}

// AuditSink durably appends structured events for a conversation. Implementations
// must be safe for concurrent writers.
type AuditSink interface {
	Append(ctx context.Context, conversationID int64, event string, payload any) error
}

// Reply is an outbound message.
type Reply struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Outbox holds a reply until the conversation's draft has been validated.
type Outbox interface {
	Stage(reply Reply)
}

// SentLog is told about every reply send-reply delivered directly.
type SentLog interface {
	RecordSent(reply Reply)
}

// Audit event names.
const (
	EventIngested             = "INGESTED"
	EventToolInvoked          = "TOOL_INVOKED"
	EventAgentOutput          = "AGENT_OUTPUT"
	EventDelivered            = "DELIVERED"
	EventEscalated            = "ESCALATED"
	EventSentBeforeValidation = "SENT_BEFORE_VALIDATION"
	EventLog                  = "LOG"
)
