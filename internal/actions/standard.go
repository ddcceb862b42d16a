package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// DefaultSearchK is the number of snippets search-knowledge returns when k is omitted.
const DefaultSearchK = 4

// StagedResult is returned by send-reply when delivery waits for validation.
const StagedResult = "staged: delivery pending validation"

// Collaborators backs the standard actions.
type Collaborators struct {
	Retriever Retriever
	Responder Responder
	Audit     AuditSink
}

// NewStandardRegistry registers search-knowledge, send-reply and log-event.
func NewStandardRegistry(c Collaborators) (*Registry, error) {
	return NewRegistry(
		NewDescriptor(SearchKnowledge,
			"Search the policy knowledge base for context relevant to the query.",
			"list of snippet strings",
			[]Param{
				{Name: "query", Type: TypeString, Description: "What to look up", Required: true},
				{Name: "k", Type: TypeInteger, Description: "Maximum number of snippets", Default: DefaultSearchK},
			},
			searchKnowledge(c.Retriever)),
		NewDescriptor(SendReply,
			"Send a plain-text email reply. Only call this once the reply is confident and grounded.",
			"status token",
			[]Param{
				{Name: "to", Type: TypeString, Description: "Recipient address", Required: true},
				{Name: "subject", Type: TypeString, Description: "Subject line", Required: true},
				{Name: "body", Type: TypeString, Description: "Plain-text body", Required: true},
			},
			sendReply(c.Responder)),
		NewDescriptor(LogEvent,
			"Write an observability event for this conversation, e.g. the reason for an escalation.",
			"status token",
			[]Param{
				{Name: "conversation_id", Type: TypeInteger, Description: "Conversation identifier", Required: true},
				{Name: "event", Type: TypeString, Description: "Event name", Required: true},
				{Name: "payload", Type: TypeString, Description: "Optional free-form detail"},
			},
			logEvent(c.Audit)),
	)
}

func searchKnowledge(retriever Retriever) Handler {
	return func(ctx context.Context, call Call) (string, error) {
		query, _ := call.Args["query"].(string)
		k, _ := call.Args["k"].(int)
		if k <= 0 {
			k = DefaultSearchK
		}

		snippets, err := retriever.Query(ctx, query, k)
		if err != nil {
			return "", fmt.Errorf("knowledge search failed: %w", err)
		}
		if snippets == nil {
			snippets = []string{}
		}

		encoded, err := json.Marshal(snippets)
		if err != nil {
			return "", fmt.Errorf("encode snippets: %w", err)
		}
		return string(encoded), nil
	}
}

func sendReply(responder Responder) Handler {
	return func(ctx context.Context, call Call) (string, error) {
		reply := Reply{
			To:      call.Args["to"].(string),
			Subject: call.Args["subject"].(string),
			Body:    call.Args["body"].(string),
		}

		if call.Outbox != nil {
			call.Outbox.Stage(reply)
			return StagedResult, nil
		}

		if err := responder.Send(ctx, reply.To, reply.Subject, reply.Body); err != nil {
			var de *DeliveryError
			if errors.As(err, &de) {
				return "", err
			}
			return "", &DeliveryError{To: reply.To, Err: err}
		}
		if call.SentLog != nil {
			call.SentLog.RecordSent(reply)
		}
		return "sent", nil
	}
}

func logEvent(audit AuditSink) Handler {
	return func(ctx context.Context, call Call) (string, error) {
		id, _ := call.Args["conversation_id"].(int)
		event, _ := call.Args["event"].(string)

		var payload any
		if raw, ok := call.Args["payload"].(string); ok && raw != "" {
			payload = map[string]string{"raw": raw}
		}

		if audit == nil {
			return "logged", nil
		}
		if err := audit.Append(ctx, int64(id), event, payload); err != nil {
			log.Warn().
				Err(err).
				Int("conversation_id", id).
				Str("event", event).
				Msg("log-event failed; continuing")
		}
		return "logged", nil
	}
}
