package agent

import (
	"context"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/guardrails"
)

// Engine is the reasoning model. Given the full request transcript (system
// directive and user message first) and the callable actions, it returns one
// assistant turn: free text, or text plus a single action request.
type Engine interface {
	Complete(ctx context.Context, transcript []Turn, tools []actions.Descriptor) (Turn, error)
}

// Validator judges a draft against the accumulated context.
type Validator interface {
	Validate(ctx context.Context, snippets []string, draft string) guardrails.Result
}

// Screener inspects the inbound message before the engine sees it and
// reports the injection patterns it matched.
type Screener interface {
	Screen(ctx context.Context, text string) (flagged bool, patterns []string)
}

// SystemDirective is the fixed policy sent ahead of every engine request.
const SystemDirective = "You are a customer support agent for an airline. Decide whether the customer's question is within policy. " +
	"If it is out of policy or ambiguous, call log-event with the reason and reply 'HUMAN_ESCALATION_NEEDED'. " +
	"If it is in policy, first call search-knowledge to gather context, then compose a concise plain-text reply. " +
	"Only call send-reply once you are confident in the reply. Keep answers grounded only in search-knowledge results. " +
	"Never invent policy. If the context is still insufficient after searching, escalate."
