package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/guardrails"
	"github.com/replydesk/internal/logging"
)

// Escalation reasons produced by the loop itself.
const (
	ReasonMaxLoops          = "max_loops"
	ReasonEmptyDraft        = "empty_draft"
	ReasonTimeout           = "timeout"
	ReasonEngineUnavailable = "engine_unavailable"
	ReasonEngineEscalated   = "engine_escalated"
	ReasonDeliveryFailed    = "delivery_failed"
	// ReasonValidationFailed stands in when the judge rejects without a reason.
	ReasonValidationFailed = "validation_failed"
	ReasonPromptInjection  = "prompt_injection"
)

var (
	// ErrEmptyDraft is the cause of an empty_draft escalation.
	ErrEmptyDraft = errors.New("engine returned an empty draft")
	// ErrMaxLoops is the cause of a max_loops escalation.
	ErrMaxLoops = errors.New("iteration bound exceeded")
)

// EscalationToken is what the directive tells the engine to answer with when it hands off.
const EscalationToken = "HUMAN_ESCALATION_NEEDED"

// DefaultMaxLoops bounds engine calls per conversation.
const DefaultMaxLoops = 6

// DeliveryPolicy decides when send-reply actually reaches the Responder.
type DeliveryPolicy string

const (
	// DeliverAfterValidation stages send-reply and delivers only once the draft passes.
	DeliverAfterValidation DeliveryPolicy = "after_validation"
	// DeliverImmediately lets send-reply reach the Responder mid-loop.
	DeliverImmediately DeliveryPolicy = "immediate"
)

// Config tunes the loop.
type Config struct {
	MaxLoops       int
	DeliveryPolicy DeliveryPolicy
	Directive      string
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxLoops:       DefaultMaxLoops,
		DeliveryPolicy: DeliverAfterValidation,
		Directive:      SystemDirective,
	}
}

// Outcome is what Run hands back to its caller.
type Outcome struct {
	State      *State
	Decision   Decision
	Reason     string
	Validation *guardrails.Result
	// Err is what forced an escalation outside the verdict: ErrMaxLoops,
	// ErrEmptyDraft, the context error, or the engine or delivery failure.
	Err error
}

// Orchestrator drives conversations. One Orchestrator serves any number of
// concurrent Runs; each Run owns its State.
type Orchestrator struct {
	engine     Engine
	dispatcher *actions.Dispatcher
	validator  Validator
	responder  actions.Responder
	audit      actions.AuditSink
	screener   Screener
	cfg        Config
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithScreener escalates messages the screener flags before any engine call.
func WithScreener(s Screener) Option {
	return func(o *Orchestrator) { o.screener = s }
}

// NewOrchestrator wires the loop. audit may be nil.
func NewOrchestrator(engine Engine, dispatcher *actions.Dispatcher, validator Validator, responder actions.Responder, audit actions.AuditSink, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = DefaultMaxLoops
	}
	if cfg.DeliveryPolicy == "" {
		cfg.DeliveryPolicy = DeliverAfterValidation
	}
	if cfg.Directive == "" {
		cfg.Directive = SystemDirective
	}
	o := &Orchestrator{
		engine:     engine,
		dispatcher: dispatcher,
		validator:  validator,
		responder:  responder,
		audit:      audit,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes one conversation to a terminal decision. It always returns a
// decision; cancellation of ctx ends the run as an escalation with reason "timeout".
func (o *Orchestrator) Run(ctx context.Context, state *State) Outcome {
	logger := logging.ForConversation(o.audit, state.ID, state.RunID)
	logger.Info().Str("from", state.From).Str("subject", state.Subject).Msg("conversation started")

	var outcome Outcome
	if flagged, patterns := o.screen(ctx, state); flagged {
		logger.Warn().Strs("patterns", patterns).Msg("inbound message flagged by injection screen")
		outcome = o.escalate(ctx, state, logger, ReasonPromptInjection, nil, nil)
	} else {
		outcome = o.loop(ctx, state, logger)
	}

	logger.Info().
		Str("decision", string(outcome.Decision)).
		Str("reason", outcome.Reason).
		Int("iterations", state.Iterations).
		Int("context_snippets", state.context.Len()).
		Dur("elapsed", logger.Elapsed()).
		Msg("conversation finished")
	return outcome
}

func (o *Orchestrator) loop(ctx context.Context, state *State, logger *logging.ConversationLogger) Outcome {
	tools := o.dispatcher.Descriptors()

	for {
		if err := ctx.Err(); err != nil {
			return o.escalate(ctx, state, logger, ReasonTimeout, nil, err)
		}
		if state.Iterations > o.cfg.MaxLoops {
			logger.Warn().Int("max_loops", o.cfg.MaxLoops).Msg("iteration bound reached")
			return o.escalate(ctx, state, logger, ReasonMaxLoops, nil, ErrMaxLoops)
		}

		logger.Section(fmt.Sprintf("engine call %d", state.Iterations+1))
		turn, err := o.engine.Complete(ctx, o.request(state), tools)
		if err != nil {
			if ctx.Err() != nil {
				return o.escalate(ctx, state, logger, ReasonTimeout, nil, ctx.Err())
			}
			logger.Error().Err(err).Msg("reasoning engine unavailable")
			return o.escalate(ctx, state, logger, ReasonEngineUnavailable, nil, err)
		}
		turn.Role = RoleAssistant
		state.append(turn)
		state.Iterations++

		if turn.Action != nil {
			o.dispatch(ctx, state, logger, *turn.Action)
			Absorb(&state.context, state.transcript)
			continue
		}

		return o.finalize(ctx, state, logger, turn.Content)
	}
}

func (o *Orchestrator) screen(ctx context.Context, state *State) (bool, []string) {
	if o.screener == nil {
		return false, nil
	}
	return o.screener.Screen(ctx, state.Subject+"\n\n"+state.Body)
}

// request is the system directive, the framed message, then everything so far.
func (o *Orchestrator) request(state *State) []Turn {
	req := make([]Turn, 0, len(state.transcript)+2)
	req = append(req, SystemTurn(o.cfg.Directive), UserTurn(state.UserPrompt()))
	return append(req, state.transcript...)
}

func (o *Orchestrator) dispatch(ctx context.Context, state *State, logger *logging.ConversationLogger, req ActionRequest) {
	call := actions.Call{
		ID:             req.ID,
		Name:           req.Name,
		Args:           req.Args,
		ConversationID: state.ID,
	}
	if o.cfg.DeliveryPolicy == DeliverAfterValidation {
		call.Outbox = state
	} else {
		call.SentLog = state
	}

	out, err := o.dispatcher.Dispatch(ctx, call)
	if err != nil {
		var de *actions.DeliveryError
		switch {
		case errors.Is(err, actions.ErrUnknownAction):
			logger.Warn().Str("action", req.Name).Msg("engine requested an unregistered action")
		case errors.As(err, &de):
			logger.Warn().Err(err).Msg("send-reply failed")
		default:
			logger.Warn().Err(err).Str("action", req.Name).Msg("action failed")
		}
		state.append(ActionResult(req, "error: "+err.Error(), true))
		return
	}

	logger.Debug().Str("action", req.Name).Int("result_bytes", len(out)).Msg("action completed")
	state.append(ActionResult(req, out, false))
}

func (o *Orchestrator) finalize(ctx context.Context, state *State, logger *logging.ConversationLogger, draft string) Outcome {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		logger.Warn().Msg("engine produced no draft")
		return o.escalate(ctx, state, logger, ReasonEmptyDraft, nil, ErrEmptyDraft)
	}
	if strings.Contains(draft, EscalationToken) {
		return o.escalate(ctx, state, logger, ReasonEngineEscalated, nil, nil)
	}

	// The validator sees the text that leaves, or already left, the system.
	outgoing := o.outgoing(state, draft)

	logger.Section("validation")
	result := o.validator.Validate(ctx, state.Context(), outgoing.Body)
	if ctx.Err() != nil {
		return o.escalate(ctx, state, logger, ReasonTimeout, &result, ctx.Err())
	}
	if !result.IsValid {
		reason := result.Reason
		if strings.TrimSpace(reason) == "" {
			reason = ReasonValidationFailed
		}
		if state.Sent() {
			o.record(ctx, state, logger, actions.EventSentBeforeValidation, map[string]any{
				"reason":  reason,
				"replies": len(state.sent),
			})
		}
		return o.escalate(ctx, state, logger, reason, &result, nil)
	}

	alreadySent := state.Sent()
	if !alreadySent {
		if err := o.responder.Send(ctx, outgoing.To, outgoing.Subject, outgoing.Body); err != nil {
			if ctx.Err() != nil {
				return o.escalate(ctx, state, logger, ReasonTimeout, &result, ctx.Err())
			}
			logger.Error().Err(err).Str("to", outgoing.To).Msg("delivery after validation failed")
			return o.escalate(ctx, state, logger, ReasonDeliveryFailed+": "+err.Error(), &result, err)
		}
		state.RecordSent(outgoing)
	}

	o.record(ctx, state, logger, actions.EventDelivered, map[string]any{
		"to":           outgoing.To,
		"subject":      outgoing.Subject,
		"already_sent": alreadySent,
		"reason":       result.Reason,
	})
	state.finalize(DecisionDeliver, result.Reason)
	return Outcome{State: state, Decision: DecisionDeliver, Reason: result.Reason, Validation: &result}
}

// outgoing is the staged reply when the engine called send-reply, whatever
// send-reply already delivered under immediate delivery, otherwise the draft
// addressed back to the sender.
func (o *Orchestrator) outgoing(state *State, draft string) actions.Reply {
	if reply, ok := state.StagedReply(); ok {
		return reply
	}
	if n := len(state.sent); n > 0 {
		reply := state.sent[n-1]
		if n > 1 {
			bodies := make([]string, n)
			for i, r := range state.sent {
				bodies[i] = r.Body
			}
			reply.Body = strings.Join(bodies, "\n\n")
		}
		return reply
	}
	subject := state.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	return actions.Reply{To: state.From, Subject: subject, Body: draft}
}

func (o *Orchestrator) escalate(ctx context.Context, state *State, logger *logging.ConversationLogger, reason string, result *guardrails.Result, cause error) Outcome {
	// Record even when ctx is done: a timed-out conversation still needs its trail.
	o.record(context.WithoutCancel(ctx), state, logger, actions.EventEscalated, map[string]any{
		"reason":     reason,
		"iterations": state.Iterations,
	})
	state.finalize(DecisionEscalate, reason)
	return Outcome{State: state, Decision: DecisionEscalate, Reason: reason, Validation: result, Err: cause}
}

func (o *Orchestrator) record(ctx context.Context, state *State, logger *logging.ConversationLogger, event string, payload map[string]any) {
	if o.audit == nil {
		return
	}
	payload["run_id"] = state.RunID
	if err := o.audit.Append(ctx, state.ID, event, payload); err != nil {
		// Plain Debug so a failing sink is not mirrored back into itself.
		logger.Debug().Err(err).Str("event", event).Msg("audit append failed")
	}
}
