package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/agent"
	"github.com/replydesk/internal/inbox"
)

// EmailStore is the slice of inbox.EmailsRepo the service needs.
type EmailStore interface {
	Get(ctx context.Context, id int64) (*inbox.Email, error)
	MarkProcessing(ctx context.Context, id int64) error
	RecordDecision(ctx context.Context, id int64, decision, reason string) error
}

// Runner drives one conversation to a decision. *agent.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, state *agent.State) agent.Outcome
}

// Config holds the conversation service configuration
type Config struct {
	ConversationTimeout time.Duration
}

// Result contains the outcome of processing one email. Success means a
// decision was reached and recorded; an escalation is still a success.
type Result struct {
	EmailID    int64          `json:"email_id"`
	RunID      string         `json:"run_id,omitempty"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Decision   agent.Decision `json:"decision"`
	Reason     string         `json:"reason"`
	Iterations int            `json:"iterations"`
	Snippets   int            `json:"context_snippets"`
	Transcript []agent.Turn   `json:"transcript,omitempty"`
	Error      error          `json:"-"`
	Duration   time.Duration  `json:"duration"`
}

// Service processes stored emails through the agent loop.
type Service struct {
	emails EmailStore
	runner Runner
	audit  actions.AuditSink
	config Config
}

// NewService creates a conversation service. audit may be nil.
func NewService(emails EmailStore, runner Runner, audit actions.AuditSink, config Config) *Service {
	return &Service{emails: emails, runner: runner, audit: audit, config: config}
}

// Process loads email id, runs it and records the decision. Emails that
// already carry a decision are skipped so redelivered jobs are harmless.
func (s *Service) Process(ctx context.Context, emailID int64) *Result {
	start := time.Now()
	result := &Result{EmailID: emailID}

	email, err := s.emails.Get(ctx, emailID)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	if email.Status == inbox.StatusDelivered || email.Status == inbox.StatusEscalated {
		result.Success = true
		result.Skipped = true
		if email.Decision != nil {
			result.Decision = agent.Decision(*email.Decision)
		}
		if email.Reason != nil {
			result.Reason = *email.Reason
		}
		result.Duration = time.Since(start)
		log.Info().Int64("email_id", emailID).Str("status", string(email.Status)).Msg("Email already decided, skipping")
		return result
	}

	if err := s.emails.MarkProcessing(ctx, emailID); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	s.run(ctx, agent.Message{
		ID:      email.ID,
		From:    email.From,
		Subject: email.Subject,
		Body:    email.Body,
	}, result)

	// Record on a fresh context: a timed-out run still needs its row closed.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.emails.RecordDecision(recordCtx, emailID, string(result.Decision), result.Reason); err != nil {
		result.Success = false
		result.Error = fmt.Errorf("record decision: %w", err)
	}

	result.Duration = time.Since(start)
	return result
}

// ProcessMessage runs msg without touching the email store.
func (s *Service) ProcessMessage(ctx context.Context, msg agent.Message) *Result {
	start := time.Now()
	result := &Result{EmailID: msg.ID}
	s.run(ctx, msg, result)
	result.Duration = time.Since(start)
	return result
}

func (s *Service) run(ctx context.Context, msg agent.Message, result *Result) {
	if s.config.ConversationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ConversationTimeout)
		defer cancel()
	}

	state := agent.NewState(msg)
	outcome := s.runner.Run(ctx, state)

	result.RunID = state.RunID
	result.Success = true
	result.Decision = outcome.Decision
	result.Reason = outcome.Reason
	result.Iterations = state.Iterations
	result.Snippets = len(state.Context())
	result.Transcript = state.Transcript()

	s.recordOutput(context.WithoutCancel(ctx), state, outcome)
}

func (s *Service) recordOutput(ctx context.Context, state *agent.State, outcome agent.Outcome) {
	if s.audit == nil {
		return
	}

	payload := map[string]any{
		"run_id":           state.RunID,
		"decision":         outcome.Decision,
		"reason":           outcome.Reason,
		"iterations":       state.Iterations,
		"context_snippets": len(state.Context()),
		"transcript_turns": len(state.Transcript()),
		"sent":             state.Sent(),
	}
	if outcome.Validation != nil {
		// A map so the sink's redactor reaches the judge's reason.
		payload["validation"] = map[string]any{
			"is_valid": outcome.Validation.IsValid,
			"reason":   outcome.Validation.Reason,
		}
	}
	if outcome.Err != nil {
		payload["error"] = outcome.Err.Error()
	}

	if err := s.audit.Append(ctx, state.ID, actions.EventAgentOutput, payload); err != nil {
		log.Warn().Err(err).Int64("email_id", state.ID).Msg("Failed to record agent output")
	}
}
