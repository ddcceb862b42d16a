package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/agent"
	"github.com/replydesk/internal/retry"
)

// ResilientEngine retries transient engine failures with backoff. Errors that
// do not look transient fail on the first attempt.
type ResilientEngine struct {
	inner   agent.Engine
	policy  retry.Policy
	timeout time.Duration
}

// NewResilientEngine wraps inner. A positive callTimeout bounds each attempt.
func NewResilientEngine(inner agent.Engine, policy retry.Policy, callTimeout time.Duration) *ResilientEngine {
	return &ResilientEngine{inner: inner, policy: policy, timeout: callTimeout}
}

func (r *ResilientEngine) Complete(ctx context.Context, transcript []agent.Turn, tools []actions.Descriptor) (agent.Turn, error) {
	var turn agent.Turn
	logger := log.With().Str("component", "engine").Logger()

	result := retry.DoWithReason(ctx, r.policy, func(ctx context.Context) (error, string) {
		attemptCtx, cancel := r.attemptContext(ctx)
		defer cancel()

		t, err := r.inner.Complete(attemptCtx, transcript, tools)
		if err != nil {
			if errors.Is(err, ErrNoChoices) || !retry.IsRetryableError(err) {
				return retry.Permanent(err), "permanent"
			}
			return err, err.Error()
		}
		turn = t
		return nil, ""
	}, &logger)

	if !result.Success {
		return agent.Turn{}, result.Err()
	}
	return turn, nil
}

func (r *ResilientEngine) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
