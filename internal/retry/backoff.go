package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy configures exponential backoff for calls at a collaborator boundary.
type Policy struct {
	MaxRetries int           `koanf:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay" json:"max_delay"`
	Multiplier float64       `koanf:"multiplier" json:"multiplier"`
	Jitter     bool          `koanf:"jitter" json:"jitter"`
}

// Result describes how an operation fared across its attempts.
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"`
}

// Err returns nil on success and the last error otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return r.LastError
}

// DefaultPolicy is used for database and mail collaborators.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// LLMPolicy tolerates the slower, rate-limited model endpoints.
func LLMPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do runs op until it succeeds, returns a permanent error, runs out of
// attempts, or ctx is done. A nil logger disables attempt logging.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, logger *zerolog.Logger) Result {
	return DoWithReason(ctx, policy, func(ctx context.Context) (error, string) {
		err := op(ctx)
		if err != nil {
			return err, err.Error()
		}
		return nil, ""
	}, logger)
}

// DoWithReason is Do with a caller-supplied reason recorded for each failed attempt.
func DoWithReason(ctx context.Context, policy Policy, op func(ctx context.Context) (error, string), logger *zerolog.Logger) Result {
	start := time.Now()
	result := Result{RetryReasons: make([]string, 0)}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err, reason := op(ctx)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			if logger != nil && attempt > 0 {
				logger.Debug().
					Int("retries", attempt).
					Dur("duration", result.TotalDuration).
					Msg("operation succeeded after retry")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		var perm *permanentError
		if errors.As(err, &perm) {
			result.LastError = perm.err
			break
		}
		if attempt >= policy.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(policy, attempt)
		if logger != nil {
			logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", policy.MaxRetries+1).
				Dur("backoff", delay).
				Msg("operation failed, backing off")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(start)
	if logger != nil {
		logger.Error().
			Err(result.LastError).
			Int("attempts", result.Attempts).
			Dur("duration", result.TotalDuration).
			Msg("operation failed")
	}
	return result
}

// calculateDelay returns baseDelay * multiplier^attempt, capped at MaxDelay,
// with up to 10% jitter either way.
func calculateDelay(policy Policy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	if policy.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(policy.BaseDelay)
		}
	}

	return time.Duration(delay)
}

var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"dns lookup failed",
	"no such host",
	"network unreachable",
	"broken pipe",
	"eof",
	"context deadline exceeded",
}

// IsRetryableError reports whether err looks like a transient network or
// provider failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
