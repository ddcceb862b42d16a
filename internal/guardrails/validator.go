package guardrails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Reason markers.
const (
	ReasonNonStructured = "non-structured validator response"
	MarkerPII           = "PII detected"
	MarkerSecret        = "secret detected"
)

// ErrValidatorParse is returned by ParseVerdict for judge output that is not a
// JSON verdict.
var ErrValidatorParse = errors.New(ReasonNonStructured)

// Result is the verdict on one draft.
type Result struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason"`
}

// Judge asks an external model whether a draft is grounded in the snippets and
// free of sensitive data. It returns the model's raw text.
type Judge interface {
	Judge(ctx context.Context, snippets []string, draft string) (string, error)
}

// Validator combines the external judge with local scans that can only ever
// turn a verdict invalid.
type Validator struct {
	judge    Judge
	secrets  SecretScanner
	redactor *Redactor
}

// Option configures a Validator.
type Option func(*Validator)

// WithSecretScanner adds a credential scan on top of the PII scan.
func WithSecretScanner(s SecretScanner) Option {
	return func(v *Validator) { v.secrets = s }
}

// WithRedactor masks personal data in judge output before it is logged.
func WithRedactor(r *Redactor) Option {
	return func(v *Validator) { v.redactor = r }
}

// NewValidator creates a validator around judge.
func NewValidator(judge Judge, opts ...Option) *Validator {
	v := &Validator{judge: judge}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate never errors: a judge failure or unparseable verdict is invalid.
func (v *Validator) Validate(ctx context.Context, snippets []string, draft string) Result {
	raw, err := v.judge.Judge(ctx, snippets, draft)
	var result Result
	if err != nil {
		log.Warn().Err(err).Msg("validator judge call failed")
		result = Result{IsValid: false, Reason: ReasonNonStructured}
	} else if result, err = ParseVerdict(raw); err != nil {
		log.Warn().Str("raw", v.redact(truncate(raw, 200))).Msg("validator returned non-structured output")
		result = Result{IsValid: false, Reason: ReasonNonStructured}
	}

	if DetectPII(draft) {
		result.IsValid = false
		result.Reason = appendReason(result.Reason, MarkerPII)
	}

	if v.secrets != nil {
		if rules := v.secrets.Scan(draft); len(rules) > 0 {
			log.Warn().Strs("rules", rules).Msg("secret detected in draft")
			result.IsValid = false
			result.Reason = appendReason(result.Reason, MarkerSecret)
		}
	}

	return result
}

// ParseVerdict accepts a bare JSON object or one inside a ```json fence and
// requires a boolean is_valid. Nothing is repaired.
func ParseVerdict(raw string) (Result, error) {
	body, ok := extractObject(raw)
	if !ok {
		return Result{}, ErrValidatorParse
	}

	var verdict struct {
		IsValid *bool  `json:"is_valid"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &verdict); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrValidatorParse, err)
	}
	if verdict.IsValid == nil {
		return Result{}, fmt.Errorf("%w: missing is_valid", ErrValidatorParse)
	}

	return Result{IsValid: *verdict.IsValid, Reason: verdict.Reason}, nil
}

func extractObject(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		end := strings.LastIndex(trimmed, "```")
		if end < 0 {
			return "", false
		}
		trimmed = strings.TrimSpace(trimmed[:end])
	}

	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	return trimmed, true
}

func (v *Validator) redact(s string) string {
	if v.redactor == nil {
		return s
	}
	return v.redactor.Redact(s)
}

func appendReason(reason, marker string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return marker
	}
	return reason + " | " + marker
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
