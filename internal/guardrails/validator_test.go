package guardrails

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJudge struct {
	raw   string
	err   error
	calls int
}

func (s *stubJudge) Judge(context.Context, []string, string) (string, error) {
	s.calls++
	return s.raw, s.err
}

type stubSecrets []string

func (s stubSecrets) Scan(string) []string { return s }

func TestValidate_GroundedDraftPasses(t *testing.T) {
	judge := &stubJudge{raw: `{"is_valid": true, "reason": "consistent with §3.2"}`}
	v := NewValidator(judge)

	got := v.Validate(context.Background(),
		[]string{"§3.2: Refunds processed within 5 business days."},
		"Your refund will be processed in 5 days per policy §3.2")

	assert.True(t, got.IsValid)
	assert.Equal(t, "consistent with §3.2", got.Reason)
	assert.Equal(t, 1, judge.calls)
}

func TestValidate_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		judge *stubJudge
	}{
		{"prose", &stubJudge{raw: "Looks good to me!"}},
		{"missing is_valid", &stubJudge{raw: `{"reason": "fine"}`}},
		{"wrong type", &stubJudge{raw: `{"is_valid": "yes", "reason": "fine"}`}},
		{"truncated", &stubJudge{raw: `{"is_valid": true, "reason": "fi`}},
		{"judge unreachable", &stubJudge{err: errors.New("503 service unavailable")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewValidator(tt.judge).Validate(context.Background(), nil, "Hello")
			assert.False(t, got.IsValid)
			assert.Equal(t, ReasonNonStructured, got.Reason)
		})
	}
}

func TestValidate_PIIOverridesTrueVerdict(t *testing.T) {
	judge := &stubJudge{raw: `{"is_valid": true, "reason": "ok"}`}

	got := NewValidator(judge).Validate(context.Background(),
		[]string{"Refunds go back to the original payment method."},
		"We refunded your card 4111 1111 1111 1111 today.")

	assert.False(t, got.IsValid)
	assert.Contains(t, got.Reason, MarkerPII)
	assert.Equal(t, "ok | PII detected", got.Reason)
}

func TestValidate_PIIOnUnparseableVerdict(t *testing.T) {
	got := NewValidator(&stubJudge{raw: "sure"}).Validate(context.Background(), nil, "Your CVV is 123")

	assert.False(t, got.IsValid)
	assert.Equal(t, ReasonNonStructured+" | "+MarkerPII, got.Reason)
}

func TestValidate_SecretScan(t *testing.T) {
	judge := &stubJudge{raw: `{"is_valid": true, "reason": ""}`}
	v := NewValidator(judge, WithSecretScanner(stubSecrets{"generic-api-key"}))

	got := v.Validate(context.Background(), nil, "use this key")
	assert.False(t, got.IsValid)
	assert.Equal(t, MarkerSecret, got.Reason)

	clean := NewValidator(judge, WithSecretScanner(stubSecrets(nil)))
	assert.True(t, clean.Validate(context.Background(), nil, "hello").IsValid)
}

func TestValidate_RedactsLoggedJudgeOutput(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	redactor, err := NewRedactor("test-key")
	require.NoError(t, err)
	v := NewValidator(&stubJudge{raw: "looks fine, customer is jane.doe@example.com"}, WithRedactor(redactor))

	got := v.Validate(context.Background(), nil, "Five business days.")

	assert.False(t, got.IsValid)
	assert.Contains(t, buf.String(), "non-structured")
	assert.NotContains(t, buf.String(), "jane.doe@example.com")
}

func TestParseVerdict(t *testing.T) {
	t.Run("fenced", func(t *testing.T) {
		got, err := ParseVerdict("```json\n{\"is_valid\": false, \"reason\": \"not in context\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, Result{IsValid: false, Reason: "not in context"}, got)
	})

	t.Run("surrounding whitespace", func(t *testing.T) {
		got, err := ParseVerdict("  {\"is_valid\": true, \"reason\": \"\"}\n")
		require.NoError(t, err)
		assert.True(t, got.IsValid)
	})

	t.Run("leading prose is rejected", func(t *testing.T) {
		_, err := ParseVerdict(`Here you go: {"is_valid": true, "reason": ""}`)
		assert.ErrorIs(t, err, ErrValidatorParse)
	})

	t.Run("unterminated fence", func(t *testing.T) {
		_, err := ParseVerdict("```json\n{\"is_valid\": true}")
		assert.ErrorIs(t, err, ErrValidatorParse)
	})
}

func TestDetectPII(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Your card 4111-1111-1111-1111 was charged", true},
		{"card number 4111111111111111", true},
		{"Please confirm the CVV 987", true},
		{"Flight 1234 departs at 10:40", false},
		{"Booking ref 4111111111111111 confirmed", false},
		{"Your card was refunded", false},
		{"cvv codes are never requested by email", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectPII(tt.text), tt.text)
	}
}
