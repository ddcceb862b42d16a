package llm

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/replydesk/internal/retry"
)

const validatePrompt = `You are a QA validator. Check the draft for:
- factual consistency with context
- no PII leakage (cards, CVV, full passport)
Return JSON: {"is_valid": true/false, "reason": "..."}.
Context:
---
{{ .Context }}
---
Draft:
---
{{ .Draft }}
---`

var validateTemplate = template.Must(template.New("validate").Parse(validatePrompt))

// RenderValidatePrompt fills the judge prompt. Snippets are separated by a blank line.
func RenderValidatePrompt(snippets []string, draft string) (string, error) {
	var buf bytes.Buffer
	err := validateTemplate.Execute(&buf, struct {
		Context string
		Draft   string
	}{
		Context: strings.Join(snippets, "\n\n"),
		Draft:   draft,
	})
	if err != nil {
		return "", fmt.Errorf("render validate prompt: %w", err)
	}
	return buf.String(), nil
}

// ModelJudge asks a chat model for a verdict. It implements guardrails.Judge
// and returns the raw reply; parsing belongs to the validator.
type ModelJudge struct {
	model  llms.Model
	policy retry.Policy
}

// NewModelJudge creates a judge. Transient provider failures are retried per policy.
func NewModelJudge(model llms.Model, policy retry.Policy) *ModelJudge {
	return &ModelJudge{model: model, policy: policy}
}

func (j *ModelJudge) Judge(ctx context.Context, snippets []string, draft string) (string, error) {
	prompt, err := RenderValidatePrompt(snippets, draft)
	if err != nil {
		return "", err
	}

	var raw string
	logger := log.With().Str("component", "judge").Logger()
	result := retry.Do(ctx, j.policy, func(ctx context.Context) error {
		out, err := llms.GenerateFromSinglePrompt(ctx, j.model, prompt, llms.WithTemperature(0))
		if err != nil {
			if !retry.IsRetryableError(err) {
				return retry.Permanent(err)
			}
			return err
		}
		raw = strings.TrimSpace(out)
		return nil
	}, &logger)

	if err := result.Err(); err != nil {
		return "", fmt.Errorf("validator model: %w", err)
	}
	return raw, nil
}
