package guardrails

import (
	"fmt"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// SecretScanner finds credentials in outbound text and returns the rule ids that matched.
type SecretScanner interface {
	Scan(text string) []string
}

// GitleaksScanner runs the gitleaks default ruleset over a draft.
type GitleaksScanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksScanner loads the default gitleaks configuration.
func NewGitleaksScanner() (*GitleaksScanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	return &GitleaksScanner{detector: detector}, nil
}

// Scan returns the distinct rule ids of every finding.
func (g *GitleaksScanner) Scan(text string) []string {
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	seen := make(map[string]struct{}, len(findings))
	var rules []string
	for _, f := range findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		rules = append(rules, f.RuleID)
	}
	return rules
}
