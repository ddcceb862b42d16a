package guardrails

import (
	"context"

	"github.com/mdombrov-33/go-promptguard/detector"
)

// DefaultInjectionThreshold is the risk score at which inbound mail is flagged.
const DefaultInjectionThreshold = 0.8

// InjectionScreen runs the promptguard heuristics over inbound mail. It never
// calls a model.
type InjectionScreen struct {
	detector *detector.MultiDetector
}

// NewInjectionScreen creates a screen. A threshold outside (0, 1] uses the default.
func NewInjectionScreen(threshold float64) *InjectionScreen {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultInjectionThreshold
	}
	return &InjectionScreen{detector: detector.New(
		detector.WithThreshold(threshold),
	)}
}

// Screen reports whether text looks like an attempt to steer the agent and
// which pattern types matched.
func (s *InjectionScreen) Screen(ctx context.Context, text string) (bool, []string) {
	result := s.detector.Detect(ctx, text)
	if result.Safe {
		return false, nil
	}

	patterns := make([]string, 0, len(result.DetectedPatterns))
	for _, p := range result.DetectedPatterns {
		patterns = append(patterns, p.Type)
	}
	return true, patterns
}
