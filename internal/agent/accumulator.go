package agent

import (
	"encoding/json"
	"strings"

	"github.com/replydesk/internal/actions"
)

// ContextWindow is how many trailing transcript entries Absorb inspects.
const ContextWindow = 4

// ContextSet is an insertion-ordered set of snippets. Entries are never removed.
type ContextSet struct {
	items []string
	seen  map[string]struct{}
}

// Add inserts snippet unless it is empty or already present.
func (c *ContextSet) Add(snippet string) bool {
	if snippet == "" {
		return false
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, ok := c.seen[snippet]; ok {
		return false
	}
	c.seen[snippet] = struct{}{}
	c.items = append(c.items, snippet)
	return true
}

// Items returns a copy of the snippets in first-seen order.
func (c *ContextSet) Items() []string {
	out := make([]string, len(c.items))
	copy(out, c.items)
	return out
}

// Len is the number of distinct snippets.
func (c *ContextSet) Len() int { return len(c.items) }

// Absorb adds the snippets of search-knowledge results found among the last
// ContextWindow turns and returns the updated contents. String elements of a
// JSON list are kept and other elements dropped; results that are not a JSON
// list count as a single snippet. Error results are skipped.
func Absorb(set *ContextSet, transcript []Turn) []string {
	start := len(transcript) - ContextWindow
	if start < 0 {
		start = 0
	}

	for _, turn := range transcript[start:] {
		if turn.Role != RoleActionResult || turn.ActionName != actions.SearchKnowledge || turn.IsError {
			continue
		}

		var items []any
		if err := json.Unmarshal([]byte(turn.Content), &items); err == nil {
			for _, item := range items {
				if s, ok := item.(string); ok {
					set.Add(s)
				}
			}
			continue
		}

		set.Add(strings.TrimSpace(turn.Content))
	}

	return set.Items()
}
