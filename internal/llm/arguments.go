package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/replydesk/internal/actions"
)

// RepairStats describes what DecodeArguments had to do to the raw argument string.
type RepairStats struct {
	OriginalBytes int      `json:"original_bytes"`
	RepairedBytes int      `json:"repaired_bytes"`
	Strategies    []string `json:"strategies,omitempty"`
	WasRepaired   bool     `json:"was_repaired"`
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// DecodeArguments parses the JSON argument object of a tool call. Models
// regularly emit almost-JSON here, so on a parse failure it tries, in order:
// trailing comma removal, closing unbalanced braces, then jsonrepair.
// An empty string decodes to empty args.
func DecodeArguments(raw string) (actions.Args, RepairStats, error) {
	stats := RepairStats{OriginalBytes: len(raw)}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return actions.Args{}, stats, nil
	}

	if args, err := decodeObject(raw); err == nil {
		stats.RepairedBytes = len(raw)
		return args, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw

	if fixed := trailingComma.ReplaceAllString(repaired, "$1"); fixed != repaired {
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "trailing_commas")
	}

	if fixed := completeJSON(repaired); fixed != repaired {
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "completion")
	}

	if args, err := decodeObject(repaired); err == nil {
		stats.RepairedBytes = len(repaired)
		return args, stats, nil
	}

	fixed, err := jsonrepair.JSONRepair(repaired)
	if err == nil {
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
	}
	stats.RepairedBytes = len(repaired)

	args, decodeErr := decodeObject(repaired)
	if decodeErr != nil {
		return nil, stats, fmt.Errorf("tool arguments are not a JSON object after %d repair strategies: %w", len(stats.Strategies), decodeErr)
	}
	return args, stats, nil
}

func decodeObject(raw string) (actions.Args, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var args actions.Args
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, fmt.Errorf("arguments must be an object")
	}
	return args, nil
}

// completeJSON closes unbalanced objects and arrays, last opened first.
// Quoted braces are ignored.
func completeJSON(s string) string {
	var (
		stack    []rune
		inString bool
		escaped  bool
	)
	for _, c := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
