package llm

import (
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/agent"
)

// ToMessages maps transcript turns onto langchaingo message content.
func ToMessages(transcript []agent.Turn) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(transcript))
	for i, turn := range transcript {
		switch turn.Role {
		case agent.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, turn.Content))
		case agent.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, turn.Content))
		case agent.RoleAssistant:
			msg, err := assistantMessage(turn)
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
			out = append(out, msg)
		case agent.RoleActionResult:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: turn.CallID,
					Name:       turn.ActionName,
					Content:    turn.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("turn %d: unknown role %q", i, turn.Role)
		}
	}
	return out, nil
}

func assistantMessage(turn agent.Turn) (llms.MessageContent, error) {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if turn.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextContent{Text: turn.Content})
	}
	if turn.Action == nil {
		if len(msg.Parts) == 0 {
			msg.Parts = append(msg.Parts, llms.TextContent{Text: ""})
		}
		return msg, nil
	}

	args := turn.Action.Args
	if args == nil {
		args = actions.Args{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return msg, fmt.Errorf("encode arguments for %s: %w", turn.Action.Name, err)
	}
	msg.Parts = append(msg.Parts, llms.ToolCall{
		ID:   turn.Action.ID,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      turn.Action.Name,
			Arguments: string(encoded),
		},
	})
	return msg, nil
}

// ToTools describes the registered actions as function tools with a JSON
// schema for their parameters.
func ToTools(descriptors []actions.Descriptor) []llms.Tool {
	tools := make([]llms.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		properties := make(map[string]any, len(d.Params))
		required := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			prop := map[string]any{
				"type":        string(p.Type),
				"description": p.Description,
			}
			if p.Default != nil {
				prop["default"] = p.Default
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}

		description := d.Description
		if d.Returns != "" {
			description += " Returns: " + d.Returns + "."
		}

		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Name,
				Description: description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return tools
}
