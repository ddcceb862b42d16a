package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/agent"
)

// ErrNoChoices is returned when the provider answers without any candidate.
var ErrNoChoices = errors.New("model returned no choices")

// ToolEngine adapts a langchaingo chat model with tool calling to agent.Engine.
type ToolEngine struct {
	model     llms.Model
	modelName string
	opts      []llms.CallOption
}

// NewToolEngine wraps model. opts are applied to every call, after the tool list.
func NewToolEngine(model llms.Model, modelName string, opts ...llms.CallOption) *ToolEngine {
	return &ToolEngine{model: model, modelName: modelName, opts: opts}
}

// Complete sends the transcript and returns the first choice. When the model
// requests several tools at once only the first is honoured; the loop runs
// one action per turn.
func (e *ToolEngine) Complete(ctx context.Context, transcript []agent.Turn, tools []actions.Descriptor) (agent.Turn, error) {
	messages, err := ToMessages(transcript)
	if err != nil {
		return agent.Turn{}, err
	}

	opts := make([]llms.CallOption, 0, len(e.opts)+1)
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(ToTools(tools)))
	}
	opts = append(opts, e.opts...)

	resp, err := e.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return agent.Turn{}, fmt.Errorf("generate content (%s): %w", e.modelName, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return agent.Turn{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	if len(choice.ToolCalls) == 0 {
		return agent.AssistantText(choice.Content), nil
	}

	call := choice.ToolCalls[0]
	if len(choice.ToolCalls) > 1 {
		log.Debug().
			Int("requested", len(choice.ToolCalls)).
			Str("kept", functionName(call)).
			Msg("model requested several tool calls, keeping the first")
	}
	if call.FunctionCall == nil {
		return agent.Turn{}, fmt.Errorf("tool call %q has no function", call.ID)
	}

	args, stats, err := DecodeArguments(call.FunctionCall.Arguments)
	if err != nil {
		// Hand the engine an empty call; the dispatcher reports the missing
		// arguments back so the model can retry.
		log.Warn().Err(err).Str("action", call.FunctionCall.Name).Msg("discarding undecodable tool arguments")
		args = actions.Args{}
	} else if stats.WasRepaired {
		log.Debug().
			Str("action", call.FunctionCall.Name).
			Strs("strategies", stats.Strategies).
			Msg("repaired tool arguments")
	}

	return agent.AssistantAction(choice.Content, agent.ActionRequest{
		ID:   call.ID,
		Name: call.FunctionCall.Name,
		Args: args,
	}), nil
}

func functionName(call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return ""
	}
	return call.FunctionCall.Name
}
