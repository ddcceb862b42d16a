package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/agent"
	"github.com/replydesk/internal/retry"
)

// stubModel returns canned responses and captures what it was sent.
type stubModel struct {
	responses []*llms.ContentResponse
	errs      []error
	calls     int
	messages  []llms.MessageContent
	options   llms.CallOptions
}

func (m *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	i := m.calls
	m.calls++
	m.messages = messages
	m.options = llms.CallOptions{}
	for _, opt := range opts {
		opt(&m.options)
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return &llms.ContentResponse{}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func textResponse(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

func toolResponse(calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: calls}}}
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{ID: id, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: args}}
}

func descriptors(t *testing.T) []actions.Descriptor {
	t.Helper()
	registry, err := actions.NewStandardRegistry(actions.Collaborators{})
	require.NoError(t, err)
	return registry.Descriptors()
}

func TestToolEngine_PlainText(t *testing.T) {
	model := &stubModel{responses: []*llms.ContentResponse{textResponse("Refunds take 5 business days.")}}
	engine := NewToolEngine(model, "test-model")

	turn, err := engine.Complete(context.Background(), []agent.Turn{
		agent.SystemTurn("directive"),
		agent.UserTurn("From: a@b.c\nSubject: Refund\n\nwhen?"),
	}, descriptors(t))

	require.NoError(t, err)
	assert.Equal(t, agent.AssistantText("Refunds take 5 business days."), turn)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Len(t, model.options.Tools, 3)
}

func TestToolEngine_FirstToolCallWins(t *testing.T) {
	model := &stubModel{responses: []*llms.ContentResponse{toolResponse(
		toolCall("call_1", actions.SearchKnowledge, `{"query": "refund", "k": 2}`),
		toolCall("call_2", actions.LogEvent, `{}`),
	)}}

	turn, err := NewToolEngine(model, "test-model").Complete(context.Background(), nil, nil)

	require.NoError(t, err)
	require.NotNil(t, turn.Action)
	assert.Equal(t, "call_1", turn.Action.ID)
	assert.Equal(t, actions.SearchKnowledge, turn.Action.Name)
	assert.Equal(t, "refund", turn.Action.Args["query"])
	assert.Empty(t, model.options.Tools)
}

func TestToolEngine_RepairsArguments(t *testing.T) {
	model := &stubModel{responses: []*llms.ContentResponse{toolResponse(
		toolCall("call_1", actions.SearchKnowledge, `{"query": "baggage allowance",}`),
	)}}

	turn, err := NewToolEngine(model, "test-model").Complete(context.Background(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "baggage allowance", turn.Action.Args["query"])
}

func TestToolEngine_Errors(t *testing.T) {
	_, err := NewToolEngine(&stubModel{errs: []error{errors.New("401 unauthorized")}}, "m").
		Complete(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "401 unauthorized")

	_, err = NewToolEngine(&stubModel{}, "m").Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestToMessages_RoundTripsActions(t *testing.T) {
	req := agent.ActionRequest{ID: "call_9", Name: actions.SearchKnowledge, Args: actions.Args{"query": "refund"}}
	messages, err := ToMessages([]agent.Turn{
		agent.AssistantAction("", req),
		agent.ActionResult(req, `["§3.2"]`, false),
	})
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, llms.ChatMessageTypeAI, messages[0].Role)
	require.Len(t, messages[0].Parts, 1)
	call, ok := messages[0].Parts[0].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "call_9", call.ID)
	assert.JSONEq(t, `{"query":"refund"}`, call.FunctionCall.Arguments)

	assert.Equal(t, llms.ChatMessageTypeTool, messages[1].Role)
	assert.Equal(t, llms.ToolCallResponse{ToolCallID: "call_9", Name: actions.SearchKnowledge, Content: `["§3.2"]`}, messages[1].Parts[0])
}

func TestToMessages_UnknownRole(t *testing.T) {
	_, err := ToMessages([]agent.Turn{{Role: "narrator"}})
	assert.Error(t, err)
}

func TestToTools_Schema(t *testing.T) {
	tools := ToTools(descriptors(t))
	require.Len(t, tools, 3)

	var search *llms.FunctionDefinition
	for _, tool := range tools {
		assert.Equal(t, "function", tool.Type)
		if tool.Function.Name == actions.SearchKnowledge {
			search = tool.Function
		}
	}
	require.NotNil(t, search)

	params := search.Parameters.(map[string]any)
	assert.Equal(t, []string{"query"}, params["required"])
	props := params["properties"].(map[string]any)
	assert.Equal(t, "integer", props["k"].(map[string]any)["type"])
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestResilientEngine_RetriesTransient(t *testing.T) {
	model := &stubModel{
		errs:      []error{errors.New("503 service unavailable")},
		responses: []*llms.ContentResponse{nil, textResponse("ok")},
	}
	engine := NewResilientEngine(NewToolEngine(model, "m"), fastPolicy(), time.Second)

	turn, err := engine.Complete(context.Background(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", turn.Content)
	assert.Equal(t, 2, model.calls)
}

func TestResilientEngine_PermanentFailsFast(t *testing.T) {
	model := &stubModel{errs: []error{errors.New("invalid api key")}}
	engine := NewResilientEngine(NewToolEngine(model, "m"), fastPolicy(), 0)

	_, err := engine.Complete(context.Background(), nil, nil)

	assert.ErrorContains(t, err, "invalid api key")
	assert.Equal(t, 1, model.calls)
}

func TestModelJudge_ReturnsRawText(t *testing.T) {
	model := fake.NewFakeLLM([]string{`  {"is_valid": true, "reason": "grounded"}` + "\n"})
	judge := NewModelJudge(model, fastPolicy())

	raw, err := judge.Judge(context.Background(), []string{"§3.2"}, "five days")

	require.NoError(t, err)
	assert.Equal(t, `{"is_valid": true, "reason": "grounded"}`, raw)
}

func TestRenderValidatePrompt(t *testing.T) {
	prompt, err := RenderValidatePrompt([]string{"a", "b"}, "draft text")
	require.NoError(t, err)
	assert.Contains(t, prompt, "---\na\n\nb\n---")
	assert.Contains(t, prompt, "Draft:\n---\ndraft text\n---")
	assert.Contains(t, prompt, `{"is_valid": true/false, "reason": "..."}`)
}
