package agent

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/replydesk/internal/actions"
)

// Role tags a transcript turn.
type Role string

const (
	RoleSystem       Role = "system"
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleActionResult Role = "action-result"
)

// ActionRequest is an assistant's request to run one registered action.
type ActionRequest struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Args actions.Args `json:"args"`
}

// Turn is one transcript entry. Action is only set on assistant turns;
// ActionName, CallID and IsError only on action-result turns.
type Turn struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Action     *ActionRequest `json:"action,omitempty"`
	ActionName string         `json:"action_name,omitempty"`
	CallID     string         `json:"call_id,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// SystemTurn builds a system directive turn.
func SystemTurn(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

// UserTurn builds a user turn.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantText builds a plain assistant message.
func AssistantText(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// AssistantAction builds an assistant turn that requests an action.
func AssistantAction(content string, req ActionRequest) Turn {
	if req.ID == "" {
		req.ID = "call_" + uuid.NewString()
	}
	return Turn{Role: RoleAssistant, Content: content, Action: &req}
}

// ActionResult builds the turn answering an action request.
func ActionResult(req ActionRequest, content string, isError bool) Turn {
	return Turn{
		Role:       RoleActionResult,
		Content:    content,
		ActionName: req.Name,
		CallID:     req.ID,
		IsError:    isError,
	}
}

// Decision is the terminal outcome of a conversation.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionDeliver  Decision = "deliver"
	DecisionEscalate Decision = "escalate"
)

// Message is the inbound email that starts a conversation.
type Message struct {
	ID      int64  `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// UserPrompt frames the message as the first user turn.
func (m Message) UserPrompt() string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", m.From, m.Subject, m.Body)
}

// State is owned by a single Run. It is not safe for concurrent use.
type State struct {
	Message
	RunID string `json:"run_id"`

	// Iterations counts engine calls.
	Iterations int      `json:"iterations"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason"`

	transcript []Turn
	context    ContextSet
	staged     *actions.Reply
	sent       []actions.Reply
}

// NewState creates the state for one run of msg.
func NewState(msg Message) *State {
	return &State{Message: msg, RunID: uuid.NewString()}
}

// Transcript returns a copy of the turns appended so far.
func (s *State) Transcript() []Turn {
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Context returns the accumulated grounding snippets in first-seen order.
func (s *State) Context() []string {
	return s.context.Items()
}

// Decided reports whether a terminal decision has been made.
func (s *State) Decided() bool {
	return s.Decision != DecisionNone
}

// Sent reports whether a reply has already left the system.
func (s *State) Sent() bool {
	return len(s.sent) > 0
}

// SentReplies returns the replies that reached the Responder, in send order.
func (s *State) SentReplies() []actions.Reply {
	out := make([]actions.Reply, len(s.sent))
	copy(out, s.sent)
	return out
}

// RecordSent implements actions.SentLog.
func (s *State) RecordSent(reply actions.Reply) {
	s.sent = append(s.sent, reply)
}

// StagedReply returns the reply held for delivery after validation, if any.
func (s *State) StagedReply() (actions.Reply, bool) {
	if s.staged == nil {
		return actions.Reply{}, false
	}
	return *s.staged, true
}

// Stage implements actions.Outbox. The latest staged reply wins.
func (s *State) Stage(reply actions.Reply) {
	s.staged = &reply
}

func (s *State) append(turn Turn) {
	s.transcript = append(s.transcript, turn)
}

func (s *State) finalize(decision Decision, reason string) {
	if s.Decided() {
		return
	}
	s.Decision = decision
	s.Reason = reason
}
