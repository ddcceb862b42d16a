package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	snippets []string
	err      error
	gotQuery string
	gotK     int
}

func (f *fakeRetriever) Query(_ context.Context, text string, k int) ([]string, error) {
	f.gotQuery, f.gotK = text, k
	return f.snippets, f.err
}

type fakeResponder struct {
	err  error
	sent []Reply
}

func (f *fakeResponder) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, Reply{To: to, Subject: subject, Body: body})
	return nil
}

type auditEntry struct {
	conversationID int64
	event          string
	payload        any
}

type recordingSink struct {
	mu      sync.Mutex
	entries []auditEntry
	err     error
}

func (s *recordingSink) Append(_ context.Context, id int64, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, auditEntry{id, event, payload})
	return s.err
}

func (s *recordingSink) events(name string) []auditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auditEntry
	for _, e := range s.entries {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

type stagingOutbox struct{ staged []Reply }

func (o *stagingOutbox) Stage(r Reply) { o.staged = append(o.staged, r) }

func (o *stagingOutbox) RecordSent(r Reply) { o.staged = append(o.staged, r) }

func newTestDispatcher(t *testing.T, r *fakeRetriever, s *fakeResponder, sink *recordingSink) *Dispatcher {
	t.Helper()
	registry, err := NewStandardRegistry(Collaborators{Retriever: r, Responder: s, Audit: sink})
	require.NoError(t, err)
	return NewDispatcher(registry, sink)
}

func TestRegistry(t *testing.T) {
	noop := func(context.Context, Call) (string, error) { return "", nil }

	t.Run("descriptors are ordered by name", func(t *testing.T) {
		r, err := NewStandardRegistry(Collaborators{})
		require.NoError(t, err)

		var names []string
		for _, d := range r.Descriptors() {
			names = append(names, d.Name)
		}
		assert.Equal(t, []string{LogEvent, SearchKnowledge, SendReply}, names)
	})

	t.Run("duplicate names are rejected", func(t *testing.T) {
		_, err := NewRegistry(
			NewDescriptor("a", "", "", nil, noop),
			NewDescriptor("a", "", "", nil, noop),
		)
		assert.Error(t, err)
	})

	t.Run("handler is required", func(t *testing.T) {
		_, err := NewRegistry(Descriptor{Name: "a"})
		assert.Error(t, err)
	})
}

func TestDispatch_UnknownAction(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{}, sink)

	_, err := d.Dispatch(context.Background(), Call{ID: "c1", Name: "delete-account", ConversationID: 7})
	assert.ErrorIs(t, err, ErrUnknownAction)

	invoked := sink.events(EventToolInvoked)
	require.Len(t, invoked, 1)
	assert.Equal(t, int64(7), invoked[0].conversationID)
	assert.Equal(t, false, invoked[0].payload.(map[string]any)["ok"])
}

func TestDispatch_SearchKnowledge(t *testing.T) {
	t.Run("default k and JSON list result", func(t *testing.T) {
		r := &fakeRetriever{snippets: []string{"a", "b"}}
		d := newTestDispatcher(t, r, &fakeResponder{}, &recordingSink{})

		out, err := d.Dispatch(context.Background(), Call{Name: SearchKnowledge, Args: Args{"query": "refund policy"}})
		require.NoError(t, err)
		assert.JSONEq(t, `["a","b"]`, out)
		assert.Equal(t, "refund policy", r.gotQuery)
		assert.Equal(t, DefaultSearchK, r.gotK)
	})

	t.Run("float k from JSON is coerced", func(t *testing.T) {
		r := &fakeRetriever{}
		d := newTestDispatcher(t, r, &fakeResponder{}, &recordingSink{})

		out, err := d.Dispatch(context.Background(), Call{Name: SearchKnowledge, Args: Args{"query": "baggage", "k": 2.0}})
		require.NoError(t, err)
		assert.Equal(t, "[]", out, "an empty result is not an error")
		assert.Equal(t, 2, r.gotK)
	})

	t.Run("missing query", func(t *testing.T) {
		d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{}, &recordingSink{})

		_, err := d.Dispatch(context.Background(), Call{Name: SearchKnowledge, Args: Args{}})
		var argErr *ArgumentError
		require.ErrorAs(t, err, &argErr)
		assert.Equal(t, "query", argErr.Param)
	})

	t.Run("fractional k is rejected", func(t *testing.T) {
		d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{}, &recordingSink{})

		_, err := d.Dispatch(context.Background(), Call{Name: SearchKnowledge, Args: Args{"query": "q", "k": 2.5}})
		var argErr *ArgumentError
		assert.ErrorAs(t, err, &argErr)
	})
}

func TestDispatch_SendReply(t *testing.T) {
	args := Args{"to": "pax@example.com", "subject": "Re: refund", "body": "Refunds take 5 days."}

	t.Run("sends through the responder", func(t *testing.T) {
		resp := &fakeResponder{}
		d := newTestDispatcher(t, &fakeRetriever{}, resp, &recordingSink{})

		out, err := d.Dispatch(context.Background(), Call{Name: SendReply, Args: args})
		require.NoError(t, err)
		assert.Equal(t, "sent", out)
		require.Len(t, resp.sent, 1)
		assert.Equal(t, "pax@example.com", resp.sent[0].To)
	})

	t.Run("failure is a DeliveryError", func(t *testing.T) {
		smtpDown := errors.New("dial tcp: connection refused")
		d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{err: smtpDown}, &recordingSink{})

		_, err := d.Dispatch(context.Background(), Call{Name: SendReply, Args: args})
		var de *DeliveryError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "pax@example.com", de.To)
		assert.ErrorIs(t, err, smtpDown)
	})

	t.Run("outbox stages instead of sending", func(t *testing.T) {
		resp := &fakeResponder{}
		outbox := &stagingOutbox{}
		d := newTestDispatcher(t, &fakeRetriever{}, resp, &recordingSink{})

		out, err := d.Dispatch(context.Background(), Call{Name: SendReply, Args: args, Outbox: outbox})
		require.NoError(t, err)
		assert.Equal(t, StagedResult, out)
		assert.Empty(t, resp.sent)
		require.Len(t, outbox.staged, 1)
		assert.Equal(t, "Refunds take 5 days.", outbox.staged[0].Body)
	})

	t.Run("sent log records delivered replies", func(t *testing.T) {
		sentLog := &stagingOutbox{}
		d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{}, &recordingSink{})

		_, err := d.Dispatch(context.Background(), Call{Name: SendReply, Args: args, SentLog: sentLog})
		require.NoError(t, err)
		require.Len(t, sentLog.staged, 1)
		assert.Equal(t, Reply{To: "pax@example.com", Subject: "Re: refund", Body: "Refunds take 5 days."}, sentLog.staged[0])
	})

	t.Run("failed send is not logged", func(t *testing.T) {
		sentLog := &stagingOutbox{}
		d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{err: errors.New("421")}, &recordingSink{})

		_, err := d.Dispatch(context.Background(), Call{Name: SendReply, Args: args, SentLog: sentLog})
		require.Error(t, err)
		assert.Empty(t, sentLog.staged)
	})
}

func TestDispatch_LogEventSwallowsSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("database is down")}
	d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{}, sink)

	out, err := d.Dispatch(context.Background(), Call{
		Name: LogEvent,
		Args: Args{"conversation_id": "42", "event": "NEEDS_HUMAN", "payload": "out of policy"},
	})
	require.NoError(t, err)
	assert.Equal(t, "logged", out)

	logged := sink.events("NEEDS_HUMAN")
	require.Len(t, logged, 1)
	assert.Equal(t, int64(42), logged[0].conversationID)
	assert.Equal(t, map[string]string{"raw": "out of policy"}, logged[0].payload)
}

func TestDispatch_EveryCallIsAudited(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(t, &fakeRetriever{}, &fakeResponder{}, sink)
	ctx := context.Background()

	_, _ = d.Dispatch(ctx, Call{Name: SearchKnowledge, Args: Args{"query": "q"}})
	_, _ = d.Dispatch(ctx, Call{Name: LogEvent, Args: Args{"conversation_id": 1, "event": "X"}})
	_, _ = d.Dispatch(ctx, Call{Name: "nope"})

	assert.Len(t, sink.events(EventToolInvoked), 3)
}
