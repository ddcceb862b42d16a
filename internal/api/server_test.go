package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/internal/audit"
	"github.com/replydesk/internal/inbox"
	"github.com/replydesk/internal/poller"
)

const testSecret = "test-secret"

type fakePoller struct {
	status    poller.Status
	triggered int
}

func (p *fakePoller) Status() poller.Status { return p.status }
func (p *fakePoller) Trigger()              { p.triggered++ }

type fakeEvents struct {
	recent    []*audit.Event
	byEmail   map[int64][]*audit.Event
	err       error
	lastLimit int
}

func (f *fakeEvents) ListRecent(_ context.Context, limit int) ([]*audit.Event, error) {
	f.lastLimit = limit
	return f.recent, f.err
}

func (f *fakeEvents) ListByEmail(_ context.Context, id int64, limit int) ([]*audit.Event, error) {
	f.lastLimit = limit
	return f.byEmail[id], f.err
}

type fakeEscalations struct{ emails []*inbox.Email }

func (f *fakeEscalations) ListEscalations(context.Context, int) ([]*inbox.Email, error) {
	return f.emails, nil
}

func newTestServer(secret string) (*Server, *fakePoller, *fakeEvents) {
	id := int64(4)
	p := &fakePoller{status: poller.Status{State: poller.StateIdle, Cycles: 3}}
	ev := &fakeEvents{
		recent:  []*audit.Event{{ID: 1, Level: "INFO", Event: "INGESTED"}},
		byEmail: map[int64][]*audit.Event{4: {{ID: 2, EmailID: &id, Level: "WARN", Event: "ESCALATED"}}},
	}
	reason := "PII detected"
	esc := &fakeEscalations{emails: []*inbox.Email{{ID: 4, Status: inbox.StatusEscalated, Reason: &reason}}}
	return NewServer(0, Deps{Poller: p, Events: ev, Escalations: esc, JWTSecret: secret}), p, ev
}

func do(t *testing.T, s *Server, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestPublicRoutes(t *testing.T) {
	s, _, _ := newTestServer(testSecret)

	rec, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = do(t, s, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["state"])
	assert.EqualValues(t, 3, body["cycles"])

	rec, body = do(t, s, http.MethodGet, "/openapi.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.0.3", body["openapi"])
	assert.Contains(t, body["paths"], "/api/v1/conversations/{id}/events")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s, p, _ := newTestServer(testSecret)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/trigger-run"},
		{http.MethodGet, "/logs"},
		{http.MethodGet, "/escalations"},
		{http.MethodGet, "/api/v1/conversations/4/events"},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rec, _ := do(t, s, tc.method, tc.path, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec, _ = do(t, s, tc.method, tc.path, "not-a-jwt")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Zero(t, p.triggered)
}

func TestTriggerRun(t *testing.T) {
	s, p, _ := newTestServer(testSecret)
	token, err := MintToken(testSecret, "ops@example.com", time.Hour)
	require.NoError(t, err)

	rec, body := do(t, s, http.MethodPost, "/trigger-run", token)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, 1, p.triggered)
}

func TestLogsAndEvents(t *testing.T) {
	s, _, ev := newTestServer("")

	rec, body := do(t, s, http.MethodGet, "/logs?limit=5000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, audit.DefaultListLimit, ev.lastLimit, "out-of-range limit falls back to the default")
	assert.Len(t, body["events"], 1)

	rec, body = do(t, s, http.MethodGet, "/api/v1/conversations/4/events?limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, ev.lastLimit)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "ESCALATED", events[0].(map[string]any)["event"])

	rec, body = do(t, s, http.MethodGet, "/api/v1/conversations/99/events", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["events"])

	rec, _ = do(t, s, http.MethodGet, "/api/v1/conversations/abc/events", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ev.err = errors.New("db down")
	rec, body = do(t, s, http.MethodGet, "/logs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to retrieve events", body["error"])
}

func TestEscalations(t *testing.T) {
	s, _, _ := newTestServer("")

	rec, body := do(t, s, http.MethodGet, "/escalations", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	escalations := body["escalations"].([]any)
	require.Len(t, escalations, 1)
}

func TestTokens(t *testing.T) {
	token, err := MintToken(testSecret, "ops", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)

	_, err = ParseToken("other-secret", token)
	assert.Error(t, err)

	expired, err := MintToken(testSecret, "ops", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.Error(t, err)

	_, err = MintToken("", "ops", time.Minute)
	assert.Error(t, err)
}

func TestSpecValidates(t *testing.T) {
	require.NoError(t, Spec().Validate(context.Background()))
}
