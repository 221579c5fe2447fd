package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/internal/testutil"
)

func echoHandler() TurnHandler {
	return TurnHandlerFunc(func(ctx context.Context, turn *core.Turn) error {
		if turn.Activity.IsMessage() {
			return turn.SendText(ctx, "echo: "+turn.Activity.Text)
		}
		return nil
	})
}

type mockTurnHandler struct{ mock.Mock }

func (m *mockTurnHandler) OnTurn(ctx context.Context, turn *core.Turn) error {
	return m.Called(ctx, turn).Error(0)
}

func post(t *testing.T, h http.Handler, act core.Activity, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(act)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, DefaultMessagesPath, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_MessageRunsTurn(t *testing.T) {
	sender := &testutil.RecordingSender{}
	s, err := New(echoHandler(), sender)
	require.NoError(t, err)

	rec := post(t, s.Handler(), testutil.NewActivityBuilder().Text("hi").Build(), "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"echo: hi"}, sender.Messages())
}

func TestServer_InvokeGetsInvokeResponse(t *testing.T) {
	s, err := New(echoHandler(), &testutil.RecordingSender{})
	require.NoError(t, err)

	act := testutil.NewActivityBuilder().Type(core.ActivityTypeInvoke).Name("signin/verifyState").Build()
	rec := post(t, s.Handler(), act, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200}`, rec.Body.String())
}

func TestServer_RejectsMalformedActivity(t *testing.T) {
	s, err := New(echoHandler(), &testutil.RecordingSender{})
	require.NoError(t, err)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, DefaultMessagesPath, bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, core.Activity{Text: "no type"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HandlerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid activity", core.ErrInvalidActivity, http.StatusBadRequest},
		{"broken collaborator", core.MissingDependency("storage"), http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(TurnHandlerFunc(func(context.Context, *core.Turn) error { return tt.err }), &testutil.RecordingSender{})
			require.NoError(t, err)
			rec := post(t, s.Handler(), testutil.NewActivityBuilder().Build(), "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	s, err := New(echoHandler(), &testutil.RecordingSender{})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_BearerRequired(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"), "app-id")
	var gotSubject string
	handler := TurnHandlerFunc(func(ctx context.Context, _ *core.Turn) error {
		gotSubject = SubjectFromContext(ctx)
		return nil
	})
	s, err := New(handler, &testutil.RecordingSender{}, func(o *Options) { o.Verifier = v })
	require.NoError(t, err)
	h := s.Handler()
	act := testutil.NewActivityBuilder().Build()

	assert.Equal(t, http.StatusUnauthorized, post(t, h, act, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(t, h, act, "garbage").Code)

	token, err := v.Generate("channel", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, post(t, h, act, token).Code)
	assert.Equal(t, "channel", gotSubject)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, &testutil.RecordingSender{})
	assert.ErrorIs(t, err, core.ErrMissingDependency)
	_, err = New(echoHandler(), nil)
	assert.ErrorIs(t, err, core.ErrMissingDependency)
}

func TestServer_PassesInboundActivityToHandler(t *testing.T) {
	h := &mockTurnHandler{}
	h.On("OnTurn", mock.Anything, mock.MatchedBy(func(turn *core.Turn) bool {
		return turn.Activity.Text == "@wb Berlin" && turn.Activity.ConversationID() != ""
	})).Return(nil).Once()

	s, err := New(h, &testutil.RecordingSender{})
	require.NoError(t, err)

	rec := post(t, s.Handler(), testutil.NewActivityBuilder().Text("@wb Berlin").Build(), "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	h.AssertExpectations(t)
}
