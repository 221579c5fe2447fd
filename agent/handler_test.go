package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/auth"
	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/correlation"
	"github.com/hupe1980/agentdispatch/dispatch"
	"github.com/hupe1980/agentdispatch/history"
	"github.com/hupe1980/agentdispatch/internal/testutil"
	"github.com/hupe1980/agentdispatch/model"
	"github.com/hupe1980/agentdispatch/registry"
	"github.com/hupe1980/agentdispatch/storage"
	"github.com/hupe1980/agentdispatch/transport"
)

type harness struct {
	store    *storage.MemoryStorage
	client   *testutil.ScriptedClient
	sender   *testutil.RecordingSender
	model    *model.MockModel
	history  *history.Store
	handler  *Handler
	tokenErr error
}

func remoteMessage(text string) core.Activity {
	return core.Activity{Type: core.ActivityTypeMessage, Text: text}
}

func newHarness(t *testing.T, m *model.MockModel, optFns ...func(o *Options)) *harness {
	t.Helper()
	h := &harness{
		store: storage.NewMemoryStorage(),
		client: &testutil.ScriptedClient{
			Start:   []testutil.Step{testutil.Act(core.Activity{Type: core.ActivityTypeEvent, Conversation: &core.ConversationAccount{ID: "d-1"}})},
			Answers: [][]testutil.Step{{testutil.Act(remoteMessage("Sunny, 72F"))}},
		},
		sender: &testutil.RecordingSender{},
		model:  m,
	}

	reg, err := registry.New([]registry.Agent{
		{Alias: WeatherAlias, DisplayName: "Weather Bot", Connection: registry.ConnectionSettings{EnvironmentID: "env-1", SchemaName: "cr_weather"}},
		{Alias: CASAlias, DisplayName: "Customer Service", Connection: registry.ConnectionSettings{EnvironmentID: "env-1", SchemaName: "cr_cas"}},
	})
	require.NoError(t, err)
	links, err := correlation.New(h.store)
	require.NoError(t, err)
	tokens := dispatch.TokenSourceFunc(func(context.Context, *core.Turn, string) (*auth.AccessToken, error) {
		if h.tokenErr != nil {
			return nil, h.tokenErr
		}
		return &auth.AccessToken{Token: "obo"}, nil
	})
	factory := transport.FactoryFunc(func(registry.Agent, transport.TokenProvider) (transport.Client, error) {
		return h.client, nil
	})
	d, err := dispatch.New(reg, tokens, links, factory)
	require.NoError(t, err)

	h.history, err = history.New(h.store)
	require.NoError(t, err)
	h.handler, err = New(d, h.history, m, optFns...)
	require.NoError(t, err)
	return h
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.handler.OnTurn(context.Background(), testutil.NewActivityBuilder().Text(text).Turn(h.sender)))
}

func (h *harness) depth(t *testing.T) int {
	t.Helper()
	c, err := h.history.GetOrCreate(context.Background(), testutil.NewActivityBuilder().Build())
	require.NoError(t, err)
	return c.Len()
}

func TestHandler_DirectDispatch(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock"))
	h.say(t, "@wb what's the weather in Seattle")

	assert.Equal(t, []string{registry.FormatDisplayPrefix("Weather Bot", "Sunny, 72F")}, h.sender.Messages())
	require.Len(t, h.client.Asks(), 1)
	assert.Equal(t, "what's the weather in Seattle", h.client.Asks()[0].Activity.Text)
	assert.Empty(t, h.model.Requests(), "dispatched turns skip the model")
	assert.Equal(t, 1, h.store.Len(), "only the correlation link is written")
}

func TestHandler_UnknownAliasFallsBackToChat(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock", model.Say("I don't know")))
	h.say(t, "@nobody hello")

	assert.Equal(t, []string{"I don't know"}, h.sender.Messages())
	assert.Empty(t, h.client.Asks())
	assert.Equal(t, 3, h.depth(t))
}

func TestHandler_ChatAnswer(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock", model.Say("Microsoft was founded in 1975.")))
	h.say(t, "when was Microsoft founded?")

	assert.Equal(t, []string{"Microsoft was founded in 1975."}, h.sender.Messages())
	assert.Equal(t, 3, h.depth(t))

	req := h.model.Requests()[0]
	require.Len(t, req.Contents, 2)
	assert.Equal(t, core.RoleSystem, req.Contents[0].Role)
	assert.Equal(t, history.DefaultPreamble, req.Contents[0].Text())
	names := make([]string, 0, len(req.Tools))
	for _, td := range req.Tools {
		names = append(names, td.Function.Name)
	}
	assert.ElementsMatch(t, []string{"handle_weatherrequest", "handle_cas"}, names)
}

func TestHandler_ChatEmptyAnswerSendsNothing(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock", model.Say("")))
	h.say(t, "hello?")

	assert.Empty(t, h.sender.Sent())
	assert.Equal(t, 2, h.depth(t), "only the preamble and the user message are kept")
}

func TestHandler_ChatDispatchToolAnswersDirectly(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock",
		model.CallTool("c1", "handle_weatherrequest", `{}`),
		model.Say("must not be generated"),
	))
	h.say(t, "what's the weather in Seattle")

	assert.Equal(t, []string{registry.FormatDisplayPrefix("Weather Bot", "Sunny, 72F")}, h.sender.Messages())
	require.Len(t, h.client.Asks(), 1)
	assert.Equal(t, "what's the weather in Seattle", h.client.Asks()[0].Activity.Text)
	assert.Len(t, h.model.Requests(), 1)
	assert.Equal(t, 2, h.depth(t), "tool results are not kept in history")
}

func TestHandler_ChatDispatchToolNotHandled(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock",
		model.CallTool("c1", "handle_cas", `{}`),
		model.Say("Please share your order number."),
	))
	// An empty message is not re-addressed, so the tool reports false.
	require.NoError(t, h.handler.OnTurn(context.Background(), testutil.NewActivityBuilder().Text("").Turn(h.sender)))

	assert.Equal(t, []string{"Please share your order number."}, h.sender.Messages())
	assert.Empty(t, h.client.Asks())
	assert.Len(t, h.model.Requests(), 2)
}

func TestHandler_FlushHistory(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock", model.Say("one"), model.Say("two")))
	h.say(t, "first")
	h.say(t, "second")
	require.Equal(t, 5, h.depth(t))

	h.say(t, "please FLUSH HISTORY now")
	assert.Equal(t, MsgFlushed, h.sender.Messages()[2])
	assert.Equal(t, 1, h.depth(t))

	h.say(t, "Obliviate")
	assert.Equal(t, MsgFlushed, h.sender.Messages()[3])
}

func TestHandler_FlushEmptyHistory(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock"))
	key, err := history.Key(testutil.NewActivityBuilder().Build())
	require.NoError(t, err)
	require.NoError(t, core.WriteRecord(context.Background(), h.store, key, history.Record{}))

	h.say(t, "obliviate")
	assert.Equal(t, []string{MsgNothingFlush}, h.sender.Messages())
}

func TestIsFlushCommand(t *testing.T) {
	assert.True(t, IsFlushCommand("Flush History"))
	assert.True(t, IsFlushCommand("please obliviate"))
	assert.False(t, IsFlushCommand("flush"))
}

func TestHandler_DispatchErrorPropagates(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock"))
	h.tokenErr = errors.New("token service down")
	err := h.handler.OnTurn(context.Background(), testutil.NewActivityBuilder().Text("@wb hi").Turn(h.sender))
	assert.ErrorContains(t, err, "token service down")
}

func TestHandler_WelcomesNewMembers(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock"), func(o *Options) {
		o.HostName = "host-1"
		o.Environment = "Test"
		o.Version = "1.2.3"
	})
	ctx := context.Background()

	botOnly := testutil.NewActivityBuilder().Type(core.ActivityTypeConversationUpdate).MembersAdded("bot").Turn(h.sender)
	require.NoError(t, h.handler.OnTurn(ctx, botOnly))
	assert.Empty(t, h.sender.Messages())

	joined := testutil.NewActivityBuilder().Type(core.ActivityTypeConversationUpdate).MembersAdded("bot", "user").Turn(h.sender)
	require.NoError(t, h.handler.OnTurn(ctx, joined))
	assert.Equal(t, []string{"**Agents SDK Multi-Agent Dispatcher Example.**\n" +
		"- HostName=host-1.\n" +
		"- Environment=Test.\n" +
		"- SDK Version=1.2.3.\n"}, h.sender.Messages())
}

type stubIdentity struct{ token *auth.Token }

func (s *stubIdentity) BeginChallenge(context.Context, *core.Turn) (*auth.Token, error) {
	return nil, nil
}

func (s *stubIdentity) ContinueChallenge(context.Context, *core.Turn, time.Time) (*auth.Token, error) {
	return s.token, nil
}

func (s *stubIdentity) SignOut(context.Context, *core.Turn) error { return nil }

func TestHandler_VerifyStateContinuesFlow(t *testing.T) {
	store := storage.NewMemoryStorage()
	fl, err := auth.NewFlow(store, &stubIdentity{token: &auth.Token{Value: "user"}})
	require.NoError(t, err)
	h := newHarness(t, model.NewMockModel("mock"), func(o *Options) { o.Flow = fl })
	ctx := context.Background()

	invoke := func() *core.Turn {
		b := testutil.NewActivityBuilder().Type(core.ActivityTypeInvoke).Name(auth.VerifyStateInvoke)
		a := b.Build()
		a.Value = []byte(`{"state":"123456"}`)
		return core.NewTurn(a, h.sender)
	}

	require.NoError(t, h.handler.OnTurn(ctx, invoke()))
	assert.Empty(t, h.sender.Messages(), "no flow started")

	_, err = fl.BeginFlow(ctx, invoke())
	require.NoError(t, err)
	require.NoError(t, h.handler.OnTurn(ctx, invoke()))
	assert.Equal(t, []string{auth.MsgLoggedIn}, h.sender.Messages())

	st, err := fl.State(ctx, invoke())
	require.NoError(t, err)
	assert.False(t, st.FlowStarted)
}

func TestHandler_IgnoresOtherActivities(t *testing.T) {
	h := newHarness(t, model.NewMockModel("mock"))
	turn := testutil.NewActivityBuilder().Type(core.ActivityTypeTyping).Turn(h.sender)
	require.NoError(t, h.handler.OnTurn(context.Background(), turn))
	assert.Empty(t, h.sender.Sent())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	store, err := history.New(storage.NewMemoryStorage())
	require.NoError(t, err)
	_, err = New(nil, store, model.NewMockModel("m"))
	assert.ErrorIs(t, err, core.ErrMissingDependency)
}
