package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/model"
	"github.com/hupe1980/agentdispatch/tool"
)

type recordingTool struct {
	name     string
	result   any
	err      error
	panicMsg any
	calls    []map[string]any
}

func (rt *recordingTool) Name() string               { return rt.name }
func (rt *recordingTool) Description() string        { return "recording tool" }
func (rt *recordingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (rt *recordingTool) Call(_ *core.ToolContext, args map[string]any) (any, error) {
	rt.calls = append(rt.calls, args)
	if rt.panicMsg != nil {
		panic(rt.panicMsg)
	}
	return rt.result, rt.err
}

func userHistory(text string) []core.Content {
	return []core.Content{
		core.NewTextContent(core.RoleSystem, "preamble"),
		core.NewTextContent(core.RoleUser, text),
	}
}

func newLoop(t *testing.T, m model.Model, tools ...tool.Tool) *ChatLoop {
	t.Helper()
	loop, err := NewChatLoop(m, tool.NewSet(tools...), func(o *ChatLoopOptions) {
		o.Filters = []FunctionFilter{NewDispatchGate()}
		o.MaxIterations = 3
	})
	require.NoError(t, err)
	return loop
}

func TestChatLoop_PlainAnswer(t *testing.T) {
	m := model.NewMockModel("mock", model.Say("Microsoft was founded in 1975."))
	res, err := newLoop(t, m).Run(context.Background(), nil, userHistory("when was microsoft founded"))
	require.NoError(t, err)

	assert.Equal(t, core.RoleAssistant, res.Content.Role)
	assert.Equal(t, "Microsoft was founded in 1975.", res.Content.Text())
	assert.False(t, res.Terminated)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, res.Appended, 1)
}

func TestChatLoop_DispatchToolTrueTerminates(t *testing.T) {
	weather := &recordingTool{name: ToolHandleWeatherRequest, result: true}
	m := model.NewMockModel("mock",
		model.CallTool("c1", ToolHandleWeatherRequest, `{"text":"weather in Seattle"}`),
		model.Say("should never be requested"),
	)
	loop := newLoop(t, m, weather)

	res, err := loop.Run(context.Background(), nil, userHistory("weather in Seattle"))
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.Equal(t, core.RoleTool, res.Content.Role)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, m.Requests(), 1, "no further model request after termination")
	require.Len(t, weather.calls, 1)
	assert.Equal(t, "weather in Seattle", weather.calls[0]["text"])
}

func TestChatLoop_DispatchToolFalseContinues(t *testing.T) {
	cas := &recordingTool{name: ToolHandleCAS, result: false}
	m := model.NewMockModel("mock",
		model.CallTool("c1", "HANDLE_CAS", `{"text":"return my order"}`),
		model.Say("I don't know"),
	)
	res, err := newLoop(t, m, cas).Run(context.Background(), nil, userHistory("return my order"))
	require.NoError(t, err)

	assert.False(t, res.Terminated)
	assert.Equal(t, "I don't know", res.Content.Text())
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.Appended, 3)
	assert.Equal(t, core.RoleTool, res.Appended[1].Role)

	second := m.Requests()[1]
	require.Len(t, second.Contents, 4)
	fr := second.Contents[3].Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.Equal(t, "c1", fr.ID)
	assert.Equal(t, false, fr.Response)
}

func TestChatLoop_UnrelatedToolTrueDoesNotTerminate(t *testing.T) {
	other := &recordingTool{name: "lookup", result: true}
	m := model.NewMockModel("mock", model.CallTool("c1", "lookup", ""), model.Say("done"))
	res, err := newLoop(t, m, other).Run(context.Background(), nil, userHistory("x"))
	require.NoError(t, err)
	assert.False(t, res.Terminated)
	assert.Equal(t, "done", res.Content.Text())
}

func TestChatLoop_StopsInvokingAfterTerminate(t *testing.T) {
	weather := &recordingTool{name: ToolHandleWeatherRequest, result: true}
	cas := &recordingTool{name: ToolHandleCAS, result: true}
	m := model.NewMockModel("mock", model.Response{
		Content: core.Content{Role: core.RoleAssistant, Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "a", Name: ToolHandleWeatherRequest}},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "b", Name: ToolHandleCAS}},
		}},
	})
	res, err := newLoop(t, m, weather, cas).Run(context.Background(), nil, userHistory("x"))
	require.NoError(t, err)
	assert.True(t, res.Terminated)
	assert.Len(t, weather.calls, 1)
	assert.Empty(t, cas.calls)
}

func TestChatLoop_ToolFailuresBecomeResponses(t *testing.T) {
	failing := &recordingTool{name: "failing", err: errors.New("backend down")}
	panicking := &recordingTool{name: "panicking", panicMsg: "kaboom"}
	m := model.NewMockModel("mock", model.Response{
		Content: core.Content{Role: core.RoleAssistant, Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "failing"}},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "panicking"}},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "missing"}},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "failing", Arguments: "{not json"}},
		}},
	}, model.Say("sorry"))

	res, err := newLoop(t, m, failing, panicking).Run(context.Background(), nil, userHistory("x"))
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.Content.Text())

	toolContent := res.Appended[1]
	require.Len(t, toolContent.Parts, 4)
	errs := make([]string, 0, 4)
	for _, p := range toolContent.Parts {
		fr := p.(core.FunctionResponsePart).FunctionResponse
		assert.NotEmpty(t, fr.ID, "ids are assigned when the model omits them")
		errs = append(errs, fr.Error)
	}
	assert.Equal(t, "backend down", errs[0])
	assert.Contains(t, errs[1], "kaboom")
	assert.Equal(t, "tool missing not found", errs[2])
	assert.Contains(t, errs[3], "failed to unmarshal args")
}

func TestChatLoop_IterationCapForcesAnswer(t *testing.T) {
	loopTool := &recordingTool{name: "again", result: "more"}
	m := model.NewMockModel("mock",
		model.CallTool("1", "again", ""),
		model.CallTool("2", "again", ""),
		model.CallTool("3", "again", ""),
		model.Say("final"),
	)
	res, err := newLoop(t, m, loopTool).Run(context.Background(), nil, userHistory("x"))
	require.NoError(t, err)

	assert.Equal(t, "final", res.Content.Text())
	assert.Equal(t, 4, res.Iterations)
	reqs := m.Requests()
	assert.NotEmpty(t, reqs[2].Tools)
	assert.Empty(t, reqs[3].Tools, "the capped request offers no tools")
}

func TestChatLoop_FilterErrorAbortsTurn(t *testing.T) {
	boom := errors.New("filter failed")
	loop, err := NewChatLoop(
		model.NewMockModel("mock", model.CallTool("c1", "x", "")),
		tool.NewSet(&recordingTool{name: "x"}),
		func(o *ChatLoopOptions) {
			o.Filters = []FunctionFilter{FunctionFilterFunc(func(*InvocationContext, NextFunc) error { return boom })}
		},
	)
	require.NoError(t, err)
	_, err = loop.Run(context.Background(), nil, userHistory("x"))
	assert.ErrorIs(t, err, boom)
}

func TestChatLoop_ModelError(t *testing.T) {
	loop, err := NewChatLoop(model.NewMockModel("mock"), nil)
	require.NoError(t, err)
	_, err = loop.Run(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "generate")
}

func TestChatLoop_HistoryNotModified(t *testing.T) {
	history := userHistory("x")
	m := model.NewMockModel("mock", model.CallTool("c1", "x", ""), model.Say("y"))
	_, err := newLoop(t, m, &recordingTool{name: "x"}).Run(context.Background(), nil, history)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestNewChatLoop_RequiresModel(t *testing.T) {
	_, err := NewChatLoop(nil, nil)
	assert.ErrorIs(t, err, core.ErrMissingDependency)
}
