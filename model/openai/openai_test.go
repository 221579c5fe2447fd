package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/model"
)

func TestBuildMessages_PairsToolResults(t *testing.T) {
	contents := []core.Content{
		core.NewTextContent(core.RoleSystem, "sys"),
		core.NewTextContent(core.RoleUser, "weather?"),
		{Role: core.RoleAssistant, Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "handle_weatherrequest", Arguments: `{}`}}}},
		{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "handle_weatherrequest", Response: false}}}},
	}
	msgs := buildMessages(contents)
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
}

func TestModel_GenerateNonStreaming(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "handle_cas", "arguments": "{\"text\":\"return\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "sk-test"
		o.BaseURL = srv.URL + "/"
	})
	resp, err := model.Final(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewTextContent(core.RoleUser, "I want to return my order")},
		Tools: []model.ToolDefinition{{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        "handle_cas",
				Description: "returns",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
		}},
	})
	require.NoError(t, err)

	calls := resp.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, `{"text":"return"}`, calls[0].Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
	assert.Equal(t, "gpt-4o-mini", body["model"])
}

func TestModel_GenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "sk-test"
		o.BaseURL = srv.URL + "/"
	})
	_, err := model.Final(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewTextContent(core.RoleUser, "hi")},
	})
	assert.ErrorContains(t, err, "openai api error")
}

func TestModel_Info(t *testing.T) {
	info := NewModel(func(o *Options) { o.Model = "gpt-test"; o.APIKey = "x" }).Info()
	assert.Equal(t, "gpt-test", info.Name)
	assert.Equal(t, "openai", info.Provider)
}
