package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentdispatch/core"
)

// MockModel is a lightweight in-memory Model for tests and the console. It
// replays Script in order, one response per Generate call; once the script
// is exhausted it echoes the last user text.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	script   []Response
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string, script ...Response) *MockModel {
	return &MockModel{
		info:   Info{Name: name, Provider: "mock", SupportsTools: true},
		script: script,
	}
}

// Say is a scripted final assistant text response.
func Say(text string) Response {
	return Response{Content: core.NewTextContent(core.RoleAssistant, text), FinishReason: "stop"}
}

// CallTool is a scripted response requesting one function call.
func CallTool(id, name, args string) Response {
	return Response{
		Content: core.Content{
			Role:  core.RoleAssistant,
			Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args}}},
		},
		FinishReason: "tool_calls",
	}
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var next *Response
	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		next = &r
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		if next != nil {
			respCh <- *next
			return
		}
		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		respCh <- Say(fmt.Sprintf("Mock response to: %s", req.Contents[len(req.Contents)-1].Text()))
	}()
	return respCh, errCh
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
