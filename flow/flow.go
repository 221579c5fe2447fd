// Package flow runs the tool-calling chat loop of the general conversation
// path and hosts the function-invocation gate that ends it early when a
// dispatch tool has already answered the user.
package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
	"github.com/hupe1980/agentdispatch/model"
	"github.com/hupe1980/agentdispatch/tool"
)

// ChatLoopOptions configures a ChatLoop.
type ChatLoopOptions struct {
	// MaxIterations caps the model requests that may call tools. One more
	// request without tools produces the answer once the cap is reached.
	MaxIterations int
	// Filters wrap every function invocation, outermost first.
	Filters []FunctionFilter
	Stream  bool
	Logger  logging.Logger
}

// Result is the outcome of one chat-loop run.
type Result struct {
	// Content is the final assistant answer, or the tool-role content of the
	// invocation that terminated the loop.
	Content    core.Content
	Terminated bool
	// Iterations counts the model requests made.
	Iterations int
	// Appended holds every content the run added after the input history.
	Appended []core.Content
}

// ChatLoop alternates model requests and tool invocations until the model
// answers without calling a tool or a filter terminates the loop.
type ChatLoop struct {
	model model.Model
	tools *tool.Set
	opts  ChatLoopOptions
}

// NewChatLoop creates a loop over m offering tools.
func NewChatLoop(m model.Model, tools *tool.Set, optFns ...func(o *ChatLoopOptions)) (*ChatLoop, error) {
	if m == nil {
		return nil, core.MissingDependency("model")
	}
	opts := ChatLoopOptions{MaxIterations: 5}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if tools == nil {
		tools = tool.NewSet()
	}
	return &ChatLoop{model: m, tools: tools, opts: opts}, nil
}

// Run answers the last entry of history. history is not modified; turn is
// handed to tools so they can reply directly.
func (l *ChatLoop) Run(ctx context.Context, turn *core.Turn, history []core.Content) (Result, error) {
	contents := append([]core.Content(nil), history...)
	var res Result

	for request := 0; ; request++ {
		req := model.Request{Contents: contents, Stream: l.opts.Stream}
		offerTools := request < l.opts.MaxIterations && l.tools.Len() > 0 && l.model.Info().SupportsTools
		if offerTools {
			req.Tools = l.tools.Definitions()
		}

		start := time.Now()
		resp, err := model.Final(ctx, l.model, req)
		res.Iterations++
		if err != nil {
			return res, fmt.Errorf("generate: %w", err)
		}
		l.opts.Logger.Debug("flow.model.response",
			"request_sequence_index", request,
			"finish_reason", resp.FinishReason,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if resp.Content.Role == "" {
			resp.Content.Role = core.RoleAssistant
		}
		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 || !offerTools {
			res.Content = answerOnly(resp.Content)
			res.Appended = append(res.Appended, res.Content)
			return res, nil
		}

		calls = withCallIDs(calls)
		callContent := core.Content{Role: core.RoleAssistant}
		if text := resp.Content.Text(); text != "" {
			callContent.Parts = append(callContent.Parts, core.TextPart{Text: text})
		}
		for _, fc := range calls {
			callContent.Parts = append(callContent.Parts, core.FunctionCallPart{FunctionCall: fc})
		}
		contents = append(contents, callContent)
		res.Appended = append(res.Appended, callContent)

		toolContent, terminate, err := l.invoke(ctx, turn, request, calls)
		if len(toolContent.Parts) > 0 {
			contents = append(contents, toolContent)
			res.Appended = append(res.Appended, toolContent)
		}
		if err != nil {
			return res, err
		}
		if terminate {
			res.Content = toolContent
			res.Terminated = true
			return res, nil
		}
	}
}

// invoke runs calls in order through the filter chain. It stops after the
// invocation that sets Terminate.
func (l *ChatLoop) invoke(ctx context.Context, turn *core.Turn, request int, calls []core.FunctionCall) (core.Content, bool, error) {
	out := core.Content{Role: core.RoleTool}
	next := chain(l.opts.Filters, invokeTool(l.tools))

	for i, fc := range calls {
		if err := ctx.Err(); err != nil {
			return out, false, err
		}
		ic := &InvocationContext{
			ToolContext:           core.NewToolContext(ctx, turn, fc.ID, l.opts.Logger),
			Call:                  fc,
			RequestSequenceIndex:  request,
			FunctionSequenceIndex: i,
			FunctionCount:         len(calls),
		}

		start := time.Now()
		if err := next(ic); err != nil {
			return out, false, fmt.Errorf("function %s: %w", fc.Name, err)
		}
		l.opts.Logger.Info("flow.function.executed",
			"function", fc.Name,
			"function_call_id", fc.ID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", ic.Err != nil,
		)

		fr := core.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: ic.Result}
		if ic.Err != nil {
			fr.Error = ic.Err.Error()
		}
		out.Parts = append(out.Parts, core.FunctionResponsePart{FunctionResponse: fr})

		if ic.Terminate {
			return out, true, nil
		}
	}
	return out, false, nil
}

func answerOnly(c core.Content) core.Content {
	return core.NewTextContent(c.Role, c.Text())
}

func withCallIDs(calls []core.FunctionCall) []core.FunctionCall {
	out := make([]core.FunctionCall, len(calls))
	for i, fc := range calls {
		if fc.ID == "" {
			fc.ID = "call_" + uuid.NewString()
		}
		out[i] = fc
	}
	return out
}
