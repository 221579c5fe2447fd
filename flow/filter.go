package flow

import (
	"context"

	"github.com/hupe1980/agentdispatch/core"
)

// InvocationContext describes one function invocation requested by the
// model. Filters may inspect the call, observe or replace Result and Err
// after calling next, and set Terminate to end the chat loop once the
// current invocation returns.
type InvocationContext struct {
	ToolContext *core.ToolContext
	Call        core.FunctionCall

	// RequestSequenceIndex is the zero-based model request within the turn.
	RequestSequenceIndex int
	// FunctionSequenceIndex is the zero-based call within that request.
	FunctionSequenceIndex int
	// FunctionCount is the number of calls the request asked for.
	FunctionCount int

	Result    any
	Err       error
	Terminate bool
}

// Context returns the turn's cancellation context.
func (ic *InvocationContext) Context() context.Context { return ic.ToolContext.Context() }

// NextFunc invokes the rest of the filter chain and finally the tool.
type NextFunc func(ic *InvocationContext) error

// FunctionFilter wraps function invocations. A non-nil error aborts the
// turn; tool failures are reported through ic.Err instead.
type FunctionFilter interface {
	OnFunctionInvocation(ic *InvocationContext, next NextFunc) error
}

// FunctionFilterFunc adapts a function to FunctionFilter.
type FunctionFilterFunc func(ic *InvocationContext, next NextFunc) error

// OnFunctionInvocation implements FunctionFilter.
func (f FunctionFilterFunc) OnFunctionInvocation(ic *InvocationContext, next NextFunc) error {
	return f(ic, next)
}

// chain composes filters around terminal; the first filter runs outermost.
func chain(filters []FunctionFilter, terminal NextFunc) NextFunc {
	next := terminal
	for i := len(filters) - 1; i >= 0; i-- {
		f, inner := filters[i], next
		if f == nil {
			continue
		}
		next = func(ic *InvocationContext) error { return f.OnFunctionInvocation(ic, inner) }
	}
	return next
}
