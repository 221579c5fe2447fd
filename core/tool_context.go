package core

import (
	"context"

	"github.com/hupe1980/agentdispatch/logging"
)

// ToolContext is handed to a tool for the duration of one function call. It
// exposes the cancellation context, the turn the call belongs to (so tools
// can reply directly to the user) and the originating function call id.
// Its Log* methods attach that id to every line.
type ToolContext struct {
	ctx            context.Context
	turn           *Turn
	functionCallID string

	callLogger
}

// NewToolContext creates a ToolContext for one function call.
func NewToolContext(ctx context.Context, turn *Turn, functionCallID string, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:            ctx,
		turn:           turn,
		functionCallID: functionCallID,
		callLogger:     newCallLogger(logger, functionCallID),
	}
}

// Context returns the cancellation context of the turn.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// Turn returns the turn that triggered the call; nil outside a chat turn.
func (tc *ToolContext) Turn() *Turn { return tc.turn }

// FunctionCallID returns the id correlating the model request and tool result.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }
