package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/internal/util"
)

// Func is the implementation wrapped by a FunctionTool.
type Func func(toolCtx *core.ToolContext, args map[string]any) (any, error)

// FunctionTool adapts a plain Go function to Tool. Arguments are validated
// against the schema before fn runs; failures surface as *ToolError with code
// VALIDATION_ERROR or EXECUTION_ERROR unless fn returns a *ToolError itself.
// A FunctionTool is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunctionTool constructs a FunctionTool from an explicit schema.
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the schema from structType, see
// util.CreateSchema.
func NewFunctionToolFromStruct(name, description string, structType any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call implements Tool.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()

	toolCtx.LogDebug("tool.call.start", "tool", t.name)

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		toolCtx.LogWarn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		toolCtx.LogError("tool.call.error", "tool", t.name, "error", err.Error())
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}

	toolCtx.LogInfo("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
