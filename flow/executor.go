package flow

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/hupe1980/agentdispatch/tool"
)

// PanicError is reported as the tool error when a tool panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic recovered: %v", p.Value) }

func panicError(r any) error { return &PanicError{Value: r, Stack: debug.Stack()} }

// invokeTool is the terminal stage of the filter chain. It never returns an
// error; lookup, decode and tool failures land in ic.Err.
func invokeTool(tools *tool.Set) NextFunc {
	return func(ic *InvocationContext) error {
		defer func() {
			if r := recover(); r != nil {
				ic.Result, ic.Err = nil, panicError(r)
				ic.ToolContext.LogError("flow.function.panic", "function", ic.Call.Name, "recover", r)
			}
		}()

		impl, ok := tools.Lookup(ic.Call.Name)
		if !ok {
			ic.Err = fmt.Errorf("tool %s not found", ic.Call.Name)
			return nil
		}

		args := map[string]any{}
		if ic.Call.Arguments != "" {
			if err := json.Unmarshal([]byte(ic.Call.Arguments), &args); err != nil {
				ic.Err = fmt.Errorf("failed to unmarshal args: %w", err)
				return nil
			}
		}

		ic.Result, ic.Err = impl.Call(ic.ToolContext, args)
		return nil
	}
}
