package flow

import (
	"strings"

	"github.com/hupe1980/agentdispatch/logging"
)

// Names of the tools that answer the user directly by dispatching the turn.
const (
	ToolHandleWeatherRequest = "handle_weatherrequest"
	ToolHandleCAS            = "handle_cas"
)

// DefaultDispatchTools lists the dispatch-capable tools the gate watches.
var DefaultDispatchTools = []string{ToolHandleWeatherRequest, ToolHandleCAS}

// DispatchGateOptions configures a DispatchGate.
type DispatchGateOptions struct {
	// Tools names the dispatch-capable tools, compared case-insensitively.
	Tools  []string
	Logger logging.Logger
}

// DispatchGate ends the chat loop once a dispatch tool reports that it
// delivered the answer itself, so the user does not also receive a
// generated reply.
type DispatchGate struct {
	tools  map[string]struct{}
	logger logging.Logger
}

// NewDispatchGate creates a gate watching DefaultDispatchTools unless
// configured otherwise.
func NewDispatchGate(optFns ...func(o *DispatchGateOptions)) *DispatchGate {
	opts := DispatchGateOptions{Tools: DefaultDispatchTools}
	for _, fn := range optFns {
		fn(&opts)
	}
	g := &DispatchGate{tools: make(map[string]struct{}, len(opts.Tools)), logger: logging.OrNoOp(opts.Logger)}
	for _, name := range opts.Tools {
		g.tools[strings.ToLower(name)] = struct{}{}
	}
	return g
}

// IsDispatchTool reports whether name is watched by the gate.
func (g *DispatchGate) IsDispatchTool(name string) bool {
	_, ok := g.tools[strings.ToLower(name)]
	return ok
}

// OnFunctionInvocation implements FunctionFilter.
func (g *DispatchGate) OnFunctionInvocation(ic *InvocationContext, next NextFunc) error {
	g.logger.Debug("flow.gate.invocation",
		"function", ic.Call.Name,
		"request_sequence_index", ic.RequestSequenceIndex,
		"function_sequence_index", ic.FunctionSequenceIndex,
		"function_count", ic.FunctionCount,
	)

	if err := next(ic); err != nil {
		return err
	}

	if !g.IsDispatchTool(ic.Call.Name) {
		return nil
	}
	if done, ok := ic.Result.(bool); ok && done {
		ic.Terminate = true
		g.logger.Info("flow.gate.terminate", "function", ic.Call.Name)
	}
	return nil
}
