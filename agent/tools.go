package agent

import (
	"strings"
	"time"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/flow"
	"github.com/hupe1980/agentdispatch/internal/util"
	"github.com/hupe1980/agentdispatch/registry"
	"github.com/hupe1980/agentdispatch/tool"
)

// Aliases the dispatch tools route to.
const (
	WeatherAlias = "wb"
	CASAlias     = "cas"
)

const returnsDescription = "Returns true when the request was successfully processed by Copilot Studio."

const weatherDescription = `Handles weather requests.
Get Current Weather
Get Forecast for Tomorrow
Get Forecast for a City
Can return return Current weather for a city, current forecast, or future forecasts for a city.
It can process specific commands like 'Get Current Weather', 'Get Forecast for Tomorrow'.
` + returnsDescription

const casDescription = `I would like to return an Order
Return an order
Return order
Its Order Number ORD-12345.
Its Order Number ORD-98765.
I want to return a product I ordered.
I would like to return the product I ordered
Can handle phrases like 'I would like to return my', 'I want to return a product', 'I have a problem with my product', 'My product is broken and I want to return it', 'Order Numbers'.
Can returns of product orders.
Can handle issues with product orders.
` + returnsDescription

// DispatchTools returns the tools that let the model hand a turn to the
// weather and customer service agents.
func DispatchTools(d Dispatcher) []tool.Tool {
	return []tool.Tool{
		NewDispatchTool(flow.ToolHandleWeatherRequest, weatherDescription, WeatherAlias, d),
		NewDispatchTool(flow.ToolHandleCAS, casDescription, CASAlias, d),
	}
}

// NewDispatchTool creates a tool that addresses the current turn to alias
// and dispatches it. The tool result is true when the dispatcher handled
// the turn, which tells the function-invocation gate to stop the chat loop.
func NewDispatchTool(name, description, alias string, d Dispatcher) *tool.FunctionTool {
	return tool.NewFunctionTool(name, description, util.ObjectSchema(nil), func(tc *core.ToolContext, _ map[string]any) (any, error) {
		turn := tc.Turn()
		if turn == nil {
			return false, nil
		}

		start := time.Now()
		original := turn.Activity.Text
		defer func() { turn.Activity.Text = original }()
		if strings.TrimSpace(original) != "" {
			turn.Activity.Text = "@" + alias + " " + original
		}

		target, ok := registry.ResolveAlias(turn.Activity.Text)
		if !ok || !d.Registry().IsKnown(target) {
			return false, nil
		}
		handled, err := d.Dispatch(tc.Context(), turn)
		tc.LogToolCall(name, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		return handled, nil
	})
}
