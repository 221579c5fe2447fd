// Package tool exposes Go functions to the language model as callable
// functions with schema validated arguments.
package tool

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/internal/util"
	"github.com/hupe1980/agentdispatch/model"
)

// Tool is a function the model may ask the chat loop to invoke.
type Tool interface {
	// Name is the function name advertised to the model.
	Name() string

	// Description tells the model when to call the function.
	Description() string

	// Parameters is the JSON schema of the arguments.
	Parameters() map[string]any

	// Call runs the function with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Set is an immutable collection of tools looked up by case-insensitive name.
type Set struct {
	byName map[string]Tool
	order  []Tool
}

// NewSet builds a Set. Later tools replace earlier ones with the same name.
func NewSet(tools ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		key := strings.ToLower(t.Name())
		if _, dup := s.byName[key]; dup {
			for i, existing := range s.order {
				if strings.EqualFold(existing.Name(), t.Name()) {
					s.order[i] = t
				}
			}
		} else {
			s.order = append(s.order, t)
		}
		s.byName[key] = t
	}
	return s
}

// Lookup returns the tool registered under name.
func (s *Set) Lookup(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[strings.ToLower(name)]
	return t, ok
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns the tool names sorted.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.order))
	for _, t := range s.order {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

// Definitions renders the set as model tool definitions in registration order.
func (s *Set) Definitions() []model.ToolDefinition {
	if s == nil {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(s.order))
	for _, t := range s.order {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
