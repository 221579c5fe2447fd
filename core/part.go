package core

import (
	"encoding/json"
	"fmt"
)

// Conversation roles used by chat history and the model adapters.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string `json:"text"`
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Optional stable id (can be supplied later)
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (e.g. JSON)
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall `json:"functionCall"`
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Function name
	Response any    `json:"response,omitempty"` // Successful result (any shape)
	Error    string `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"functionResponse"`
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, tool, system)
	Parts []Part `json:"parts"`          // Ordered heterogeneous parts
}

// NewTextContent builds a single-part text content for role.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// FunctionCalls returns the function call requests carried by c.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

type wirePart struct {
	Text             *string           `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

// MarshalJSON encodes the closed Part set as discriminated objects so that
// persisted chat history can be decoded back into typed parts.
func (c Content) MarshalJSON() ([]byte, error) {
	wc := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			text := v.Text
			wc.Parts = append(wc.Parts, wirePart{Text: &text})
		case FunctionCallPart:
			fc := v.FunctionCall
			wc.Parts = append(wc.Parts, wirePart{FunctionCall: &fc})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			wc.Parts = append(wc.Parts, wirePart{FunctionResponse: &fr})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(wc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	var wc wireContent
	if err := json.Unmarshal(data, &wc); err != nil {
		return err
	}
	c.Role = wc.Role
	c.Parts = make([]Part, 0, len(wc.Parts))
	for i, wp := range wc.Parts {
		switch {
		case wp.Text != nil:
			c.Parts = append(c.Parts, TextPart{Text: *wp.Text})
		case wp.FunctionCall != nil:
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *wp.FunctionCall})
		case wp.FunctionResponse != nil:
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *wp.FunctionResponse})
		default:
			return fmt.Errorf("part %d: unknown part shape", i)
		}
	}
	return nil
}
