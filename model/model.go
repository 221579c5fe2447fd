package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentdispatch/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the chat loop.
type Request struct {
	Contents []core.Content   `json:"contents"` // Ordered dialogue, system preamble first
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Final drains a generation and returns its last non-partial response.
func Final(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	var (
		final Response
		have  bool
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, have = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if !have {
		return Response{}, fmt.Errorf("model %s returned no final response", m.Info().Name)
	}
	return final, nil
}

// ResponseText renders a function response for providers that take tool
// results as text: strings pass through, other values are JSON encoded and
// failures are reported as an error object.
func ResponseText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		data, _ := json.Marshal(map[string]string{"error": fr.Error})
		return string(data)
	}
	if s, ok := fr.Response.(string); ok {
		return s
	}
	data, err := json.Marshal(fr.Response)
	if err != nil {
		return fmt.Sprintf("%v", fr.Response)
	}
	return string(data)
}
