// Package anthropic adapts the Anthropic Messages API to model.Model.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/model"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	// APIKey overrides ANTHROPIC_API_KEY.
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
}

// Model wraps the Anthropic Messages API behind model.Model. Streaming
// requests are served with a single final response.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.2,
		MaxTokens:   2048,
	}
}

// NewModel creates a model backed by a new official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.RequestTimeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req.Contents),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if system := systemBlocks(req.Contents); len(system) > 0 {
			params.System = system
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var parts []core.Part
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if t := block.AsText(); t.Text != "" {
					parts = append(parts, core.TextPart{Text: t.Text})
				}
			case "tool_use":
				tu := block.AsToolUse()
				args := ""
				if tu.Input != nil {
					if data, err := json.Marshal(tu.Input); err == nil {
						args = string(data)
					}
				}
				parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
					ID:        tu.ID,
					Name:      tu.Name,
					Arguments: args,
				}})
			}
		}

		finish := "stop"
		switch resp.StopReason {
		case "":
		case anthropic.StopReasonToolUse:
			finish = "tool_calls"
		case anthropic.StopReasonMaxTokens:
			finish = "length"
		default:
			finish = string(resp.StopReason)
		}

		out <- model.Response{
			ID:           resp.ID,
			Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
			FinishReason: finish,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

// buildMessages converts contents to Anthropic messages. Tool results travel
// in a user message following the assistant tool_use blocks.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, c := range contents {
		switch c.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			if blocks := assistantBlocks(c.Parts); len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case core.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range c.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok && fr.FunctionResponse.ID != "" {
					blocks = append(blocks, anthropic.NewToolResultBlock(
						fr.FunctionResponse.ID,
						model.ResponseText(fr.FunctionResponse),
						fr.FunctionResponse.Error != "",
					))
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}
	return messages
}

func assistantBlocks(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any = map[string]any{}
			if part.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
					input = part.FunctionCall.Arguments
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
		}
	}
	return blocks
}

func systemBlocks(contents []core.Content) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, c := range contents {
		if c.Role != core.RoleSystem {
			continue
		}
		if text := c.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := t.Function.Parameters; params != nil {
			if props, ok := params["properties"]; ok {
				schema.Properties = props
			}
			schema.Required = requiredFields(params["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if t.Function.Description != "" && out[i].OfTool != nil {
			out[i].OfTool.Description = anthropic.String(t.Function.Description)
		}
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic", SupportsTools: true}
}
