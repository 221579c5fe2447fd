// Package openai adapts the OpenAI Chat Completions API (streaming and
// function calling) to model.Model.
package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/model"
)

// aggCall accumulates the streamed deltas of one tool call.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey overrides OPENAI_API_KEY.
	APIKey string
	// BaseURL points the client at an OpenAI compatible endpoint.
	BaseURL        string
	RequestTimeout time.Duration
}

// Model wraps the OpenAI Chat Completions API behind model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 2048,
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
	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model from an existing client. Client level
// options (APIKey, BaseURL, RequestTimeout) are ignored.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, buildMessages(req.Contents))
		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}
		m.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

// buildMessages converts contents to chat messages. Tool results are placed
// right after the assistant message that requested them; results whose call
// is not in the history are appended at the end.
func buildMessages(contents []core.Content) []openai.ChatCompletionMessageParamUnion {
	results := map[string]string{}
	var order []string
	for _, c := range contents {
		if c.Role != core.RoleTool {
			continue
		}
		for _, p := range c.Parts {
			fr, ok := p.(core.FunctionResponsePart)
			if !ok || fr.FunctionResponse.ID == "" {
				continue
			}
			if _, seen := results[fr.FunctionResponse.ID]; seen {
				continue
			}
			results[fr.FunctionResponse.ID] = model.ResponseText(fr.FunctionResponse)
			order = append(order, fr.FunctionResponse.ID)
		}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for _, c := range contents {
		text := c.Text()
		switch c.Role {
		case core.RoleTool:
			continue
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case core.RoleAssistant:
			calls := c.FunctionCalls()
			if len(calls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			messages = append(messages, assistantToolCalls(text, calls))
			for _, fc := range calls {
				if resp, ok := results[fc.ID]; ok {
					messages = append(messages, openai.ToolMessage(resp, fc.ID))
					delete(results, fc.ID)
				}
			}
		default:
			if text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}
	for _, id := range order {
		if resp, ok := results[id]; ok {
			messages = append(messages, openai.ToolMessage(resp, id))
		}
	}
	return messages
}

func assistantToolCalls(text string, calls []core.FunctionCall) openai.ChatCompletionMessageParamUnion {
	msg := &openai.ChatCompletionAssistantMessageParam{}
	if text != "" {
		msg.Content.OfString = openai.String(text)
	}
	for _, fc := range calls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   fc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: fc.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}
}

func (m *Model) buildParams(req model.Request, messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	for _, tdef := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		})
	}
	return params
}

func (m *Model) handleStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response, errCh chan<- error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text   strings.Builder
		calls  = map[int64]*aggCall{}
		id     string
		finish string
		usage  *model.TokenUsage
	)
	for stream.Next() {
		ck := stream.Current()
		id = ck.ID
		if ck.Usage.TotalTokens > 0 {
			usage = tokenUsage(ck.Usage)
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				out <- model.Response{ID: id, Partial: true, Content: core.NewTextContent(core.RoleAssistant, ch.Delta.Content)}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := calls[tc.Index]
				if !ok {
					ac = &aggCall{}
					calls[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
			if ch.FinishReason != "" {
				finish = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
		return
	}

	var parts []core.Part
	if text.Len() > 0 {
		parts = append(parts, core.TextPart{Text: text.String()})
	}
	indexes := make([]int64, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	for _, i := range indexes {
		ac := calls[i]
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: ac.id, Name: ac.name, Arguments: ac.args}})
	}
	out <- model.Response{
		ID:           id,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finish,
		Usage:        usage,
	}
}

func (m *Model) handleNonStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response, errCh chan<- error) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("openai api error: no choices returned")
		return
	}
	ch0 := resp.Choices[0]
	parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+1)
	if ch0.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
	out <- model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: ch0.FinishReason,
		Usage:        tokenUsage(resp.Usage),
	}
}

func tokenUsage(u openai.CompletionUsage) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "openai", SupportsTools: true}
}
