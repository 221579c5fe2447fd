package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openai/openai-go/packages/ssestream"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
	"github.com/hupe1980/agentdispatch/registry"
)

const (
	// DefaultAPIVersion is the Direct-to-Engine API version.
	DefaultAPIVersion = "2022-03-01-preview"

	conversationIDHeader = "x-ms-conversationid"
	maxErrorBody         = 64 << 10
)

// CopilotOptions configures a CopilotClient.
type CopilotOptions struct {
	HTTPClient *http.Client
	APIVersion string
	UserAgent  string
	Logger     logging.Logger
	Tracer     *logging.LinkTracer
}

// CopilotClient is a Client for Copilot Studio agents speaking the
// Direct-to-Engine protocol: JSON requests answered by server-sent event
// streams of activities.
type CopilotClient struct {
	baseURL string
	token   TokenProvider
	opts    CopilotOptions
}

var _ Client = (*CopilotClient)(nil)

// NewCopilotClient creates a client for agent authenticating with token.
func NewCopilotClient(agent registry.Agent, token TokenProvider, optFns ...func(o *CopilotOptions)) (*CopilotClient, error) {
	if token == nil {
		return nil, core.MissingDependency("token provider")
	}
	base, err := agent.Connection.ConversationsURL()
	if err != nil {
		return nil, &core.ConfigurationError{Alias: agent.Alias, Message: err.Error()}
	}
	opts := CopilotOptions{
		HTTPClient: http.DefaultClient,
		APIVersion: DefaultAPIVersion,
		UserAgent:  "agentdispatch",
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &CopilotClient{baseURL: base, token: token, opts: opts}, nil
}

// NewCopilotFactory returns a Factory producing CopilotClients.
func NewCopilotFactory(optFns ...func(o *CopilotOptions)) Factory {
	return FactoryFunc(func(agent registry.Agent, token TokenProvider) (Client, error) {
		return NewCopilotClient(agent, token, optFns...)
	})
}

// StartConversation implements Client.
func (c *CopilotClient) StartConversation(ctx context.Context, emitStartEvent bool) (<-chan core.Activity, <-chan error) {
	body := map[string]any{"emitStartConversationEvent": emitStartEvent}
	return c.stream(ctx, c.endpoint(""), body, "")
}

// AskQuestion implements Client.
func (c *CopilotClient) AskQuestion(ctx context.Context, conversationID string, activity core.Activity) (<-chan core.Activity, <-chan error) {
	out := activity.Clone()
	out.Conversation = &core.ConversationAccount{ID: conversationID}
	out.ChannelData = nil
	return c.stream(ctx, c.endpoint(conversationID), map[string]any{"activity": out}, conversationID)
}

func (c *CopilotClient) endpoint(conversationID string) string {
	u := c.baseURL
	if conversationID != "" {
		u += "/" + url.PathEscape(conversationID)
	}
	return u + "?api-version=" + url.QueryEscape(c.opts.APIVersion)
}

func (c *CopilotClient) stream(ctx context.Context, endpoint string, payload any, conversationID string) (<-chan core.Activity, <-chan error) {
	out := make(chan core.Activity)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		resp, err := c.post(ctx, endpoint, payload)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		if id := resp.Header.Get(conversationIDHeader); id != "" {
			conversationID = id
		}
		c.opts.Tracer.Remote("CONVO ID: %s", conversationID)

		dec := ssestream.NewDecoder(resp)
		for dec.Next() {
			ev := dec.Event()
			switch ev.Type {
			case "activity":
			case "end":
				return
			default:
				c.opts.Logger.Debug("transport.copilot.event.skipped", "event", ev.Type)
				continue
			}
			var act core.Activity
			if err := json.Unmarshal(ev.Data, &act); err != nil {
				errCh <- fmt.Errorf("decoding activity: %w", err)
				return
			}
			if act.Conversation == nil && conversationID != "" {
				act.Conversation = &core.ConversationAccount{ID: conversationID}
			}
			select {
			case out <- act:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if err := dec.Err(); err != nil {
			errCh <- fmt.Errorf("reading event stream: %w", err)
		}
	}()

	return out, errCh
}

func (c *CopilotClient) post(ctx context.Context, endpoint string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.opts.UserAgent)

	c.opts.Logger.Debug("transport.copilot.request", "endpoint", endpoint)
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &core.RemoteDispatchError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Operation returned an invalid status code '%s'", statusText(resp.StatusCode)),
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		c.opts.Logger.Warn("transport.copilot.unexpected_content_type", "content_type", ct)
	}
	return resp, nil
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return strings.ReplaceAll(t, " ", "")
	}
	return fmt.Sprint(code)
}
