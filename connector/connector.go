// Package connector delivers reply activities to the channel a turn came
// from: the Bot Framework connector REST API for hosted channels and a
// console writer for local sessions.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

// Options configures a Client.
type Options struct {
	// HTTPClient must authenticate as the bot, see auth.BotCredentials.Client.
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Client is a core.ActivitySender posting to the Bot Framework connector of
// the inbound activity's service URL.
type Client struct {
	opts Options
}

var _ core.ActivitySender = (*Client)(nil)

// New creates a connector client.
func New(optFns ...func(o *Options)) *Client {
	opts := Options{HTTPClient: http.DefaultClient}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Client{opts: opts}
}

// ActivityURL returns the connector endpoint for reply: a reply to a
// specific activity when ReplyToID is set, else a new conversation entry.
func ActivityURL(reply core.Activity) (string, error) {
	if reply.ServiceURL == "" {
		return "", fmt.Errorf("%w: missing service url", core.ErrInvalidActivity)
	}
	convID := reply.ConversationID()
	if convID == "" {
		return "", fmt.Errorf("%w: missing conversation id", core.ErrInvalidActivity)
	}
	u := strings.TrimRight(reply.ServiceURL, "/") + "/v3/conversations/" + url.PathEscape(convID) + "/activities"
	if reply.ReplyToID != "" {
		u += "/" + url.PathEscape(reply.ReplyToID)
	}
	return u, nil
}

// SendActivity implements core.ActivitySender.
func (c *Client) SendActivity(ctx context.Context, inbound core.Activity, out core.Activity) error {
	reply := out.ReplyFrom(inbound)
	endpoint, err := ActivityURL(reply)
	if err != nil {
		return err
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building connector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling connector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &core.RemoteDispatchError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("connector rejected %s activity", reply.Type),
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.opts.Logger.Debug("connector.activity.sent",
		"type", string(reply.Type),
		"conversation_id", reply.ConversationID(),
		"status", resp.StatusCode,
	)
	return nil
}
