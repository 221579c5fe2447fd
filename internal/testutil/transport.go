package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentdispatch/core"
)

// Step is one scripted element of a remote activity sequence: either an
// activity or a terminal error.
type Step struct {
	Activity core.Activity
	Err      error
}

// Act is a Step yielding a.
func Act(a core.Activity) Step { return Step{Activity: a} }

// Fail is a Step ending the sequence with err.
func Fail(err error) Step { return Step{Err: err} }

// ScriptedClient is a transport client replaying scripted sequences. Each
// AskQuestion call consumes the next entry of Answers; the last entry is
// repeated when the script runs out.
type ScriptedClient struct {
	mu      sync.Mutex
	Start   []Step
	Answers [][]Step

	starts int
	asks   []AskCall
}

// AskCall records one AskQuestion invocation.
type AskCall struct {
	ConversationID string
	Activity       core.Activity
}

// StartConversation implements transport.Client.
func (c *ScriptedClient) StartConversation(ctx context.Context, _ bool) (<-chan core.Activity, <-chan error) {
	c.mu.Lock()
	c.starts++
	steps := c.Start
	c.mu.Unlock()
	return play(ctx, steps)
}

// AskQuestion implements transport.Client.
func (c *ScriptedClient) AskQuestion(ctx context.Context, conversationID string, a core.Activity) (<-chan core.Activity, <-chan error) {
	c.mu.Lock()
	idx := len(c.asks)
	c.asks = append(c.asks, AskCall{ConversationID: conversationID, Activity: a})
	var steps []Step
	if n := len(c.Answers); n > 0 {
		if idx >= n {
			idx = n - 1
		}
		steps = c.Answers[idx]
	}
	c.mu.Unlock()
	return play(ctx, steps)
}

// Starts returns how many conversations were started.
func (c *ScriptedClient) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Asks returns the recorded AskQuestion calls.
func (c *ScriptedClient) Asks() []AskCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AskCall(nil), c.asks...)
}

func play(ctx context.Context, steps []Step) (<-chan core.Activity, <-chan error) {
	out := make(chan core.Activity)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, s := range steps {
			if s.Err != nil {
				errCh <- s.Err
				return
			}
			select {
			case out <- s.Activity:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()
	return out, errCh
}
