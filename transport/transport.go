// Package transport defines the remote-dispatch contract used to talk to
// downstream agents and a Copilot Studio Direct-to-Engine implementation.
//
// Both operations return lazily produced, finite activity sequences as a pair
// of channels. The activity channel yields items in arrival order; the error
// channel yields at most one error. Both channels are closed once the
// sequence ends. Sequences are not restartable.
package transport

import (
	"context"
	"errors"
	"net"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/registry"
)

// Client talks to one remote agent on behalf of one user.
type Client interface {
	// StartConversation opens a new remote conversation. The first yielded
	// activity carrying a conversation id identifies it.
	StartConversation(ctx context.Context, emitStartEvent bool) (<-chan core.Activity, <-chan error)

	// AskQuestion posts activity into the remote conversation and streams
	// the agent's response activities.
	AskQuestion(ctx context.Context, conversationID string, activity core.Activity) (<-chan core.Activity, <-chan error)
}

// TokenProvider supplies the bearer token for remote calls.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a TokenProvider that always yields token.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// Factory builds a Client for a registered agent.
type Factory interface {
	NewClient(agent registry.Agent, token TokenProvider) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(agent registry.Agent, token TokenProvider) (Client, error)

// NewClient implements Factory.
func (f FactoryFunc) NewClient(agent registry.Agent, token TokenProvider) (Client, error) {
	return f(agent, token)
}

// Each consumes a sequence in FIFO order, calling fn for every activity. It
// returns the first error from fn, from the sequence or from ctx. Activities
// produced before a sequence error are still delivered to fn. When fn fails
// the remainder of the sequence is drained in the background so the
// producer can finish.
func Each(ctx context.Context, acts <-chan core.Activity, errs <-chan error, fn func(core.Activity) error) error {
	var seqErr error
	for acts != nil || errs != nil {
		select {
		case <-ctx.Done():
			go drain(acts, errs)
			return ctx.Err()
		case a, ok := <-acts:
			if !ok {
				acts = nil
				continue
			}
			if err := fn(a); err != nil {
				go drain(acts, errs)
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && seqErr == nil {
				seqErr = err
			}
		}
	}
	return seqErr
}

func drain(acts <-chan core.Activity, errs <-chan error) {
	for acts != nil || errs != nil {
		select {
		case _, ok := <-acts:
			if !ok {
				acts = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}

// IsTransient reports whether err is worth another attempt: throttling,
// server failures and network errors.
func IsTransient(err error) bool {
	var rde *core.RemoteDispatchError
	if errors.As(err, &rde) {
		return rde.Transient()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
