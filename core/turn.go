package core

import (
	"context"
	"fmt"
)

// ActivitySender delivers activities to the conversation a turn belongs to.
// Implementations complete addressing from the inbound activity.
type ActivitySender interface {
	SendActivity(ctx context.Context, inbound Activity, out Activity) error
}

// SenderFunc adapts a function to ActivitySender.
type SenderFunc func(ctx context.Context, inbound Activity, out Activity) error

// SendActivity implements ActivitySender.
func (f SenderFunc) SendActivity(ctx context.Context, inbound Activity, out Activity) error {
	return f(ctx, inbound, out)
}

// Turn is the handling scope of one inbound activity: the activity itself
// plus the channel to reply on. A Turn is not safe for concurrent use by
// multiple goroutines.
type Turn struct {
	Activity Activity
	sender   ActivitySender
}

// NewTurn creates a Turn bound to sender.
func NewTurn(a Activity, sender ActivitySender) *Turn {
	return &Turn{Activity: a, sender: sender}
}

// Send relays out to the source conversation.
func (t *Turn) Send(ctx context.Context, out Activity) error {
	if t.sender == nil {
		return MissingDependency("activity sender")
	}
	if err := t.sender.SendActivity(ctx, t.Activity, out); err != nil {
		return fmt.Errorf("send %s activity: %w", out.Type, err)
	}
	return nil
}

// SendText replies with a plain message.
func (t *Turn) SendText(ctx context.Context, text string) error {
	return t.Send(ctx, NewMessageActivity(text))
}

// SendTyping emits a typing indicator.
func (t *Turn) SendTyping(ctx context.Context) error {
	return t.Send(ctx, NewTypingActivity())
}

// Key builds a storage key for this turn's conversation.
func (t *Turn) Key(namespace, name string) (string, error) {
	return StateKey(t.Activity, namespace, name)
}
