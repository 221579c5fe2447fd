package testutil

import (
	"github.com/hupe1980/agentdispatch/core"
)

// ActivityBuilder provides a fluent helper for constructing inbound activities.
// Example:
//
//	a := NewActivityBuilder().Conversation("c-1").Text("@wb hi").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type ActivityBuilder struct {
	a core.Activity
}

// NewActivityBuilder creates a message activity on channel "test" from
// "user" to "bot" in conversation "conv-1".
func NewActivityBuilder() *ActivityBuilder {
	return &ActivityBuilder{a: core.Activity{
		Type:         core.ActivityTypeMessage,
		ID:           "act-1",
		ChannelID:    "test",
		ServiceURL:   "http://localhost",
		From:         &core.ChannelAccount{ID: "user", Name: "User"},
		Recipient:    &core.ChannelAccount{ID: "bot", Name: "Bot"},
		Conversation: &core.ConversationAccount{ID: "conv-1"},
	}}
}

// Type sets the activity type (chainable).
func (b *ActivityBuilder) Type(t core.ActivityType) *ActivityBuilder { b.a.Type = t; return b }

// ID sets the activity id (chainable).
func (b *ActivityBuilder) ID(id string) *ActivityBuilder { b.a.ID = id; return b }

// Channel sets the channel id (chainable).
func (b *ActivityBuilder) Channel(id string) *ActivityBuilder { b.a.ChannelID = id; return b }

// Conversation sets the conversation id (chainable).
func (b *ActivityBuilder) Conversation(id string) *ActivityBuilder {
	b.a.Conversation = &core.ConversationAccount{ID: id}
	return b
}

// Text sets the message text (chainable).
func (b *ActivityBuilder) Text(t string) *ActivityBuilder { b.a.Text = t; return b }

// Name sets the activity name, e.g. for invoke activities (chainable).
func (b *ActivityBuilder) Name(n string) *ActivityBuilder { b.a.Name = n; return b }

// MembersAdded sets the members added by a conversation update (chainable).
func (b *ActivityBuilder) MembersAdded(ids ...string) *ActivityBuilder {
	for _, id := range ids {
		b.a.MembersAdded = append(b.a.MembersAdded, core.ChannelAccount{ID: id})
	}
	return b
}

// Build returns the constructed activity.
func (b *ActivityBuilder) Build() core.Activity { return b.a.Clone() }

// Turn wraps the constructed activity in a turn replying to sender.
func (b *ActivityBuilder) Turn(sender core.ActivitySender) *core.Turn {
	return core.NewTurn(b.Build(), sender)
}
