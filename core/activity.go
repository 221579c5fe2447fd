package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityType enumerates the activity kinds the dispatcher understands. The
// set is open: activities of unknown type are carried through unchanged.
type ActivityType string

const (
	ActivityTypeMessage            ActivityType = "message"
	ActivityTypeEvent              ActivityType = "event"
	ActivityTypeTyping             ActivityType = "typing"
	ActivityTypeConversationUpdate ActivityType = "conversationUpdate"
	ActivityTypeInvoke             ActivityType = "invoke"
	ActivityTypeEndOfConversation  ActivityType = "endOfConversation"
)

// ChannelAccount identifies a participant (user or bot) on a channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies a conversation on a channel.
type ConversationAccount struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// Activity is the unit of exchange between the user's channel, the
// dispatcher and remote agents. Only the fields the dispatcher reads or
// rewrites are typed; everything else travels as raw JSON.
type Activity struct {
	Type             ActivityType         `json:"type"`
	ID               string               `json:"id,omitempty"`
	Timestamp        *time.Time           `json:"timestamp,omitempty"`
	ChannelID        string               `json:"channelId,omitempty"`
	ServiceURL       string               `json:"serviceUrl,omitempty"`
	From             *ChannelAccount      `json:"from,omitempty"`
	Recipient        *ChannelAccount      `json:"recipient,omitempty"`
	Conversation     *ConversationAccount `json:"conversation,omitempty"`
	ReplyToID        string               `json:"replyToId,omitempty"`
	Text             string               `json:"text,omitempty"`
	TextFormat       string               `json:"textFormat,omitempty"`
	Locale           string               `json:"locale,omitempty"`
	Name             string               `json:"name,omitempty"`
	Value            json.RawMessage      `json:"value,omitempty"`
	ChannelData      json.RawMessage      `json:"channelData,omitempty"`
	Attachments      json.RawMessage      `json:"attachments,omitempty"`
	Entities         json.RawMessage      `json:"entities,omitempty"`
	MembersAdded     []ChannelAccount     `json:"membersAdded,omitempty"`
	SuggestedActions json.RawMessage      `json:"suggestedActions,omitempty"`
	InputHint        string               `json:"inputHint,omitempty"`
	AttachmentLayout string               `json:"attachmentLayout,omitempty"`
}

// NewMessageActivity creates a plain text message activity.
func NewMessageActivity(text string) Activity {
	return Activity{Type: ActivityTypeMessage, ID: uuid.NewString(), Text: text}
}

// NewTypingActivity creates a typing indicator activity.
func NewTypingActivity() Activity {
	return Activity{Type: ActivityTypeTyping, ID: uuid.NewString()}
}

// ConversationID returns the conversation id or "" when no conversation is set.
func (a Activity) ConversationID() string {
	if a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

// IsMessage reports whether the activity is a message.
func (a Activity) IsMessage() bool { return a.Type == ActivityTypeMessage }

// Clone returns a copy whose pointer fields can be rewritten independently.
func (a Activity) Clone() Activity {
	c := a
	if a.From != nil {
		from := *a.From
		c.From = &from
	}
	if a.Recipient != nil {
		rcpt := *a.Recipient
		c.Recipient = &rcpt
	}
	if a.Conversation != nil {
		conv := *a.Conversation
		c.Conversation = &conv
	}
	if a.MembersAdded != nil {
		c.MembersAdded = append([]ChannelAccount(nil), a.MembersAdded...)
	}
	return c
}

// ReplyFrom completes an outgoing activity with the addressing of the
// inbound activity it answers: conversation, channel, swapped from/recipient
// and reply-to id. Fields already set on the reply are kept.
func (a Activity) ReplyFrom(inbound Activity) Activity {
	r := a
	if r.ChannelID == "" {
		r.ChannelID = inbound.ChannelID
	}
	if r.ServiceURL == "" {
		r.ServiceURL = inbound.ServiceURL
	}
	if r.Conversation == nil && inbound.Conversation != nil {
		conv := *inbound.Conversation
		r.Conversation = &conv
	}
	if r.From == nil && inbound.Recipient != nil {
		from := *inbound.Recipient
		r.From = &from
	}
	if r.Recipient == nil && inbound.From != nil {
		rcpt := *inbound.From
		r.Recipient = &rcpt
	}
	if r.ReplyToID == "" {
		r.ReplyToID = inbound.ID
	}
	return r
}
