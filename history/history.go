// Package history persists the chat history of the general conversation
// path, one record per conversation.
package history

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

const (
	namespace = "sk"
	name      = "chatHistory"
)

// Record is the persisted form of a conversation's chat history.
type Record struct {
	Messages []core.Content `json:"messages"`
}

// RecordKind implements core.Record.
func (Record) RecordKind() string { return "history.chat" }

// Conversation is the loaded history of one conversation. It is not safe
// for concurrent use.
type Conversation struct {
	key      string
	messages []core.Content
}

// Key returns the storage key of the conversation.
func (c *Conversation) Key() string { return c.key }

// Len returns the number of entries, including the system preamble.
func (c *Conversation) Len() int { return len(c.messages) }

// Messages returns a copy of the entries in order.
func (c *Conversation) Messages() []core.Content {
	return append([]core.Content(nil), c.messages...)
}

// AddUserMessage appends a user entry.
func (c *Conversation) AddUserMessage(text string) {
	c.messages = append(c.messages, core.NewTextContent(core.RoleUser, text))
}

// Append records a turn result. Tool-role results are not appended because
// the dispatch path already answered the user; appended reports which case
// applied.
func (c *Conversation) Append(result core.Content) (appended bool) {
	if result.Role == core.RoleTool {
		return false
	}
	c.messages = append(c.messages, result)
	return true
}

// Truncate drops every entry after the first. It reports false when the
// history was already empty.
func (c *Conversation) Truncate() bool {
	if len(c.messages) == 0 {
		return false
	}
	c.messages = c.messages[:1]
	return true
}

// Options configures a Store.
type Options struct {
	// Preamble seeds new conversations; DefaultPreamble when empty.
	Preamble string
	Logger   logging.Logger
	Tracer   *logging.LinkTracer
}

// Store loads and saves conversation histories. Saves are unconditional
// writes; concurrent turns on one conversation keep the last write.
type Store struct {
	storage core.Storage
	opts    Options
}

// New creates a Store over storage.
func New(storage core.Storage, optFns ...func(o *Options)) (*Store, error) {
	if storage == nil {
		return nil, core.MissingDependency("storage")
	}
	opts := Options{Preamble: DefaultPreamble}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Preamble == "" {
		opts.Preamble = DefaultPreamble
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Store{storage: storage, opts: opts}, nil
}

// Key returns the history storage key for the activity's conversation.
func Key(a core.Activity) (string, error) {
	return core.StateKey(a, namespace, name)
}

// GetOrCreate loads the conversation's history. A conversation without a
// record starts with the system preamble as its only entry; nothing is
// written until Save.
func (s *Store) GetOrCreate(ctx context.Context, a core.Activity) (*Conversation, error) {
	key, err := Key(a)
	if err != nil {
		return nil, err
	}
	s.opts.Tracer.StorageAccess("READ %s", key)
	rec, found, err := core.ReadRecord[Record](ctx, s.storage, key)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	if found {
		return &Conversation{key: key, messages: rec.Messages}, nil
	}
	s.opts.Logger.Debug("history.created", "key", key)
	return &Conversation{
		key:      key,
		messages: []core.Content{core.NewTextContent(core.RoleSystem, s.opts.Preamble)},
	}, nil
}

// Save persists c.
func (s *Store) Save(ctx context.Context, c *Conversation) error {
	s.opts.Tracer.StorageAccess("WRITE %s", c.key)
	if err := core.WriteRecord(ctx, s.storage, c.key, Record{Messages: c.messages}); err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	s.opts.Logger.Info("history.saved", "key", c.key, "depth", len(c.messages))
	return nil
}

// Flush truncates the conversation's history to its system entry and saves
// it immediately. flushed is false when the stored history was empty.
func (s *Store) Flush(ctx context.Context, a core.Activity) (flushed bool, err error) {
	c, err := s.GetOrCreate(ctx, a)
	if err != nil {
		return false, err
	}
	if !c.Truncate() {
		return false, nil
	}
	if err := s.Save(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}
