// Package correlation persists the mapping between a local conversation and
// its paired conversation on each remote agent.
package correlation

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
	"github.com/hupe1980/agentdispatch/transport"
)

// linkName is the logical storage name of a conversation link.
const linkName = "conversationLink"

// Link pairs a source conversation with its remote counterpart. A link is
// created on the first successful dispatch to an alias and never mutated.
type Link struct {
	SourceConversationID      string `json:"sourceConversationId"`
	DestinationConversationID string `json:"destinationConversationId"`
}

// RecordKind implements core.Record.
func (Link) RecordKind() string { return "correlation.link" }

// Options configures a Store.
type Options struct {
	Logger logging.Logger
	Tracer *logging.LinkTracer
}

// Store resolves destination conversation ids, creating remote
// conversations on first use.
//
// Lookup and creation are a plain read-then-write: two concurrent turns for
// the same (source, alias) pair can both create a remote conversation, and
// the last link written wins.
type Store struct {
	storage core.Storage
	opts    Options
}

// New creates a Store over storage.
func New(storage core.Storage, optFns ...func(o *Options)) (*Store, error) {
	if storage == nil {
		return nil, core.MissingDependency("storage")
	}
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Store{storage: storage, opts: opts}, nil
}

// Key returns the storage key of the link for (activity conversation, alias).
func Key(a core.Activity, alias string) (string, error) {
	if strings.TrimSpace(alias) == "" {
		return "", fmt.Errorf("%w: empty alias", core.ErrInvalidActivity)
	}
	return core.StateKey(a, alias, linkName)
}

// Lookup returns the persisted link for the turn's conversation and alias.
func (s *Store) Lookup(ctx context.Context, a core.Activity, alias string) (Link, bool, error) {
	key, err := Key(a, alias)
	if err != nil {
		return Link{}, false, err
	}
	s.opts.Tracer.StorageAccess("READ %s", key)
	link, found, err := core.ReadRecord[Link](ctx, s.storage, key)
	if err != nil || !found {
		return Link{}, false, err
	}
	if link.SourceConversationID != a.ConversationID() || link.DestinationConversationID == "" {
		return Link{}, false, nil
	}
	return link, true, nil
}

// GetOrCreate returns the destination conversation id linked to the
// activity's conversation for alias. On a miss it starts a remote
// conversation through client, takes the id from the first bootstrap
// activity carrying a conversation, persists the link and returns the id.
// The remaining bootstrap activities are discarded.
func (s *Store) GetOrCreate(ctx context.Context, a core.Activity, alias string, client transport.Client) (string, error) {
	link, found, err := s.Lookup(ctx, a, alias)
	if err != nil {
		return "", err
	}
	if found {
		s.opts.Logger.Debug("correlation.link.reused", "alias", alias, "destination_conversation_id", link.DestinationConversationID)
		return link.DestinationConversationID, nil
	}
	if client == nil {
		return "", core.MissingDependency("transport client")
	}

	acts, errs := client.StartConversation(ctx, false)
	var destID string
	err = transport.Each(ctx, acts, errs, func(act core.Activity) error {
		if destID == "" {
			destID = act.ConversationID()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("starting remote conversation: %w", err)
	}
	if destID == "" {
		return "", fmt.Errorf("starting remote conversation: no conversation id returned")
	}

	key, err := Key(a, alias)
	if err != nil {
		return "", err
	}
	link = Link{SourceConversationID: a.ConversationID(), DestinationConversationID: destID}
	s.opts.Tracer.StorageAccess("WRITE %s", key)
	if err := core.WriteRecord(ctx, s.storage, key, link); err != nil {
		return "", err
	}
	s.opts.Tracer.Remote("CONVO ID: %s", destID)
	s.opts.Logger.Info("correlation.link.created", "alias", alias,
		"source_conversation_id", link.SourceConversationID, "destination_conversation_id", destID)
	return destID, nil
}
