package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Storage is the key-value persistence collaborator. Keys are opaque strings;
// callers build them through StateKey so they are always lower-cased.
// Read returns only the keys that exist.
type Storage interface {
	Read(ctx context.Context, keys []string) (map[string]StoreItem, error)
	Write(ctx context.Context, items map[string]StoreItem) error
	Delete(ctx context.Context, keys []string) error
}

// StoreItem is a persisted record tagged with its kind. The payload is kept
// as raw JSON until a typed decode validates the tag.
type StoreItem struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Record is implemented by every value persisted through Storage. The kind
// tag must be stable across releases.
type Record interface {
	RecordKind() string
}

// EncodeRecord serializes r into a tagged StoreItem.
func EncodeRecord(r Record) (StoreItem, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return StoreItem{}, fmt.Errorf("encode %s: %w", r.RecordKind(), err)
	}
	return StoreItem{Kind: r.RecordKind(), Data: data}, nil
}

// DecodeRecord restores the typed record stored under key. A kind mismatch or
// malformed payload yields a *DecodeError.
func DecodeRecord[T Record](key string, item StoreItem) (T, error) {
	var zero T
	want := zero.RecordKind()
	if item.Kind != want {
		return zero, &DecodeError{Key: key, Want: want, Got: item.Kind}
	}
	var out T
	if err := json.Unmarshal(item.Data, &out); err != nil {
		return zero, &DecodeError{Key: key, Want: want, Got: item.Kind, Err: err}
	}
	return out, nil
}

// ReadRecord loads and decodes a single record. found is false when the key
// is absent.
func ReadRecord[T Record](ctx context.Context, s Storage, key string) (rec T, found bool, err error) {
	items, err := s.Read(ctx, []string{key})
	if err != nil {
		return rec, false, fmt.Errorf("read %q: %w", key, err)
	}
	item, ok := items[key]
	if !ok {
		return rec, false, nil
	}
	rec, err = DecodeRecord[T](key, item)
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// WriteRecord encodes and persists a single record.
func WriteRecord(ctx context.Context, s Storage, key string, r Record) error {
	item, err := EncodeRecord(r)
	if err != nil {
		return err
	}
	if err := s.Write(ctx, map[string]StoreItem{key: item}); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

// StateKey builds the storage key
// <channelId>/conversations/<conversationId>/<namespace>/<name>, lower-cased.
// Empty path segments after the conversation id are skipped.
func StateKey(a Activity, namespace, name string) (string, error) {
	if a.ChannelID == "" {
		return "", fmt.Errorf("%w: missing channel id", ErrInvalidActivity)
	}
	convID := a.ConversationID()
	if convID == "" {
		return "", fmt.Errorf("%w: missing conversation id", ErrInvalidActivity)
	}
	segs := []string{a.ChannelID, "conversations", convID}
	for _, s := range []string{namespace, name} {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return strings.ToLower(strings.Join(segs, "/")), nil
}
