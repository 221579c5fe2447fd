package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hupe1980/agentdispatch/core"
)

// MemoryStorage is a volatile core.Storage storing records in a process
// local map. It is safe for concurrent access and best suited for tests or
// single instance deployments. Payloads are copied on read and write to
// prevent external mutation of internal state.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]core.StoreItem
}

var _ core.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage constructs an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]core.StoreItem)}
}

// Read returns clones of the records stored under keys. Missing keys are
// omitted from the result.
func (s *MemoryStorage) Read(ctx context.Context, keys []string) (map[string]core.StoreItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.StoreItem, len(keys))
	for _, k := range keys {
		if item, ok := s.items[k]; ok {
			out[k] = cloneItem(item)
		}
	}
	return out, nil
}

// Write stores clones of items, overwriting existing keys.
func (s *MemoryStorage) Write(ctx context.Context, items map[string]core.StoreItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, item := range items {
		s.items[k] = cloneItem(item)
	}
	return nil
}

// Delete removes keys; unknown keys are ignored.
func (s *MemoryStorage) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func cloneItem(item core.StoreItem) core.StoreItem {
	return core.StoreItem{Kind: item.Kind, Data: append(json.RawMessage(nil), item.Data...)}
}
