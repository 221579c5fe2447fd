package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hupe1980/agentdispatch/core"
)

var stateBucket = []byte("state_items")

// BoltStorage is a durable, single-process core.Storage backed by a BoltDB
// file. Each record is stored as the JSON encoded StoreItem under its key.
type BoltStorage struct {
	db *bolt.DB
}

var _ core.Storage = (*BoltStorage)(nil)

// NewBoltStorage opens (or creates) the BoltDB file at path.
func NewBoltStorage(path string) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(stateBucket)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// Read returns the records stored under keys. Missing keys are omitted.
func (s *BoltStorage) Read(ctx context.Context, keys []string) (map[string]core.StoreItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]core.StoreItem, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(stateBucket)
		for _, k := range keys {
			v := b.Get([]byte(k))
			if v == nil {
				continue
			}
			var item core.StoreItem
			if e := json.Unmarshal(v, &item); e != nil {
				return &core.DecodeError{Key: k, Want: "store item", Err: e}
			}
			out[k] = item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores items in one transaction, overwriting existing keys.
func (s *BoltStorage) Write(ctx context.Context, items map[string]core.StoreItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(stateBucket)
		for k, item := range items {
			enc, e := json.Marshal(item)
			if e != nil {
				return fmt.Errorf("encoding %q: %w", k, e)
			}
			if e = b.Put([]byte(k), enc); e != nil {
				return fmt.Errorf("writing %q: %w", k, e)
			}
		}
		return nil
	})
}

// Delete removes keys; unknown keys are ignored.
func (s *BoltStorage) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(stateBucket)
		for _, k := range keys {
			if e := b.Delete([]byte(k)); e != nil {
				return e
			}
		}
		return nil
	})
}

// Close releases the database file lock.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
