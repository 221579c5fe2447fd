package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/core"
)

func setupSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "state", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func setupBoltStorage(t *testing.T) *BoltStorage {
	t.Helper()
	s, err := NewBoltStorage(filepath.Join(t.TempDir(), "state.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]core.Storage {
	return map[string]core.Storage{
		"memory": NewMemoryStorage(),
		"sqlite": setupSQLiteStorage(t),
		"bolt":   setupBoltStorage(t),
	}
}

func TestStorage_ReadWriteDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			items, err := s.Read(ctx, []string{"a"})
			require.NoError(t, err)
			assert.Empty(t, items)

			require.NoError(t, s.Write(ctx, map[string]core.StoreItem{
				"a": {Kind: "k1", Data: json.RawMessage(`{"v":1}`)},
				"b": {Kind: "k2", Data: json.RawMessage(`{"v":2}`)},
			}))

			items, err = s.Read(ctx, []string{"a", "b", "missing"})
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, "k1", items["a"].Kind)
			assert.JSONEq(t, `{"v":2}`, string(items["b"].Data))

			// Last write wins.
			require.NoError(t, s.Write(ctx, map[string]core.StoreItem{"a": {Kind: "k1", Data: json.RawMessage(`{"v":3}`)}}))
			items, err = s.Read(ctx, []string{"a"})
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":3}`, string(items["a"].Data))

			require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))
			items, err = s.Read(ctx, []string{"a", "b"})
			require.NoError(t, err)
			assert.Len(t, items, 1)
			assert.Contains(t, items, "b")
		})
	}
}

func TestMemoryStorage_IsolatesPayloads(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	data := json.RawMessage(`{"v":1}`)
	require.NoError(t, s.Write(ctx, map[string]core.StoreItem{"a": {Kind: "k", Data: data}}))
	data[2] = 'x'

	items, err := s.Read(ctx, []string{"a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(items["a"].Data))
}

func TestMemoryStorage_HonorsCancellation(t *testing.T) {
	s := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Read(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Write(ctx, map[string]core.StoreItem{"a": {}}), context.Canceled)
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, map[string]core.StoreItem{"k": {Kind: "kind", Data: json.RawMessage(`"x"`)}}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s.Close()
	items, err := s.Read(ctx, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, "kind", items["k"].Kind)
}

func TestMemoryStorage_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Write(ctx, map[string]core.StoreItem{"k": {Kind: "k", Data: json.RawMessage(`1`)}})
			_, _ = s.Read(ctx, []string{"k"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
}

func TestNewSQLiteStorage_NilLogger(t *testing.T) {
	var s *SQLiteStorage
	require.NotPanics(t, func() {
		var err error
		s, err = NewSQLiteStorage(filepath.Join(t.TempDir(), "nil-logger.db"), func(o *SQLiteOptions) { o.Logger = nil })
		require.NoError(t, err)
	})
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, map[string]core.StoreItem{"k": {Kind: "k", Data: json.RawMessage(`{}`)}}))
	items, err := s.Read(ctx, []string{"k"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
