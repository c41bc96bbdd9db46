package checkpoint_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) checkpoint.Store

func put(t *testing.T, store checkpoint.Store, thread, state, parent string) string {
	t.Helper()
	id, err := store.Put(context.Background(), thread, json.RawMessage(state), checkpoint.Metadata{Source: checkpoint.SourceLoop}, parent)
	require.NoError(t, err)
	return id
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Put_and_Get", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		meta := checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: 1, Node: "load", Next: "score", RunID: "r1"}
		id, err := store.Put(ctx, "thread-1", json.RawMessage(`{"key":"value"}`), meta, "")
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		cp, err := store.Get(ctx, "thread-1", id)
		require.NoError(t, err)
		assert.Equal(t, "thread-1", cp.ThreadID)
		assert.Equal(t, id, cp.CheckpointID)
		assert.Empty(t, cp.ParentCheckpointID)
		assert.JSONEq(t, `{"key":"value"}`, string(cp.State))
		assert.Equal(t, meta, cp.Metadata)
		assert.Equal(t, checkpoint.Version, cp.Version)
		assert.False(t, cp.CreatedAt.IsZero())
	})

	t.Run(name+"/Get_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Get(ctx, "thread-missing", "")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		put(t, store, "thread-1", `{}`, "")
		_, err = store.Get(ctx, "thread-1", "no-such-id")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Get_Latest", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		first := put(t, store, "thread-1", `{"n":1}`, "")
		second := put(t, store, "thread-1", `{"n":2}`, first)

		cp, err := store.Get(ctx, "thread-1", "")
		require.NoError(t, err)
		assert.Equal(t, second, cp.CheckpointID)
		assert.Equal(t, first, cp.ParentCheckpointID)
	})

	t.Run(name+"/ParentChain", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var ids []string
		parent := ""
		for i := 0; i < 5; i++ {
			parent = put(t, store, "thread-1", fmt.Sprintf(`{"n":%d}`, i), parent)
			ids = append(ids, parent)
		}

		cps, err := store.List(ctx, "thread-1", checkpoint.ListOptions{})
		require.NoError(t, err)
		require.Len(t, cps, 5)

		// Newest first; each entry points at the one put before it.
		for i, cp := range cps {
			assert.Equal(t, ids[4-i], cp.CheckpointID)
			if i < 4 {
				assert.Equal(t, ids[3-i], cp.ParentCheckpointID)
			} else {
				assert.Empty(t, cp.ParentCheckpointID)
			}
		}
		assert.Greater(t, cps[0].Sequence, cps[1].Sequence)
	})

	t.Run(name+"/Put_UnknownParent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		other := put(t, store, "thread-2", `{}`, "")
		_, err := store.Put(ctx, "thread-1", json.RawMessage(`{}`), checkpoint.Metadata{}, other)
		assert.ErrorIs(t, err, checkpoint.ErrParentNotFound)
	})

	t.Run(name+"/Put_RequiresThread", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Put(ctx, "", json.RawMessage(`{}`), checkpoint.Metadata{}, "")
		assert.ErrorIs(t, err, checkpoint.ErrThreadIDRequired)
	})

	t.Run(name+"/List_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cps, err := store.List(ctx, "thread-missing", checkpoint.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, cps)
	})

	t.Run(name+"/List_LimitOffset", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var ids []string
		parent := ""
		for i := 0; i < 6; i++ {
			parent = put(t, store, "thread-1", `{}`, parent)
			ids = append(ids, parent)
		}

		cps, err := store.List(ctx, "thread-1", checkpoint.ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, cps, 2)
		assert.Equal(t, ids[5], cps[0].CheckpointID)
		assert.Equal(t, ids[4], cps[1].CheckpointID)

		cps, err = store.List(ctx, "thread-1", checkpoint.ListOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, cps, 2)
		assert.Equal(t, ids[3], cps[0].CheckpointID)
		assert.Equal(t, ids[2], cps[1].CheckpointID)

		cps, err = store.List(ctx, "thread-1", checkpoint.ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, cps)
	})

	t.Run(name+"/ThreadsIsolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		put(t, store, "thread-1", `{"t":1}`, "")
		put(t, store, "thread-1", `{"t":1}`, "")
		put(t, store, "thread-2", `{"t":2}`, "")

		cps1, err := store.List(ctx, "thread-1", checkpoint.ListOptions{})
		require.NoError(t, err)
		cps2, err := store.List(ctx, "thread-2", checkpoint.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, cps1, 2)
		assert.Len(t, cps2, 1)
		assert.Equal(t, int64(1), cps2[0].Sequence)
	})

	t.Run(name+"/DeleteThread", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		put(t, store, "thread-1", `{}`, "")
		put(t, store, "thread-2", `{}`, "")

		require.NoError(t, store.DeleteThread(ctx, "thread-1"))
		require.NoError(t, store.DeleteThread(ctx, "thread-missing"))

		_, err := store.Get(ctx, "thread-1", "")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		cps, err := store.List(ctx, "thread-2", checkpoint.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, cps, 1)
	})

	t.Run(name+"/Prune", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var ids []string
		parent := ""
		for i := 0; i < 5; i++ {
			parent = put(t, store, "thread-1", `{}`, parent)
			ids = append(ids, parent)
		}

		removed, err := store.Prune(ctx, "thread-1", 2)
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		cps, err := store.List(ctx, "thread-1", checkpoint.ListOptions{})
		require.NoError(t, err)
		require.Len(t, cps, 2)
		assert.Equal(t, ids[4], cps[0].CheckpointID)
		assert.Equal(t, ids[3], cps[1].CheckpointID)

		removed, err = store.Prune(ctx, "thread-1", 0)
		require.NoError(t, err)
		assert.Zero(t, removed)

		// New checkpoints still chain off the retained latest one.
		next := put(t, store, "thread-1", `{}`, ids[4])
		cp, err := store.Get(ctx, "thread-1", "")
		require.NoError(t, err)
		assert.Equal(t, next, cp.CheckpointID)
	})

	t.Run(name+"/StateCopy", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		original := []byte(`{"v":"a"}`)
		id, err := store.Put(ctx, "thread-1", original, checkpoint.Metadata{}, "")
		require.NoError(t, err)
		original[6] = 'X'

		cp, err := store.Get(ctx, "thread-1", id)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":"a"}`, string(cp.State))
	})

	t.Run(name+"/Close_ThenError", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		_, err := store.Put(ctx, "thread-1", json.RawMessage(`{}`), checkpoint.Metadata{}, "")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.Get(ctx, "thread-1", "")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.List(ctx, "thread-1", checkpoint.ListOptions{})
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
	})
}

// TestMemoryStore runs contract tests against MemoryStore.
func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	}
	storeContractTest(t, "MemoryStore", factory)
}

// TestSQLiteStore runs contract tests against SQLiteStore.
func TestSQLiteStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return store
	}
	storeContractTest(t, "SQLiteStore", factory)
}

// TestRedisStore runs contract tests against RedisStore backed by miniredis.
func TestRedisStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return checkpoint.NewRedisStore(client, checkpoint.WithOwnedClient())
	}
	storeContractTest(t, "RedisStore", factory)
}
