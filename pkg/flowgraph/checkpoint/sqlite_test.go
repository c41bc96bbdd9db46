package checkpoint_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store1, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	first := put(t, store1, "thread-1", `{"n":1}`, "")
	second := put(t, store1, "thread-1", `{"n":2}`, first)
	require.NoError(t, store1.Close())

	store2, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	cp, err := store2.Get(ctx, "thread-1", "")
	require.NoError(t, err)
	assert.Equal(t, second, cp.CheckpointID)
	assert.Equal(t, first, cp.ParentCheckpointID)
	assert.JSONEq(t, `{"n":2}`, string(cp.State))

	// Sequence continues after reopening.
	third := put(t, store2, "thread-1", `{"n":3}`, second)
	cp, err = store2.Get(ctx, "thread-1", third)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.Sequence)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := checkpoint.NewSQLiteStore("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_Concurrent(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	const numThreads = 20
	const chainLen = 10

	var wg sync.WaitGroup
	wg.Add(numThreads)
	for i := 0; i < numThreads; i++ {
		go func(id int) {
			defer wg.Done()
			thread := fmt.Sprintf("thread-%d", id)
			parent := ""
			for j := 0; j < chainLen; j++ {
				next, err := store.Put(ctx, thread, json.RawMessage(`{}`), checkpoint.Metadata{Step: j + 1}, parent)
				if err != nil {
					t.Error(err)
					return
				}
				parent = next
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < numThreads; i++ {
		cps, err := store.List(ctx, fmt.Sprintf("thread-%d", i), checkpoint.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, cps, chainLen)
	}
}

func TestSQLiteStore_LargeState(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	big := make(map[string]string, 5000)
	for i := 0; i < 5000; i++ {
		big[fmt.Sprintf("key-%d", i)] = "value"
	}
	data, err := json.Marshal(big)
	require.NoError(t, err)

	id, err := store.Put(context.Background(), "thread-1", data, checkpoint.Metadata{}, "")
	require.NoError(t, err)

	cp, err := store.Get(context.Background(), "thread-1", id)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(cp.State))
}
