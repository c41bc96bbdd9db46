package flowgraph_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CheckpointState is the state used by checkpoint integration tests.
type CheckpointState struct {
	Value    int      `json:"value"`
	Messages []string `json:"messages"`
}

var (
	cpValue    = flowgraph.Replace("value", func(s *CheckpointState) *int { return &s.Value })
	cpMessages = flowgraph.Append("messages", func(s *CheckpointState) *[]string { return &s.Messages })
	cpSchema   = flowgraph.NewSchema[CheckpointState](cpValue, cpMessages)
)

// tracked returns a node that increments value and logs its own name.
func tracked(name string, executed *[]string) flowgraph.NodeFunc[CheckpointState] {
	return func(ctx flowgraph.Context, s CheckpointState) (flowgraph.Update[CheckpointState], error) {
		*executed = append(*executed, name)
		return flowgraph.Update[CheckpointState]{cpValue.Set(s.Value + 1), cpMessages.Add(name)}, nil
	}
}

// threeStep compiles a -> b -> c -> END.
func threeStep(t *testing.T, executed *[]string) *flowgraph.CompiledGraph[CheckpointState] {
	t.Helper()
	compiled, err := flowgraph.NewGraph[CheckpointState]().
		WithSchema(cpSchema).
		AddNode("a", tracked("a", executed)).
		AddNode("b", tracked("b", executed)).
		AddNode("c", tracked("c", executed)).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", flowgraph.END).
		SetEntry("a").
		Compile(flowgraph.WithName("three-step"))
	require.NoError(t, err)
	return compiled
}

func bg() flowgraph.Context {
	return flowgraph.NewContext(context.Background())
}

func TestCheckpointing_BasicExecution(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	var executed []string

	result, err := threeStep(t, &executed).Run(bg(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("thread-1"))

	require.NoError(t, err)
	assert.Equal(t, 3, result.Value)
	assert.Equal(t, []string{"a", "b", "c"}, result.Messages)

	cps, err := store.List(context.Background(), "thread-1", checkpoint.ListOptions{})
	require.NoError(t, err)
	require.Len(t, cps, 3)

	// Newest first: c, b, a.
	assert.Equal(t, "c", cps[0].Metadata.Node)
	assert.Equal(t, flowgraph.END, cps[0].Metadata.Next)
	assert.Equal(t, 3, cps[0].Metadata.Step)
	assert.Equal(t, checkpoint.SourceLoop, cps[0].Metadata.Source)
	assert.Equal(t, "b", cps[1].Metadata.Node)
	assert.Equal(t, "c", cps[1].Metadata.Next)
	assert.Equal(t, "a", cps[2].Metadata.Node)
	assert.Equal(t, 1, cps[2].Metadata.Step)

	assert.Equal(t, cps[1].CheckpointID, cps[0].ParentCheckpointID)
	assert.Equal(t, cps[2].CheckpointID, cps[1].ParentCheckpointID)
	assert.Empty(t, cps[2].ParentCheckpointID)
}

func TestCheckpointing_StateIsMergedState(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	var executed []string

	_, err := threeStep(t, &executed).Run(bg(), CheckpointState{Messages: []string{"seed"}},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("thread-1"))
	require.NoError(t, err)

	cps, err := store.List(context.Background(), "thread-1", checkpoint.ListOptions{})
	require.NoError(t, err)

	var afterB CheckpointState
	require.NoError(t, json.Unmarshal(cps[1].State, &afterB))
	assert.Equal(t, 2, afterB.Value)
	assert.Equal(t, []string{"seed", "a", "b"}, afterB.Messages)
}

func TestCheckpointing_RunsOnOneThreadFormOneChain(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	var executed []string
	compiled := threeStep(t, &executed)

	for range 2 {
		_, err := compiled.Run(bg(), CheckpointState{},
			flowgraph.WithCheckpointing(store),
			flowgraph.WithThreadID("thread-1"))
		require.NoError(t, err)
	}

	cps, err := store.List(context.Background(), "thread-1", checkpoint.ListOptions{})
	require.NoError(t, err)
	require.Len(t, cps, 6)

	for i := 0; i < len(cps)-1; i++ {
		assert.Equal(t, cps[i+1].CheckpointID, cps[i].ParentCheckpointID, "checkpoint %d", i)
	}
	assert.Equal(t, 6, cps[0].Metadata.Step)
	assert.Equal(t, 4, cps[2].Metadata.Step)
}

func TestCheckpointing_RequiresThreadID(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	var executed []string

	_, err := threeStep(t, &executed).Run(bg(), CheckpointState{},
		flowgraph.WithCheckpointing(store))

	assert.ErrorIs(t, err, flowgraph.ErrThreadIDRequired)
	assert.Empty(t, executed)
}

func TestCheckpointing_ThreadIDOnContext(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	var threads []string

	node := func(ctx flowgraph.Context, s CheckpointState) (flowgraph.Update[CheckpointState], error) {
		threads = append(threads, ctx.ThreadID())
		return nil, nil
	}

	compiled, err := flowgraph.NewGraph[CheckpointState]().
		WithSchema(cpSchema).
		AddNode("n", node).
		AddEdge("n", flowgraph.END).
		SetEntry("n").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(bg(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("thread-ctx"))

	require.NoError(t, err)
	assert.Equal(t, []string{"thread-ctx"}, threads)
}

// failingStore rejects every Put.
type failingStore struct {
	*checkpoint.MemoryStore
}

func (f failingStore) Put(context.Context, string, json.RawMessage, checkpoint.Metadata, string) (string, error) {
	return "", errors.New("disk full")
}

func TestCheckpointing_FailureFatalByDefault(t *testing.T) {
	var executed []string

	_, err := threeStep(t, &executed).Run(bg(), CheckpointState{},
		flowgraph.WithCheckpointing(failingStore{checkpoint.NewMemoryStore()}),
		flowgraph.WithThreadID("thread-1"))

	var cpErr *flowgraph.CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "a", cpErr.NodeID)
	assert.Equal(t, "put", cpErr.Op)
	assert.Equal(t, []string{"a"}, executed)
}

func TestCheckpointing_FailureNonFatal(t *testing.T) {
	var executed []string

	result, err := threeStep(t, &executed).Run(bg(), CheckpointState{},
		flowgraph.WithCheckpointing(failingStore{checkpoint.NewMemoryStore()}),
		flowgraph.WithThreadID("thread-1"),
		flowgraph.WithCheckpointFailureFatal(false))

	require.NoError(t, err)
	assert.Equal(t, 3, result.Value)
	assert.Equal(t, []string{"a", "b", "c"}, executed)
}

func TestCheckpointing_UnserializableState(t *testing.T) {
	type badState struct {
		Fn func() `json:"fn"`
	}

	compiled, err := flowgraph.NewGraph[badState]().
		AddNode("n", func(ctx flowgraph.Context, s badState) (flowgraph.Update[badState], error) { return nil, nil }).
		AddEdge("n", flowgraph.END).
		SetEntry("n").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(bg(), badState{Fn: func() {}},
		flowgraph.WithCheckpointing(checkpoint.NewMemoryStore()),
		flowgraph.WithThreadID("thread-1"))

	assert.ErrorIs(t, err, flowgraph.ErrSerializeState)
}

func TestCheckpointing_SQLiteStore(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	var executed []string
	result, err := threeStep(t, &executed).Run(bg(), CheckpointState{},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("sqlite-thread"))
	require.NoError(t, err)

	loaded, cp, err := flowgraph.LoadState[CheckpointState](context.Background(), store, "sqlite-thread", "")
	require.NoError(t, err)
	assert.Equal(t, result, loaded)
	assert.Equal(t, "c", cp.Metadata.Node)
}
