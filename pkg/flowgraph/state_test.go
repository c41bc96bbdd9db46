package flowgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewSchema(t *testing.T) {
	assert.Equal(t, []string{"step", "progress", "output", "go_left", "count"}, stateSchema.Fields())

	strategy, ok := stateSchema.Strategy("progress")
	require.True(t, ok)
	assert.Equal(t, MergeAppend, strategy)

	strategy, ok = stateSchema.Strategy("output")
	require.True(t, ok)
	assert.Equal(t, MergeReplace, strategy)

	_, ok = stateSchema.Strategy("missing")
	assert.False(t, ok)
}

func TestNewSchema_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "flowgraph: schema field name cannot be empty", func() {
		NewSchema[State](Replace("", func(s *State) *int { return &s.Count }))
	})
	assert.PanicsWithValue(t, "flowgraph: duplicate schema field: count", func() {
		NewSchema[State](stateCount, Replace("count", func(s *State) *int { return &s.Step }))
	})
	assert.PanicsWithValue(t, "flowgraph: field accessor cannot be nil", func() {
		Replace[State, int]("x", nil)
	})
}

func TestSchema_Apply(t *testing.T) {
	base := State{Output: "old", Progress: []string{"a"}, Count: 2}

	got, err := stateSchema.Apply(base, Update[State]{
		stateOutput.Set("new"),
		stateProgress.Add("b"),
		stateProgress.Add("c", "d"),
	})

	require.NoError(t, err)
	assert.Equal(t, "new", got.Output)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got.Progress)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "old", base.Output)
	assert.Equal(t, []string{"a"}, base.Progress)
}

func TestSchema_Apply_LastReplaceWins(t *testing.T) {
	got, err := stateSchema.Apply(State{}, Update[State]{stateCount.Set(1), stateCount.Set(5)})

	require.NoError(t, err)
	assert.Equal(t, 5, got.Count)
}

func TestSchema_Apply_UnknownField(t *testing.T) {
	other := Replace("other", func(s *State) *string { return &s.Output })

	got, err := stateSchema.Apply(State{Output: "kept"}, Update[State]{stateCount.Set(3), other.Set("x")})

	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Contains(t, err.Error(), "other")
	assert.Equal(t, "kept", got.Output)
	assert.Zero(t, got.Count, "no write applies when any write is rejected")
}

func TestSchema_Apply_NilSchema(t *testing.T) {
	var sc *Schema[State]

	got, err := sc.Apply(State{}, Update[State]{stateOutput.Set("x")})

	require.NoError(t, err)
	assert.Equal(t, "x", got.Output)
}

func TestUpdates(t *testing.T) {
	upd := Updates(
		Update[State]{stateOutput.Set("x")},
		nil,
		Update[State]{stateProgress.Add("p"), stateCount.Set(1)},
	)

	require.Len(t, upd, 3)
	assert.Equal(t, "output", upd[0].Field())
	assert.Equal(t, "progress", upd[1].Field())
	assert.Equal(t, "count", upd[2].Field())
}

func TestAppendField_AddCopiesItems(t *testing.T) {
	items := []string{"x", "y"}
	write := stateProgress.Add(items...)
	items[0] = "mutated"

	got, err := stateSchema.Apply(State{}, Update[State]{write})

	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got.Progress)
}

func TestFieldGet(t *testing.T) {
	s := State{Output: "o", Progress: []string{"p"}}

	assert.Equal(t, "o", stateOutput.Get(s))
	assert.Equal(t, []string{"p"}, stateProgress.Get(s))
}

// Appending is associative over updates: applying a then b equals applying
// their concatenation, and the base state's slice is never modified.
func TestSchema_Apply_AppendProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := rapid.SliceOf(rapid.String()).Draw(rt, "base")
		first := rapid.SliceOf(rapid.String()).Draw(rt, "first")
		second := rapid.SliceOf(rapid.String()).Draw(rt, "second")

		start := State{Progress: base}
		baseCopy := append([]string(nil), base...)

		stepwise, err := stateSchema.Apply(start, Update[State]{stateProgress.Add(first...)})
		require.NoError(rt, err)
		stepwise, err = stateSchema.Apply(stepwise, Update[State]{stateProgress.Add(second...)})
		require.NoError(rt, err)

		combined, err := stateSchema.Apply(start, Updates(
			Update[State]{stateProgress.Add(first...)},
			Update[State]{stateProgress.Add(second...)},
		))
		require.NoError(rt, err)

		want := append(append(append([]string(nil), base...), first...), second...)
		assert.Equal(rt, len(want), len(stepwise.Progress))
		assert.Equal(rt, stepwise.Progress, combined.Progress)
		for i := range want {
			assert.Equal(rt, want[i], stepwise.Progress[i])
		}
		assert.Equal(rt, baseCopy, []string(start.Progress))
	})
}

// Replace writes keep only the last value and leave other fields alone.
func TestSchema_Apply_ReplaceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Int(), 1, 10).Draw(rt, "values")
		output := rapid.String().Draw(rt, "output")

		var upd Update[State]
		for _, v := range values {
			upd = append(upd, stateCount.Set(v))
		}

		got, err := stateSchema.Apply(State{Output: output}, upd)
		require.NoError(rt, err)
		assert.Equal(rt, values[len(values)-1], got.Count)
		assert.Equal(rt, output, got.Output)
	})
}
