package flowgraph

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownField indicates an update wrote a field the graph's schema does not declare.
var ErrUnknownField = errors.New("field not declared in schema")

// MergeStrategy is how a field combines its current value with an update.
type MergeStrategy string

// Merge strategies. The set is closed: fields are built with Replace or Append.
const (
	// MergeReplace keeps the newest value.
	MergeReplace MergeStrategy = "replace"
	// MergeAppend concatenates slices in update order.
	MergeAppend MergeStrategy = "append"
)

// Field is a named, mergeable member of state S.
// Build fields with Replace or Append.
type Field[S any] interface {
	Name() string
	Strategy() MergeStrategy
	sealed()
}

// Write is a single pending change to one field.
type Write[S any] struct {
	field string
	apply func(*S)
}

// Field returns the name of the field the write targets.
func (w Write[S]) Field() string { return w.field }

// Update is the partial state a node returns. Writes apply in order;
// fields not mentioned keep their current value. A nil Update changes nothing.
type Update[S any] []Write[S]

// Updates concatenates several updates into one.
func Updates[S any](parts ...Update[S]) Update[S] {
	var out Update[S]
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ReplaceField is a field whose new value overwrites the old one.
type ReplaceField[S, T any] struct {
	name string
	ref  func(*S) *T
}

// Replace declares a replace-on-update field. ref returns a pointer to the
// field inside the state struct.
//
//	var status = flowgraph.Replace("status", func(s *State) *string { return &s.Status })
func Replace[S, T any](name string, ref func(*S) *T) ReplaceField[S, T] {
	if ref == nil {
		panic("flowgraph: field accessor cannot be nil")
	}
	return ReplaceField[S, T]{name: name, ref: ref}
}

// Name returns the field name.
func (f ReplaceField[S, T]) Name() string { return f.name }

// Strategy returns MergeReplace.
func (f ReplaceField[S, T]) Strategy() MergeStrategy { return MergeReplace }

func (f ReplaceField[S, T]) sealed() {}

// Set returns a write that replaces the field with v.
func (f ReplaceField[S, T]) Set(v T) Write[S] {
	return Write[S]{field: f.name, apply: func(s *S) { *f.ref(s) = v }}
}

// Get reads the field from a state value.
func (f ReplaceField[S, T]) Get(s S) T {
	return *f.ref(&s)
}

// AppendField is a slice field whose updates are concatenated.
type AppendField[S, E any] struct {
	name string
	ref  func(*S) *[]E
}

// Append declares an accumulating slice field.
func Append[S, E any](name string, ref func(*S) *[]E) AppendField[S, E] {
	if ref == nil {
		panic("flowgraph: field accessor cannot be nil")
	}
	return AppendField[S, E]{name: name, ref: ref}
}

// Name returns the field name.
func (f AppendField[S, E]) Name() string { return f.name }

// Strategy returns MergeAppend.
func (f AppendField[S, E]) Strategy() MergeStrategy { return MergeAppend }

func (f AppendField[S, E]) sealed() {}

// Add returns a write that appends items to the field.
// The current slice's backing array is never written to.
func (f AppendField[S, E]) Add(items ...E) Write[S] {
	items = slices.Clone(items)
	return Write[S]{field: f.name, apply: func(s *S) {
		p := f.ref(s)
		*p = append(slices.Clip(*p), items...)
	}}
}

// Get reads the field from a state value.
func (f AppendField[S, E]) Get(s S) []E {
	return *f.ref(&s)
}

// Schema declares the fields of state S and their merge strategies.
type Schema[S any] struct {
	fields map[string]Field[S]
	order  []string
}

// NewSchema builds a schema from fields.
// Panics on empty or duplicate names, since the schema is fixed at build time.
func NewSchema[S any](fields ...Field[S]) *Schema[S] {
	sc := &Schema[S]{fields: make(map[string]Field[S], len(fields))}
	for _, f := range fields {
		if f == nil || f.Name() == "" {
			panic("flowgraph: schema field name cannot be empty")
		}
		if _, dup := sc.fields[f.Name()]; dup {
			panic(fmt.Sprintf("flowgraph: duplicate schema field: %s", f.Name()))
		}
		sc.fields[f.Name()] = f
		sc.order = append(sc.order, f.Name())
	}
	return sc
}

// Fields returns the declared field names in declaration order.
func (sc *Schema[S]) Fields() []string {
	return slices.Clone(sc.order)
}

// Strategy returns the merge strategy of a declared field.
func (sc *Schema[S]) Strategy(name string) (MergeStrategy, bool) {
	f, ok := sc.fields[name]
	if !ok {
		return "", false
	}
	return f.Strategy(), true
}

// Apply merges an update into state and returns the result.
// The input state is not modified through its replace fields, and append
// fields never share a backing array with the input.
// A nil schema accepts any write.
func (sc *Schema[S]) Apply(state S, update Update[S]) (S, error) {
	if sc != nil {
		for _, w := range update {
			if _, ok := sc.fields[w.field]; !ok {
				return state, fmt.Errorf("%w: %s", ErrUnknownField, w.field)
			}
		}
	}
	for _, w := range update {
		if w.apply != nil {
			w.apply(&state)
		}
	}
	return state, nil
}
