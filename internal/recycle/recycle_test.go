package recycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodesReturnsPrevWhenEqual(t *testing.T) {
	prev := map[string]any{"name": "Ada", "friends": []any{map[string]any{"name": "Grace"}}}
	next := map[string]any{"name": "Ada", "friends": []any{map[string]any{"name": "Grace"}}}
	got := Nodes(prev, next)
	require.True(t, Same(prev, got))
}

func TestNodesRecyclesUnchangedSubtrees(t *testing.T) {
	friend := map[string]any{"name": "Grace"}
	prev := map[string]any{"name": "Ada", "best": friend}
	next := map[string]any{"name": "Ada L.", "best": map[string]any{"name": "Grace"}}

	got := Nodes(prev, next).(map[string]any)
	require.True(t, Same(next, got))
	require.False(t, Same(prev, got))
	require.True(t, Same(friend, got["best"]), "unchanged sub-object must be reused")
}

func TestNodesDetectsKeyChanges(t *testing.T) {
	prev := map[string]any{"a": 1}
	next := map[string]any{"a": 1, "b": nil}
	require.True(t, Same(next, Nodes(prev, next)))

	prev = map[string]any{"a": 1, "b": nil}
	next = map[string]any{"a": 1, "c": nil}
	require.True(t, Same(next, Nodes(prev, next)))
}

func TestNodesLists(t *testing.T) {
	item := map[string]any{"id": "1"}
	prev := []any{item, nil}
	next := []any{map[string]any{"id": "1"}, nil, map[string]any{"id": "3"}}
	got := Nodes(prev, next).([]any)
	require.Len(t, got, 3)
	require.True(t, Same(item, got[0]))
}

func TestSame(t *testing.T) {
	require.True(t, Same(nil, nil))
	require.True(t, Same("a", "a"))
	require.False(t, Same(1, 1.0))
	require.True(t, Same([]string{"x"}, []string{"x"}))
	m := map[string]any{}
	require.True(t, Same(m, m))
	require.False(t, Same(m, map[string]any{}))
}
