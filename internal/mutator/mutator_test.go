package mutator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/record"
)

func TestWritesCopyOnWrite(t *testing.T) {
	user := record.New("1", "User")
	user.Set("name", "Ada")
	base := record.NewMapSource(user)
	sink := record.NewMapSource()
	m := New(base, sink)

	m.SetValue("1", "name", "Grace")
	v, ok := m.Value("1", "name")
	require.True(t, ok)
	require.Equal(t, "Grace", v)

	v, _ = base.Get("1").Value("name")
	require.Equal(t, "Ada", v, "base is untouched")
	require.Equal(t, 1, sink.Size())
}

func TestStatusPrefersSink(t *testing.T) {
	base := record.NewMapSource(record.New("1", "User"))
	sink := record.NewMapSource()
	m := New(base, sink)

	require.Equal(t, record.Existent, m.Status("1"))
	require.Equal(t, record.Unknown, m.Status("2"))

	m.Delete("1")
	require.Equal(t, record.Nonexistent, m.Status("1"))
	require.Panics(t, func() { m.SetValue("1", "name", "x") })

	m.Create("2", "User")
	typ, ok := m.Type("2")
	require.True(t, ok)
	require.Equal(t, "User", typ)
	require.Panics(t, func() { m.Create("2", "User") })
}
