package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

func userQuery() *selection.Fragment {
	return &selection.Fragment{
		Name: "UserQuery",
		Selections: []selection.Selection{
			&selection.LinkedField{
				Name: "me",
				Selections: []selection.Selection{
					&selection.ScalarField{Name: "id"},
					&selection.ScalarField{Name: "name"},
					&selection.LinkedField{
						Name:   "friends",
						Plural: true,
						Args:   []selection.Argument{selection.Variable("first", "count")},
						Selections: []selection.Selection{
							&selection.ScalarField{Name: "name"},
						},
					},
					&selection.LinkedField{
						Name:       "address",
						Selections: []selection.Selection{&selection.ScalarField{Name: "city"}},
					},
				},
			},
		},
	}
}

func TestNormalizeWritesFlatRecords(t *testing.T) {
	src := record.NewMapSource()
	payload := map[string]any{
		"me": map[string]any{
			"__typename": "User",
			"id":         "1",
			"name":       "Ada",
			"friends": []any{
				map[string]any{"__typename": "User", "id": "2", "name": "Grace"},
				nil,
				map[string]any{"__typename": "User", "name": "Anonymous"},
			},
			"address": nil,
			"__errors": map[string]any{
				"address": []any{map[string]any{"message": "lookup failed", "path": []any{"me", "address"}}},
			},
		},
	}
	err := Normalize(src, userQuery(), record.RootID, record.RootType, map[string]any{"count": 3}, payload, Options{})
	require.NoError(t, err)

	me, ok := src.Get(record.RootID).LinkedID("me")
	require.True(t, ok)
	require.Equal(t, "1", me)

	user := src.Get("1")
	require.Equal(t, "User", user.Typename())
	friends, ok := user.LinkedIDs("friends(first:3)")
	require.True(t, ok)
	if diff := cmp.Diff([]record.DataID{"2", "", "client:1:friends(first:3):2"}, friends); diff != "" {
		t.Fatalf("friends mismatch (-want +got):\n%s", diff)
	}
	name, _ := src.Get("client:1:friends(first:3):2").Value("name")
	require.Equal(t, "Anonymous", name)

	address, ok := user.LinkedID("address")
	require.True(t, ok)
	require.Empty(t, address)
	want := []record.FieldError{{Message: "lookup failed", Path: []any{"me", "address"}}}
	if diff := cmp.Diff(want, user.Errors("address")); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeMergesIntoExistingRecords(t *testing.T) {
	prev := record.New("1", "User")
	prev.Set("email", "ada@example.com")
	src := record.NewMapSource(prev)

	payload := map[string]any{"me": map[string]any{"__typename": "User", "id": "1", "name": "Ada"}}
	require.NoError(t, Normalize(src, userQuery(), record.RootID, record.RootType, map[string]any{"count": 1}, payload, Options{}))

	user := src.Get("1")
	require.NotSame(t, prev, user, "existing records are cloned, never modified")
	email, _ := user.Value("email")
	require.Equal(t, "ada@example.com", email)
	_, ok := user.Value("friends(first:1)")
	require.False(t, ok, "absent fields stay undefined")
	_, ok = prev.Value("name")
	require.False(t, ok)
}

func TestNormalizeTreatMissingFieldsAsNull(t *testing.T) {
	src := record.NewMapSource()
	payload := map[string]any{"me": map[string]any{"__typename": "User", "id": "1"}}
	opts := Options{TreatMissingFieldsAsNull: true}
	require.NoError(t, Normalize(src, userQuery(), record.RootID, record.RootType, map[string]any{"count": 1}, payload, opts))

	v, ok := src.Get("1").Value("name")
	require.True(t, ok)
	require.Nil(t, v)
}

func TestNormalizeRecordsAbstractMembership(t *testing.T) {
	node := &selection.Fragment{
		Name: "PetQuery",
		Selections: []selection.Selection{
			&selection.LinkedField{Name: "pet", Selections: []selection.Selection{
				&selection.InlineFragment{Type: "Pet", AbstractKey: "__isPet", Selections: []selection.Selection{
					&selection.ScalarField{Name: "name"},
				}},
			}},
		},
	}
	src := record.NewMapSource()
	payload := map[string]any{"pet": map[string]any{"__typename": "Cat", "id": "7", "__isPet": true, "name": "Tom"}}
	require.NoError(t, Normalize(src, node, record.RootID, record.RootType, nil, payload, Options{}))

	v, ok := src.Get(record.TypeID("Cat")).Value("__isPet")
	require.True(t, ok)
	require.Equal(t, true, v)
	name, _ := src.Get("7").Value("name")
	require.Equal(t, "Tom", name)
}

func TestNormalizeSameRecordTwice(t *testing.T) {
	node := &selection.Fragment{
		Name: "SelfQuery",
		Selections: []selection.Selection{
			&selection.LinkedField{Name: "me", Selections: []selection.Selection{
				&selection.ScalarField{Name: "name"},
				&selection.LinkedField{Name: "self", Selections: []selection.Selection{
					&selection.ScalarField{Name: "email"},
				}},
			}},
		},
	}
	src := record.NewMapSource()
	payload := map[string]any{"me": map[string]any{
		"__typename": "User", "id": "1", "name": "Ada",
		"self": map[string]any{"__typename": "User", "id": "1", "email": "ada@example.com"},
	}}
	require.NoError(t, Normalize(src, node, record.RootID, record.RootType, nil, payload, Options{}))

	user := src.Get("1")
	name, _ := user.Value("name")
	email, _ := user.Value("email")
	require.Equal(t, "Ada", name)
	require.Equal(t, "ada@example.com", email)
}

func TestNormalizeErrors(t *testing.T) {
	src := record.NewMapSource()
	err := Normalize(src, userQuery(), record.RootID, record.RootType, map[string]any{"count": 1},
		map[string]any{"me": "not an object"}, Options{})
	require.EqualError(t, err, "normalize me: expected an object, got string")

	abstract := &selection.Fragment{
		Name:       "NodeQuery",
		Selections: []selection.Selection{&selection.LinkedField{Name: "node"}},
	}
	err = Normalize(src, abstract, record.RootID, record.RootType, nil,
		map[string]any{"node": map[string]any{"id": "1"}}, Options{Path: []string{"resolver"}})
	require.EqualError(t, err, "normalize resolver.node: expected a __typename for an abstract field")
}
