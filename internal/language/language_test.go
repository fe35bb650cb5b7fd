package language

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

func TestParseQuery(t *testing.T) {
	doc, err := ParseQuery(`query Q { me { id } } fragment F on User { name }`)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	require.Equal(t, "Q", doc.Operations[0].Name)
	require.NotNil(t, doc.Fragments.ForName("F"))

	_, err = ParseQuery(`{ me {`)
	var le *Error
	require.True(t, errors.As(err, &le), "got %T", err)
	require.NotEmpty(t, le.Locations)
}

func TestLoadSchema(t *testing.T) {
	s, err := LoadSchema("schema.graphql", `type Query { me: User } type User { id: ID! }`,
		&ast.Source{Name: "extra.graphql", Input: `directive @flag on FIELD`})
	require.NoError(t, err)
	require.NotNil(t, s.Types["User"])
	require.NotNil(t, s.Directives["flag"])

	_, err = LoadSchema("schema.graphql", `type Query { me: Missing }`)
	require.Error(t, err)
}
