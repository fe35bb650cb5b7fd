package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"read", "check", "save", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	for _, name := range []string{"config", "schema", "records", "db", "v"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestReadAndCheck(t *testing.T) {
	for _, tc := range []struct {
		golden, command, operation string
	}{
		{"read_me_query", "read", "MeQuery"},
		{"read_me_email", "read", "MeEmail"},
		{"check_me_query", "check", "MeQuery"},
		{"check_me_email", "check", "MeEmail"},
	} {
		t.Run(tc.golden, func(t *testing.T) {
			out, err := run(t, tc.command, "testdata/me.graphql",
				"--schema", "testdata/schema.graphql",
				"--records", "testdata/records.json",
				"--operation", tc.operation)
			require.NoError(t, err)
			golden(t).Assert(t, tc.golden, []byte(out))
		})
	}
}

func TestSaveThenReadFromDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "records.db")
	out, err := run(t, "save", "--schema", "testdata/schema.graphql", "--records", "testdata/records.json", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "saved 4 records\n", out, "type records are saved alongside the loaded ones")

	out, err = run(t, "read", "testdata/me.graphql", "--schema", "testdata/schema.graphql", "--db", db, "-o", "MeQuery")
	require.NoError(t, err)
	golden(t).Assert(t, "read_me_query", []byte(out))
}

func TestConfigFile(t *testing.T) {
	out, err := run(t, "check", "testdata/me.graphql",
		"--config", "testdata/graphcache.yaml",
		"--records", "testdata/records.json",
		"-o", "MeQuery")
	require.NoError(t, err)
	golden(t).Assert(t, "check_me_query", []byte(out))
}

func TestErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{"no schema", []string{"read", "testdata/me.graphql"}, "no schema: set --schema or schema in the config file"},
		{"operation required", []string{"read", "testdata/me.graphql", "--schema", "testdata/schema.graphql"}, "document has 2 operations, an operation name is required"},
		{"bad variables", []string{"read", "testdata/me.graphql", "--schema", "testdata/schema.graphql", "-o", "MeQuery", "--variables", "["}, "invalid variables JSON"},
		{"save without records", []string{"save", "--schema", "testdata/schema.graphql"}, "save needs --records"},
		{"save without db", []string{"save", "--schema", "testdata/schema.graphql", "--records", "testdata/records.json"}, "no database"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			require.ErrorContains(t, err, tc.want)
		})
	}
}
