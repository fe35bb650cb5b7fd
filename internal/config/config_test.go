package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
schema: schema.graphql
store:
  live_resolvers: true
  loose_attribution: true
  query_cache_expiration: 5m
telemetry:
  endpoint: localhost:4317
server:
  addr: 127.0.0.1:9000
  pretty: true
persistence:
  sqlite: records.db
`))
	require.NoError(t, err)

	want := &Config{
		Schema: "schema.graphql",
		Store: Store{
			LiveResolvers:        true,
			LooseAttribution:     true,
			QueryCacheExpiration: 5 * time.Minute,
		},
		Telemetry:   Telemetry{Endpoint: "localhost:4317", Service: "graphcache"},
		Server:      Server{Addr: "127.0.0.1:9000", Timeout: 10 * time.Second, Pretty: true},
		Persistence: Persistence{SQLite: "records.db"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	_, err := Parse([]byte("store:\n  live_resolver: true\n"))
	require.ErrorContains(t, err, "field live_resolver not found")

	_, err = Parse([]byte("server:\n  timeout: -1s\n"))
	require.EqualError(t, err, "invalid config: server.timeout must not be negative")

	_, err = Parse([]byte("telemetry:\n  endpoint: localhost:4317\n  service: \"\"\n"))
	require.EqualError(t, err, "invalid config: telemetry.service is required when telemetry.endpoint is set")
}

func TestLoadResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graphcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema: schema.graphql\npersistence:\n  sqlite: \":memory:\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "schema.graphql"), cfg.Schema)
	require.Equal(t, ":memory:", cfg.Persistence.SQLite)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")
}
