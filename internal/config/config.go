// Package config loads the YAML configuration of the graphcache command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	// Schema is the SDL file selection documents are checked against.
	Schema string `yaml:"schema"`

	Store       Store       `yaml:"store"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	Server      Server      `yaml:"server"`
	Persistence Persistence `yaml:"persistence"`
}

type Store struct {
	LiveResolvers            bool          `yaml:"live_resolvers"`
	LooseAttribution         bool          `yaml:"loose_attribution"`
	DefaultActor             string        `yaml:"default_actor,omitempty"`
	ThrowOnFieldError        bool          `yaml:"throw_on_field_error"`
	TreatMissingFieldsAsNull bool          `yaml:"treat_missing_fields_as_null"`
	QueryCacheExpiration     time.Duration `yaml:"query_cache_expiration,omitempty"`
}

type Telemetry struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables tracing.
	Endpoint string `yaml:"endpoint,omitempty"`
	Service  string `yaml:"service,omitempty"`
}

type Server struct {
	Addr         string        `yaml:"addr,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	Pretty       bool          `yaml:"pretty"`
	MaxBodyBytes int64         `yaml:"max_body_bytes,omitempty"`
}

// Persistence names the SQLite database records are saved to and loaded
// from. An empty path keeps records in memory only.
type Persistence struct {
	SQLite string `yaml:"sqlite,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Telemetry: Telemetry{Service: "graphcache"},
		Server:    Server{Addr: ":8080", Timeout: 10 * time.Second},
	}
}

// Load reads the configuration file at path. Fields not set in the file
// keep their defaults, and relative file paths are resolved against the
// directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	cfg.Schema = resolve(base, cfg.Schema)
	cfg.Persistence.SQLite = resolve(base, cfg.Persistence.SQLite)
	return cfg, nil
}

// Parse decodes a configuration document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field values that YAML decoding cannot.
func (c *Config) Validate() error {
	if c.Store.QueryCacheExpiration < 0 {
		return fmt.Errorf("store.query_cache_expiration must not be negative")
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative")
	}
	if c.Telemetry.Endpoint != "" && c.Telemetry.Service == "" {
		return fmt.Errorf("telemetry.service is required when telemetry.endpoint is set")
	}
	return nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(base, path)
}
