package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/hanpama/graphcache/internal/config"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/gqlselect"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
	"github.com/hanpama/graphcache/internal/sqlitesource"
	"github.com/hanpama/graphcache/internal/store"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath  string
	SchemaPath  string
	RecordsPath string
	DBPath      string
}

var glogFlags = []string{"v", "vmodule", "logtostderr", "alsologtostderr", "stderrthreshold", "log_dir"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "graphcache",
		Short: "Normalized GraphQL record store",
		Long: `Read, check and serve GraphQL operations against a normalized record store.

Records are loaded from a JSON file (--records) or a SQLite database (--db).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVar(&opts.SchemaPath, "schema", "", "GraphQL schema file (overrides the config file)")
	cmd.PersistentFlags().StringVar(&opts.RecordsPath, "records", "", "JSON record source to load")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database (overrides the config file)")
	for _, name := range glogFlags {
		if f := flag.CommandLine.Lookup(name); f != nil {
			cmd.PersistentFlags().AddGoFlag(f)
		}
	}

	cmd.AddCommand(newReadCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newSaveCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	return cmd
}

// environment is the store a command runs against.
type environment struct {
	cfg    *config.Config
	schema *ast.Schema
	bus    *eventbus.Bus
	store  *store.Store
	// db is nil when no database is configured.
	db *sqlitesource.DB
}

func (o *rootOptions) config() (*config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return nil, err
		}
	}
	if o.SchemaPath != "" {
		cfg.Schema = o.SchemaPath
	}
	if o.DBPath != "" {
		cfg.Persistence.SQLite = o.DBPath
	}
	if cfg.Schema == "" {
		return nil, fmt.Errorf("no schema: set --schema or schema in the config file")
	}
	return cfg, nil
}

func (o *rootOptions) load(ctx context.Context) (*environment, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	sdl, err := os.ReadFile(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	schema, err := gqlselect.LoadSchema(cfg.Schema, string(sdl))
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg, schema: schema, bus: eventbus.New()}
	src := record.NewMapSource(gqlselect.TypeRecords(schema)...)
	if cfg.Persistence.SQLite != "" {
		if env.db, err = sqlitesource.Open(cfg.Persistence.SQLite); err != nil {
			return nil, err
		}
	}
	switch {
	case o.RecordsPath != "":
		data, err := os.ReadFile(o.RecordsPath)
		if err != nil {
			env.close()
			return nil, fmt.Errorf("failed to read records: %w", err)
		}
		loaded, err := record.UnmarshalSource(data)
		if err != nil {
			env.close()
			return nil, err
		}
		for _, id := range loaded.IDs() {
			if r := loaded.Get(id); r != nil {
				src.Set(id, r)
			} else {
				src.Delete(id)
			}
		}
		glog.V(1).Infof("loaded %d records from %s", loaded.Size(), o.RecordsPath)
	case env.db != nil:
		n, err := env.db.Load(ctx, src)
		if err != nil {
			env.close()
			return nil, err
		}
		glog.V(1).Infof("loaded %d records from %s", n, cfg.Persistence.SQLite)
	}

	env.store = store.New(
		store.WithSource(src),
		store.WithEventBus(env.bus),
		store.WithLiveResolvers(cfg.Store.LiveResolvers),
		store.WithLooseAttribution(cfg.Store.LooseAttribution),
		store.WithQueryCacheExpiration(cfg.Store.QueryCacheExpiration),
		store.WithTreatMissingFieldsAsNull(cfg.Store.TreatMissingFieldsAsNull),
	)
	return env, nil
}

func (e *environment) close() {
	if e.store != nil {
		e.store.Dispose()
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			glog.Warningf("failed to close database: %v", err)
		}
	}
}

// operation builds the named operation of the document at path.
func (e *environment) operation(path, name, variables string) (*selection.Operation, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc, err := gqlselect.Build(e.schema, string(src))
	if err != nil {
		return nil, err
	}
	node, err := doc.Operation(name)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return nil, fmt.Errorf("invalid variables JSON: %w", err)
		}
	}
	return selection.NewOperation(node, vars, nil), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
