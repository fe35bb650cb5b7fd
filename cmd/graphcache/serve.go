package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/hanpama/graphcache/internal/otel"
	"github.com/hanpama/graphcache/internal/server"
	"github.com/hanpama/graphcache/internal/store"
)

type serveOptions struct {
	*rootOptions
	Addr string
	CORS []string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP",
		Long: `Serve the store for inspection over HTTP:

  POST /read         read an operation
  POST /check        check an operation
  POST /publish      commit a response payload
  POST /invalidate   invalidate records or the whole store
  GET  /records      dump every record
  GET  /records/{id} fetch one record
  GET  /subscribe    stream an operation over a websocket

When a database is configured, records are saved to it on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides the config file)")
	cmd.Flags().StringSliceVar(&opts.CORS, "cors", nil, "allowed CORS origins")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	env, err := opts.load(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	shutdown, err := otel.Setup(cfg.Telemetry.Endpoint, cfg.Telemetry.Service, env.bus)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			glog.Warningf("failed to shut down telemetry: %v", err)
		}
	}()

	hopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithThrowOnFieldError(cfg.Store.ThrowOnFieldError),
		server.WithEventBus(env.bus),
	}
	if cfg.Server.Pretty {
		hopts = append(hopts, server.WithPretty())
	}
	if len(opts.CORS) > 0 {
		hopts = append(hopts, server.WithCORS(opts.CORS...))
	}
	h := server.New(env.store, env.schema, hopts...)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: h}
	errc := make(chan error, 1)
	go func() {
		glog.Infof("listening on %s", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			glog.Warningf("shutdown: %v", err)
		}
	}

	if env.db == nil {
		return nil
	}
	var saveErr error
	h.WithStore(func(s *store.Store) {
		var n int
		n, saveErr = env.db.Save(context.Background(), s.Source())
		glog.Infof("saved %d records to %s", n, cfg.Persistence.SQLite)
	})
	return saveErr
}
