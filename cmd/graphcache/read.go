package main

import (
	"github.com/spf13/cobra"

	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/store"
)

// operationOptions select an operation of a document.
type operationOptions struct {
	*rootOptions
	Operation string
	Variables string
}

func (o *operationOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Operation, "operation", "o", "", "operation name, required when the document has several")
	cmd.Flags().StringVar(&o.Variables, "variables", "", "operation variables as a JSON object")
}

type readResult struct {
	Data          any      `json:"data"`
	IsMissingData bool     `json:"isMissingData"`
	SeenRecords   []string `json:"seenRecords"`
	Errors        []string `json:"errors,omitempty"`
}

func newReadCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &operationOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "read <document>",
		Short: "Read an operation from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			op, err := env.operation(args[0], opts.Operation, opts.Variables)
			if err != nil {
				return err
			}

			snap := env.store.Lookup(op.Root)
			res := readResult{Data: snap.Data, IsMissingData: snap.IsMissingData, SeenRecords: snap.SeenRecords.Sorted()}
			if err := snap.Err(reader.GlogFieldLogger, env.cfg.Store.ThrowOnFieldError); err != nil {
				res.Errors = []string{err.Error()}
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	opts.bind(cmd)
	return cmd
}

type checkResult struct {
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

func newCheckCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &operationOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "check <document>",
		Short: "Check whether the store can fulfill an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			op, err := env.operation(args[0], opts.Operation, opts.Variables)
			if err != nil {
				return err
			}

			a := env.store.Check(cmd.Context(), op, store.CheckOptions{DefaultActor: env.cfg.Store.DefaultActor})
			return writeJSON(cmd.OutOrStdout(), checkResult{Operation: op.Request.Identifier, Status: a.Status.String()})
		},
	}
	opts.bind(cmd)
	return cmd
}
