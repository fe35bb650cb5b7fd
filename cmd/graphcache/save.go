package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSaveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save the loaded records to the SQLite database",
		Long: `Save the records loaded with --records to the database named by --db or
the persistence section of the config file. Saved records replace the
previous contents of the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.RecordsPath == "" {
				return fmt.Errorf("save needs --records")
			}
			env, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			if env.db == nil {
				return fmt.Errorf("no database: set --db or persistence.sqlite in the config file")
			}
			n, err := env.db.Save(cmd.Context(), env.store.Source())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d records\n", n)
			return nil
		},
	}
}
