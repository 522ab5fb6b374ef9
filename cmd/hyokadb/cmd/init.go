package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		Long: `Creates (or verifies) the hyokadb database: source tables, the
derived chunk store and search documents, and the FTS index tables.
Safe to run on an existing database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
				styleOK.Render("initialized"), cfg.DBPath)
			return nil
		},
	}
}
