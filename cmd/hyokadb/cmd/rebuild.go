package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild all derived state from the source tables",
		Long: `Wipes the chunk store, search documents and index postings, then
re-derives everything from the source snapshot in one transaction.
The result is identical to what incremental projection produced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			if err := rt.src.Rebuild(ctx); err != nil {
				return err
			}

			check, err := rt.st.CheckConsistency(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !check.Clean() {
				fmt.Fprintf(out, "%s %d inconsistencies after rebuild\n",
					styleBad.Render("error:"), len(check.Inconsistencies))
				return fmt.Errorf("rebuild left an inconsistent index")
			}

			stats, err := rt.st.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d chunks, %d search docs re-derived in %s\n",
				styleOK.Render("rebuilt:"), stats.Chunks, stats.SearchDocs,
				check.Duration.Round(1e6))
			return nil
		},
	}
}
