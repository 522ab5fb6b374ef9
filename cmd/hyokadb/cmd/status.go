package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show row counts and index consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			stats, err := rt.st.Stats(ctx)
			if err != nil {
				return err
			}
			check, err := rt.st.CheckConsistency(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styleTitle.Render("hyokadb status"))
			fmt.Fprintf(out, "  database:       %s\n", cfg.DBPath)
			fmt.Fprintf(out, "  programs:       %d\n", stats.Programs)
			fmt.Fprintf(out, "  chunks:         %d\n", stats.Chunks)
			fmt.Fprintf(out, "  search docs:    %d\n", stats.SearchDocs)
			fmt.Fprintf(out, "  chunk postings: %d\n", stats.ChunkPostings)
			fmt.Fprintf(out, "  doc postings:   %d\n", stats.DocPostings)

			if check.Clean() {
				fmt.Fprintf(out, "  consistency:    %s (%d rows checked in %s)\n",
					styleOK.Render("clean"), check.Checked, check.Duration.Round(1e6))
				return nil
			}
			fmt.Fprintf(out, "  consistency:    %s\n", styleBad.Render("BROKEN"))
			for _, inc := range check.Inconsistencies {
				fmt.Fprintf(out, "    %s %s/%s\n",
					styleWarn.Render(string(inc.Type)), inc.Index, inc.ID)
			}
			fmt.Fprintf(out, "  run %s to repair\n", styleTitle.Render("hyokadb rebuild"))
			return nil
		},
	}
}
