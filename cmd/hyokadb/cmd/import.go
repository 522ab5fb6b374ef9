package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyokadb/hyokadb/internal/ingest"
)

func newImportCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "import [glob...]",
		Short: "Import DB-ingest JSON files",
		Long: `Imports DB-ingest JSON files (table-named row arrays keyed by
program_code) through the source store, so every imported row is
projected into chunks, search documents and postings on the way in.

Programs already in the database are skipped; re-running a batch is
harmless. A failing file rolls back alone and the batch continues.

Examples:
  hyokadb import data/*.json
  hyokadb import 'drops/**/*.json' --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns := args
			if len(patterns) == 0 {
				patterns = cfg.Import.Globs
			}
			if workers <= 0 {
				workers = cfg.Import.Workers
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			im := ingest.New(rt.src, slog.Default(),
				ingest.WithWorkers(workers),
				ingest.WithProgress(os.Stderr))
			res, err := im.Run(cmd.Context(), patterns)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d programs imported, %d skipped\n",
				styleOK.Render("done:"), res.Imported, res.Skipped)
			if res.Failed > 0 {
				fmt.Fprintf(out, "%s %d file(s) failed:\n",
					styleBad.Render("warning:"), res.Failed)
				for _, f := range res.Files {
					if f.Err != nil {
						fmt.Fprintf(out, "  %s %s\n",
							styleDim.Render(f.Path), f.Err)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "parallel JSON parsers (default from config)")
	return cmd
}
