package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyokadb/hyokadb/internal/ingest"
	"github.com/hyokadb/hyokadb/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var dir string
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop directory and import new JSON files",
		Long: `Watches a directory for DB-ingest JSON files. Newly created or
rewritten files are debounced and imported automatically; a failing
file is logged and does not stop the watcher.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = cfg.Watch.Dir
			}
			if dir == "" {
				return fmt.Errorf("no watch directory: pass --dir or set watch.dir in config")
			}
			if debounce == 0 {
				if d, err := time.ParseDuration(cfg.Watch.Debounce); err == nil {
					debounce = d
				}
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			im := ingest.New(rt.src, slog.Default(),
				ingest.WithWorkers(cfg.Import.Workers))
			w := watcher.New(dir, debounce,
				func(ctx context.Context, paths []string) error {
					_, err := im.Run(ctx, paths)
					return err
				}, slog.Default())

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (ctrl-c to stop)\n",
				styleTitle.Render(dir))
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "drop directory (default from config)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "settle delay before importing (default from config)")
	return cmd
}
