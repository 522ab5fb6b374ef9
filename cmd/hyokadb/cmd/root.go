// Package cmd provides the CLI commands for hyokadb.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hyokadb/hyokadb/internal/config"
	"github.com/hyokadb/hyokadb/internal/index"
	"github.com/hyokadb/hyokadb/internal/logging"
	"github.com/hyokadb/hyokadb/internal/projection"
	"github.com/hyokadb/hyokadb/internal/search"
	"github.com/hyokadb/hyokadb/internal/source"
	"github.com/hyokadb/hyokadb/internal/store"
	"github.com/hyokadb/hyokadb/pkg/version"
)

var (
	cfgPath  string
	dbPath   string
	logLevel string

	cfg        *config.Config
	logCleanup func()
)

// NewRootCmd creates the root command for the hyokadb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hyokadb",
		Short: "Searchable projection of program-evaluation records",
		Long: `hyokadb keeps a denormalized, search-optimized projection in lockstep
with normalized program-evaluation (PDCA) records: every source
mutation re-derives the affected text chunks, search documents and
index postings inside the same transaction, so search never lags the
data it reflects.`,
		Version:      version.Version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate("hyokadb version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default: hyokadb.yaml)")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides config)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.PersistentPreRunE = setupRuntime
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if logCleanup != nil {
			logCleanup()
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupRuntime(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logCleanup, err = logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		WriteToStderr: cfg.Logging.File == "",
	})
	return err
}

// runtime bundles the wired store, source and router for one command.
type runtime struct {
	st     *store.Store
	src    *source.Store
	router *search.Router
}

func openRuntime() (*runtime, error) {
	tok := index.NewTokenizer(cfg.Tokenizer.NGram, cfg.Tokenizer.TokenChars)
	st, err := store.Open(cfg.DBPath, store.WithTokenizer(tok))
	if err != nil {
		return nil, err
	}

	log := slog.Default()
	lookups := projection.NewLookups(log)
	src := source.New(st,
		projection.NewEngine(st, lookups, log),
		projection.NewMetadataProjector(st),
	)
	src.OnLookupChanged(lookups.Invalidate)
	src.OnRollback(lookups.Reset)

	router := search.NewRouter(st, search.Options{
		NameWeight:  cfg.Search.NameWeight,
		BodyWeight:  cfg.Search.BodyWeight,
		RRFConstant: cfg.Search.RRFConstant,
		MaxResults:  cfg.Search.MaxResults,
	}, log)

	return &runtime{st: st, src: src, router: router}, nil
}

func (r *runtime) close() {
	_ = r.st.Close()
}
