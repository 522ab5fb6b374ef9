package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyokadb/hyokadb/internal/search"
	"github.com/hyokadb/hyokadb/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	scope    string
	limit    int
	program  string
	org      string
	years    []string
	sections []string
	format   string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search evaluation records",
		Long: `Searches the projected evaluation records. Scope "chunk" ranks
individual narrative passages, "document" ranks whole programs with
the program name weighted above the body, and "both" fuses the two
rankings.

A query with filters but no text lists matching records unranked.

Examples:
  hyokadb search 相談窓口
  hyokadb search 達成率 --scope chunk --section RESULT --year R6
  hyokadb search 防災 --scope both --format json
  hyokadb search --program 40101010 --scope chunk`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) > 0 {
				text = args[0]
			}
			return runSearch(cmd, text, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scope, "scope", "both", "search scope: chunk, document, both")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "maximum results (default from config)")
	cmd.Flags().StringVar(&opts.program, "program", "", "filter by program code")
	cmd.Flags().StringVar(&opts.org, "org", "", "filter by organization code")
	cmd.Flags().StringSliceVar(&opts.years, "year", nil, "filter by fiscal year label (repeatable)")
	cmd.Flags().StringSliceVar(&opts.sections, "section", nil, "filter by section tag (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json")
	return cmd
}

func runSearch(cmd *cobra.Command, text string, opts searchOptions) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	sections := make([]store.Section, 0, len(opts.sections))
	for _, s := range opts.sections {
		sections = append(sections, store.Section(strings.ToUpper(s)))
	}

	results, err := rt.router.Search(cmd.Context(), search.Query{
		Text:  text,
		Scope: search.Scope(opts.scope),
		Limit: opts.limit,
		Filter: search.Filters{
			ProgramCode: opts.program,
			OrgCode:     opts.org,
			FiscalYears: opts.years,
			Sections:    sections,
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, styleDim.Render("no results"))
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%s %s %s\n",
			styleDim.Render(fmt.Sprintf("%2d.", i+1)),
			styleTitle.Render(r.Program.Name),
			styleDim.Render(fmt.Sprintf("[%s] score=%s", r.Program.Code,
				styleScore.Render(fmt.Sprintf("%.3f", r.Score)))))
		if r.Chunk != nil {
			tag := string(r.Chunk.Section)
			if r.Chunk.FiscalYear != "" {
				tag += " " + r.Chunk.FiscalYear
			}
			fmt.Fprintf(out, "    %s %s\n",
				styleSection.Render(tag), snippet(r.Chunk.Content, 120))
		}
	}
	return nil
}

// snippet trims content to at most n runes for terminal display.
func snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
