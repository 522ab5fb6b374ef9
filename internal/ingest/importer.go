package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/source"
)

// Importer applies DB-ingest JSON files to the source store. Parsing
// runs in parallel; applying stays strictly serial in alphabetical file
// order (the store is single-writer and order must be reproducible).
//
// The import is append-only per program: a code already in the database
// is skipped together with all its child rows, so re-running a batch is
// harmless.
type Importer struct {
	src       *source.Store
	log       *slog.Logger
	workers   int
	progressW io.Writer
}

// Option configures an Importer.
type Option func(*Importer)

// WithWorkers sets the parse parallelism.
func WithWorkers(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.workers = n
		}
	}
}

// WithProgress renders a progress bar to w while importing.
func WithProgress(w io.Writer) Option {
	return func(im *Importer) { im.progressW = w }
}

// New creates an Importer over src.
func New(src *source.Store, logger *slog.Logger, opts ...Option) *Importer {
	im := &Importer{src: src, log: logger, workers: 4, progressW: io.Discard}
	for _, o := range opts {
		o(im)
	}
	return im
}

// FileResult is the per-file outcome of a batch.
type FileResult struct {
	Path     string
	Imported int // programs inserted
	Skipped  int // programs already present
	Err      error
}

// Result summarizes one import batch.
type Result struct {
	BatchID  string
	Files    []FileResult
	Imported int
	Skipped  int
	Failed   int // files that did not apply
}

// Run expands the glob patterns, parses the matched files in parallel
// and applies them one at a time. A failing file is logged and skipped;
// its transaction rolls back without touching the other files.
func (im *Importer) Run(ctx context.Context, patterns []string) (*Result, error) {
	files, err := expandGlobs(patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New(errors.ErrCodeFileNotFound,
			fmt.Sprintf("no files match %v", patterns), nil)
	}

	res := &Result{BatchID: uuid.NewString()}
	log := im.log.With(slog.String("batch_id", res.BatchID))
	log.Info("import batch start", slog.Int("files", len(files)))

	parsed := make([]*File, len(files))
	parseErrs := make([]error, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			parsed[i], parseErrs[i] = Parse(path)
			return nil
		})
	}
	_ = g.Wait()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("importing"),
		progressbar.OptionSetWriter(im.progressW),
		progressbar.OptionClearOnFinish(),
	)
	for i, path := range files {
		fr := FileResult{Path: path, Err: parseErrs[i]}
		if fr.Err == nil {
			fr.Imported, fr.Skipped, fr.Err = im.importFile(ctx, parsed[i])
		}
		if fr.Err != nil {
			res.Failed++
			log.Error("import file failed",
				slog.String("file", path),
				slog.String("error", fr.Err.Error()))
		} else {
			res.Imported += fr.Imported
			res.Skipped += fr.Skipped
			log.Info("import file done",
				slog.String("file", path),
				slog.Int("imported", fr.Imported),
				slog.Int("skipped", fr.Skipped))
		}
		res.Files = append(res.Files, fr)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	log.Info("import batch done",
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res, nil
}

// importFile applies one payload in a single transaction.
func (im *Importer) importFile(ctx context.Context, f *File) (imported, skipped int, err error) {
	err = im.src.WithTx(ctx, func(tx *sql.Tx) error {
		for table, rows := range f.Enums {
			if !source.LookupTables[table] {
				continue
			}
			for _, r := range rows {
				if code := r.CodeString(); code != "" {
					if err := im.src.UpsertLookupLabelTx(ctx, tx, table, code, r.Label); err != nil {
						return err
					}
				}
			}
		}
		for _, org := range f.Organization {
			if org.OrgCode == "" {
				continue
			}
			if err := im.src.UpsertOrganizationTx(ctx, tx, org.OrgCode, org.Name); err != nil {
				return err
			}
		}

		ids := make(map[string]int64)    // codes inserted this file
		present := make(map[string]bool) // codes skipped as already stored
		for _, p := range f.Program {
			if p.Code == "" {
				return errors.New(errors.ErrCodeImportFormat, "program row without code", nil)
			}
			existing, err := im.src.ProgramIDByCodeTx(ctx, tx, p.Code)
			if err != nil {
				return err
			}
			if existing != 0 {
				present[p.Code] = true
				skipped++
				continue
			}
			ch := source.Change{Kind: source.KindProgram, Op: source.OpInsert, State: &source.Program{
				Code:             p.Code,
				Name:             p.Name,
				OrgCode:          p.OrgCode,
				Policy:           p.Policy,
				Measure:          p.Measure,
				DirectGoal:       p.DirectGoal,
				TargetPopulation: p.TargetPopulation,
				Objective:        p.Objective,
				Content:          p.Content,
				Classification1:  p.Classification1,
				Classification2:  p.Classification2,
				ServiceCategory:  p.ServiceCategory,
				LegalBasisText:   p.LegalBasisText,
				GeneralPlanText:  p.GeneralPlanText,
				SDGsOrientation:  p.SDGsOrientation,
				ReformLinkText:   p.ReformLinkText,
			}}
			if err := im.src.ApplyTx(ctx, tx, &ch); err != nil {
				return err
			}
			ids[p.Code] = ch.PK
			imported++
		}

		apply := func(code string, kind source.Kind, state func(pid int64) any) error {
			pid, ok := ids[code]
			if !ok {
				if present[code] {
					return nil // child of a skipped program: duplicate batch
				}
				return errors.New(errors.ErrCodeImportFormat,
					fmt.Sprintf("%s row references unknown program %q", kind, code), nil)
			}
			ch := source.Change{Kind: kind, Op: source.OpInsert, State: state(pid)}
			return im.src.ApplyTx(ctx, tx, &ch)
		}

		for _, r := range f.PlannedAction {
			if err := apply(r.ProgramCode, source.KindPlannedAction, func(pid int64) any {
				return &source.PlannedAction{ProgramID: pid, FiscalYear: r.FiscalYear,
					ItemOrder: r.ItemOrder, Text: r.Text}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.ProgramResult {
			if err := apply(r.ProgramCode, source.KindProgramResult, func(pid int64) any {
				return &source.ProgramResult{ProgramID: pid, FiscalYear: r.FiscalYear,
					AchievementLevel: r.AchievementLevel, ResultText: r.ResultText}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.Indicator {
			if err := apply(r.ProgramCode, source.KindIndicator, func(pid int64) any {
				return &source.Indicator{ProgramID: pid, Name: r.Name,
					Description: r.Description, Unit: r.Unit, SortOrder: r.SortOrder}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.ProgramEvaluation {
			if err := apply(r.ProgramCode, source.KindProgramEvaluation, func(pid int64) any {
				return &source.ProgramEvaluation{ProgramID: pid, FiscalYear: r.FiscalYear,
					EnvironmentChange: r.EnvironmentChange, ImprovementHistory: r.ImprovementHistory}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.EvaluationScore {
			if err := apply(r.ProgramCode, source.KindEvaluationScore, func(pid int64) any {
				return &source.EvaluationScore{ProgramID: pid, FiscalYear: r.FiscalYear,
					CategoryCode: r.CategoryCode, Rating: r.Rating, Reason: r.Reason}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.ProgramContrib {
			if err := apply(r.ProgramCode, source.KindProgramContribution, func(pid int64) any {
				return &source.ProgramContribution{ProgramID: pid, FiscalYear: r.FiscalYear,
					Level: r.Level, Reason: r.Reason}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.ProgramAction {
			if err := apply(r.ProgramCode, source.KindProgramAction, func(pid int64) any {
				return &source.ProgramAction{ProgramID: pid, FiscalYear: r.FiscalYear,
					DirectionCode: r.DirectionCode, DirectionText: r.DirectionText}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.NextYearActionItem {
			if err := apply(r.ProgramCode, source.KindNextYearActionItem, func(pid int64) any {
				return &source.NextYearActionItem{ProgramID: pid, FiscalYear: r.FiscalYear,
					ItemOrder: r.ItemOrder, Text: r.Text}
			}); err != nil {
				return err
			}
		}
		for _, r := range f.PlanChangeNote {
			if err := apply(r.ProgramCode, source.KindPlanChangeNote, func(pid int64) any {
				return &source.PlanChangeNote{ProgramID: pid, FiscalYear: r.FiscalYear,
					ChangePoints: r.ChangePoints, ChangeReason: r.ChangeReason}
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return imported, skipped, nil
}

// expandGlobs resolves the patterns to a deduplicated, alphabetically
// sorted file list.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pat := range patterns {
		matches, err := doublestar.FilepathGlob(pat)
		if err != nil {
			return nil, errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("bad glob %q", pat), err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
