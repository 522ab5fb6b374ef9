// Package projection derives the search-facing state — text chunks and
// per-program search documents — from source entity changes. Both hooks
// run inside the mutating transaction, so derived rows and index
// postings commit or abort together with the source row.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/source"
	"github.com/hyokadb/hyokadb/internal/store"
)

// Engine maintains the chunk store. Each narrative entity kind maps to
// fixed sections; deriving is a pure function of the entity's state, so
// replaying the same state always yields the same chunks.
type Engine struct {
	st      *store.Store
	lookups *Lookups
	log     *slog.Logger
}

// NewEngine creates the projection engine over st.
func NewEngine(st *store.Store, lookups *Lookups, logger *slog.Logger) *Engine {
	return &Engine{st: st, lookups: lookups, log: logger}
}

// chunkSpec is one derived chunk before it is stamped with program
// identity: the output of a single derivation rule.
type chunkSpec struct {
	section    store.Section
	content    string
	fiscalYear string
	position   *int64
}

// OnChange implements source.Hook.
func (e *Engine) OnChange(ctx context.Context, tx *sql.Tx, ch source.Change) error {
	if ch.Kind == source.KindProgram {
		return e.onProgramChange(ctx, tx, ch)
	}

	if ch.Op == source.OpDelete {
		origin := store.Origin{Table: string(ch.Kind), PK: ch.PK}
		return e.st.DeleteChunksByOrigin(ctx, tx, origin)
	}

	programID, specs, err := e.derive(ctx, tx, ch)
	if err != nil {
		return err
	}
	code, err := programCode(ctx, tx, programID)
	if err != nil {
		return errors.DerivationError(
			fmt.Sprintf("%s/%d references unknown program %d", ch.Kind, ch.PK, programID), err).
			WithDetail("source", fmt.Sprintf("%s/%d", ch.Kind, ch.PK))
	}

	origin := store.Origin{Table: string(ch.Kind), PK: ch.PK}
	for _, spec := range specs {
		if strings.TrimSpace(spec.content) == "" {
			// A rule with nothing to say retracts its chunk.
			if err := e.st.DeleteChunk(ctx, tx, origin, spec.section); err != nil {
				return err
			}
			continue
		}
		chunk := &store.Chunk{
			ProgramID:   programID,
			ProgramCode: code,
			FiscalYear:  spec.fiscalYear,
			Section:     spec.section,
			Content:     spec.content,
			Origin:      origin,
			Position:    spec.position,
		}
		if err := e.st.UpsertChunk(ctx, tx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// onProgramChange handles the owning entity itself. Deleting a program
// retracts every chunk it owns; updating one refreshes the denormalized
// program code on its chunks.
func (e *Engine) onProgramChange(ctx context.Context, tx *sql.Tx, ch source.Change) error {
	switch ch.Op {
	case source.OpDelete:
		return e.st.DeleteChunksByProgram(ctx, tx, ch.PK)
	case source.OpUpdate:
		p, ok := ch.State.(*source.Program)
		if !ok {
			return errors.DerivationError(
				fmt.Sprintf("program update carries %T state", ch.State), nil)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE text_chunk SET program_code = ? WHERE program_id = ? AND program_code <> ?`,
			p.Code, ch.PK, p.Code); err != nil {
			return fmt.Errorf("refresh chunk program code: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunk_fts SET program_code = ? WHERE program_id = ?`,
			p.Code, ch.PK); err != nil {
			return errors.IndexSyncError("refresh posting program code", err)
		}
	}
	return nil
}

// derive applies the fixed derivation rules for one entity state and
// returns the owning program id plus the derived chunk specs. Every
// section the entity kind feeds is always present in the result, with
// empty content standing for retraction.
func (e *Engine) derive(ctx context.Context, tx *sql.Tx, ch source.Change) (int64, []chunkSpec, error) {
	switch v := ch.State.(type) {
	case *source.PlannedAction:
		return v.ProgramID, []chunkSpec{{
			section:    store.SectionPlan,
			content:    v.Text,
			fiscalYear: v.FiscalYear,
			position:   v.ItemOrder,
		}}, nil

	case *source.ProgramResult:
		label := ""
		if v.AchievementLevel != nil {
			var err error
			label, err = e.lookups.Label(ctx, tx, "achievement_level",
				fmt.Sprint(*v.AchievementLevel))
			if err != nil {
				return 0, nil, err
			}
		}
		return v.ProgramID, []chunkSpec{{
			section:    store.SectionResult,
			content:    labeled(label, v.ResultText),
			fiscalYear: v.FiscalYear,
		}}, nil

	case *source.Indicator:
		return v.ProgramID, []chunkSpec{{
			section:  store.SectionIndicator,
			content:  joinNonEmpty("／", v.Name, v.Description, v.Unit),
			position: v.SortOrder,
		}}, nil

	case *source.ProgramEvaluation:
		return v.ProgramID, []chunkSpec{
			{
				section:    store.SectionEnvChange,
				content:    v.EnvironmentChange,
				fiscalYear: v.FiscalYear,
			},
			{
				section:    store.SectionImprovement,
				content:    v.ImprovementHistory,
				fiscalYear: v.FiscalYear,
			},
		}, nil

	case *source.EvaluationScore:
		label, err := e.lookups.Label(ctx, tx, "eval_category", v.CategoryCode)
		if err != nil {
			return 0, nil, err
		}
		prefix := label
		if v.Rating != "" {
			prefix += "（" + v.Rating + "）"
		}
		return v.ProgramID, []chunkSpec{{
			section:    store.SectionEvalRationale,
			content:    labeled(prefix, v.Reason),
			fiscalYear: v.FiscalYear,
		}}, nil

	case *source.ProgramContribution:
		return v.ProgramID, []chunkSpec{{
			section:    store.SectionContribution,
			content:    labeled(v.Level, v.Reason),
			fiscalYear: v.FiscalYear,
		}}, nil

	case *source.ProgramAction:
		label, err := e.lookups.Label(ctx, tx, "action_direction", v.DirectionCode)
		if err != nil {
			return 0, nil, err
		}
		return v.ProgramID, []chunkSpec{{
			section:    store.SectionAction,
			content:    labeled(label, v.DirectionText),
			fiscalYear: v.FiscalYear,
		}}, nil

	case *source.NextYearActionItem:
		return v.ProgramID, []chunkSpec{{
			section:    store.SectionNextYear,
			content:    v.Text,
			fiscalYear: v.FiscalYear,
			position:   v.ItemOrder,
		}}, nil

	case *source.PlanChangeNote:
		return v.ProgramID, []chunkSpec{{
			section:    store.SectionPlanChange,
			content:    joinNonEmpty("／", v.ChangePoints, v.ChangeReason),
			fiscalYear: v.FiscalYear,
		}}, nil
	}

	return 0, nil, errors.DerivationError(
		fmt.Sprintf("no derivation rule for %s state %T", ch.Kind, ch.State), nil)
}

// labeled prefixes text with a label. The free text is the narrative
// payload: without it the rule derives nothing, whatever the label says.
func labeled(label, text string) string {
	if text == "" {
		return ""
	}
	if label == "" {
		return text
	}
	return label + "：" + text
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// programCode resolves the owning program's code within tx.
func programCode(ctx context.Context, tx *sql.Tx, programID int64) (string, error) {
	var code string
	err := tx.QueryRowContext(ctx,
		`SELECT code FROM program WHERE id = ?`, programID).Scan(&code)
	if err != nil {
		return "", err
	}
	return code, nil
}
