package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/store"
)

// Store applies entity mutations and drives the projection hooks.
//
// Concurrency: the underlying store uses a single writer connection, so
// mutations to the same entity are serialized; their derivations never
// interleave.
type Store struct {
	st    *store.Store
	hooks []Hook

	// onLookupChanged is called when a label lookup row changes, so the
	// projection engine can invalidate its cache.
	onLookupChanged func(table, code string)

	// onRollback is called when a mutating transaction rolls back, so
	// caches populated during that transaction can be dropped.
	onRollback func()
}

// New creates a source store over st with the given projection hooks.
// Hooks run in registration order inside every mutating transaction.
func New(st *store.Store, hooks ...Hook) *Store {
	return &Store{st: st, hooks: hooks}
}

// OnLookupChanged registers a callback invoked after a lookup label row
// is inserted or updated.
func (s *Store) OnLookupChanged(fn func(table, code string)) {
	s.onLookupChanged = fn
}

// OnRollback registers a callback invoked whenever a mutating
// transaction rolls back. Labels read inside the failed transaction may
// never have committed, so the lookup cache must be dropped with it.
func (s *Store) OnRollback(fn func()) {
	s.onRollback = fn
}

// Apply executes the given changes in one transaction, invoking all
// hooks for each change inside that transaction. Either every source
// row, chunk, search document and posting commits, or none do.
//
// For inserts with PK == 0, the assigned rowid is written back into the
// change before hooks run; expand a []Change to observe it after Apply
// returns.
func (s *Store) Apply(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range changes {
			if err := s.applyOne(ctx, tx, &changes[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyTx executes a single change within an existing transaction.
// Exposed for callers that batch mutations with other work.
func (s *Store) ApplyTx(ctx context.Context, tx *sql.Tx, ch *Change) error {
	return s.applyOne(ctx, tx, ch)
}

// WithTx runs fn in one transaction on the underlying store. The store
// has a single writer connection, so any reads inside the batch must go
// through tx, never the pooled handle. A failed transaction fires the
// rollback callback.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := s.st.WithTx(ctx, fn)
	if err != nil && s.onRollback != nil {
		s.onRollback()
	}
	return err
}

func (s *Store) applyOne(ctx context.Context, tx *sql.Tx, ch *Change) error {
	if err := ch.validate(); err != nil {
		return errors.ValidationError(err.Error(), nil)
	}

	var err error
	switch ch.Op {
	case OpInsert:
		err = s.insertRow(ctx, tx, ch)
	case OpUpdate:
		err = s.updateRow(ctx, tx, ch)
	case OpDelete:
		err = s.deleteRow(ctx, tx, ch)
	}
	if err != nil {
		return fmt.Errorf("apply %s %s/%d: %w", ch.Op, ch.Kind, ch.PK, err)
	}

	for _, h := range s.hooks {
		if err := h.OnChange(ctx, tx, *ch); err != nil {
			return err
		}
	}
	return nil
}

// columnSpec returns the column names and values for an entity state.
func columnSpec(kind Kind, state any) ([]string, []any, error) {
	switch v := state.(type) {
	case *Program:
		if kind != KindProgram {
			break
		}
		return []string{
				"code", "name", "org_code", "policy", "measure",
				"direct_goal", "target_population", "objective", "content",
				"classification1", "classification2", "service_category",
				"legal_basis_text", "general_plan_text", "sdgs_orientation",
				"reform_link_text",
			}, []any{
				v.Code, v.Name, nullStr(v.OrgCode), v.Policy, v.Measure,
				v.DirectGoal, v.TargetPopulation, v.Objective, v.Content,
				v.Classification1, v.Classification2, v.ServiceCategory,
				v.LegalBasisText, v.GeneralPlanText, v.SDGsOrientation,
				v.ReformLinkText,
			}, nil
	case *PlannedAction:
		if kind != KindPlannedAction {
			break
		}
		return []string{"program_id", "fiscal_year", "item_order", "text"},
			[]any{v.ProgramID, v.FiscalYear, nullInt(v.ItemOrder), v.Text}, nil
	case *ProgramResult:
		if kind != KindProgramResult {
			break
		}
		return []string{"program_id", "fiscal_year", "achievement_level", "result_text"},
			[]any{v.ProgramID, v.FiscalYear, nullInt(v.AchievementLevel), v.ResultText}, nil
	case *Indicator:
		if kind != KindIndicator {
			break
		}
		return []string{"program_id", "name", "description", "unit", "sort_order"},
			[]any{v.ProgramID, v.Name, v.Description, v.Unit, nullInt(v.SortOrder)}, nil
	case *ProgramEvaluation:
		if kind != KindProgramEvaluation {
			break
		}
		return []string{"program_id", "fiscal_year", "environment_change", "improvement_history"},
			[]any{v.ProgramID, v.FiscalYear, v.EnvironmentChange, v.ImprovementHistory}, nil
	case *EvaluationScore:
		if kind != KindEvaluationScore {
			break
		}
		return []string{"program_id", "fiscal_year", "category_code", "rating", "reason"},
			[]any{v.ProgramID, v.FiscalYear, v.CategoryCode, v.Rating, v.Reason}, nil
	case *ProgramContribution:
		if kind != KindProgramContribution {
			break
		}
		return []string{"program_id", "fiscal_year", "level", "reason"},
			[]any{v.ProgramID, v.FiscalYear, v.Level, v.Reason}, nil
	case *ProgramAction:
		if kind != KindProgramAction {
			break
		}
		return []string{"program_id", "fiscal_year", "direction_code", "direction_text"},
			[]any{v.ProgramID, v.FiscalYear, v.DirectionCode, v.DirectionText}, nil
	case *NextYearActionItem:
		if kind != KindNextYearActionItem {
			break
		}
		return []string{"program_id", "fiscal_year", "item_order", "text"},
			[]any{v.ProgramID, v.FiscalYear, nullInt(v.ItemOrder), v.Text}, nil
	case *PlanChangeNote:
		if kind != KindPlanChangeNote {
			break
		}
		return []string{"program_id", "fiscal_year", "change_points", "change_reason"},
			[]any{v.ProgramID, v.FiscalYear, v.ChangePoints, v.ChangeReason}, nil
	}
	return nil, nil, fmt.Errorf("state type %T does not match kind %s", state, kind)
}

func (s *Store) insertRow(ctx context.Context, tx *sql.Tx, ch *Change) error {
	cols, vals, err := columnSpec(ch.Kind, ch.State)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ch.Kind, joinCols(cols), placeholders(len(cols)))
	if ch.PK != 0 {
		query = fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (?, %s)",
			ch.Kind, joinCols(cols), placeholders(len(cols)))
		vals = append([]any{ch.PK}, vals...)
	}

	res, err := tx.ExecContext(ctx, query, vals...)
	if err != nil {
		return err
	}
	if ch.PK == 0 {
		pk, err := res.LastInsertId()
		if err != nil {
			return err
		}
		ch.PK = pk
	}
	return nil
}

func (s *Store) updateRow(ctx context.Context, tx *sql.Tx, ch *Change) error {
	cols, vals, err := columnSpec(ch.Kind, ch.State)
	if err != nil {
		return err
	}
	set := ""
	for i, c := range cols {
		if i > 0 {
			set += ", "
		}
		set += c + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", ch.Kind, set)
	res, err := tx.ExecContext(ctx, query, append(vals, ch.PK)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no row with id %d", ch.PK)
	}
	return nil
}

func (s *Store) deleteRow(ctx context.Context, tx *sql.Tx, ch *Change) error {
	// Idempotent: deleting an absent row is not an error.
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", ch.Kind), ch.PK)
	return err
}

// UpsertOrganization inserts or updates an organization row.
// Reference data: no projection hooks fire.
func (s *Store) UpsertOrganization(ctx context.Context, orgCode, name string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.UpsertOrganizationTx(ctx, tx, orgCode, name)
	})
}

// UpsertOrganizationTx is UpsertOrganization within an existing transaction.
func (s *Store) UpsertOrganizationTx(ctx context.Context, tx *sql.Tx, orgCode, name string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO organization (org_code, name) VALUES (?,?)
		ON CONFLICT(org_code) DO UPDATE SET name = excluded.name`,
		orgCode, name)
	return err
}

// LookupTables are the label lookup tables the derivation rules may
// query by code.
var LookupTables = map[string]bool{
	"achievement_level": true,
	"eval_category":     true,
	"action_direction":  true,
}

// UpsertLookupLabel inserts or updates a lookup label row, notifies the
// cache invalidation callback, and re-derives the chunks that embed the
// label, all in one transaction.
func (s *Store) UpsertLookupLabel(ctx context.Context, table, code, label string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.UpsertLookupLabelTx(ctx, tx, table, code, label)
	})
}

// UpsertLookupLabelTx is UpsertLookupLabel within an existing transaction.
func (s *Store) UpsertLookupLabelTx(ctx context.Context, tx *sql.Tx, table, code, label string) error {
	if !LookupTables[table] {
		return errors.ValidationError(fmt.Sprintf("unsupported lookup table %q", table), nil)
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (code, label) VALUES (?,?)
		ON CONFLICT(code) DO UPDATE SET label = excluded.label`, table),
		code, label)
	if err != nil {
		return err
	}
	// Invalidate before reprojecting so the re-derivation reads the new
	// label, then refresh every chunk that denormalized the old one.
	if s.onLookupChanged != nil {
		s.onLookupChanged(table, code)
	}
	return s.reprojectLookupUsers(ctx, tx, table, code)
}

// ProgramIDByCode returns the id of the program with the given code, or
// 0 when absent. Used by the importer's append-only policy.
func (s *Store) ProgramIDByCode(ctx context.Context, code string) (int64, error) {
	var id int64
	err := s.st.DB().QueryRowContext(ctx,
		`SELECT id FROM program WHERE code = ?`, code).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("program by code %s: %w", code, err)
	}
	return id, nil
}

// ProgramIDByCodeTx is ProgramIDByCode within an existing transaction.
func (s *Store) ProgramIDByCodeTx(ctx context.Context, tx *sql.Tx, code string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM program WHERE code = ?`, code).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("program by code %s: %w", code, err)
	}
	return id, nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
