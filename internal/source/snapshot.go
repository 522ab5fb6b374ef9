package source

import (
	"context"
	"database/sql"
	"fmt"
)

// Rebuild is the administrative full-rebuild: inside one transaction it
// wipes all derived state (chunks, search documents, postings) and
// replays the current source snapshot through the projection hooks in
// deterministic order (programs by id, then each narrative table by id).
//
// Given the same snapshot, the result is identical to what incremental
// projection produced: chunk ids are content-addressable and derivation
// is a pure function of source state.
func (s *Store) Rebuild(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.st.DeleteAllChunks(ctx, tx); err != nil {
			return err
		}
		if err := s.st.DeleteAllSearchDocs(ctx, tx); err != nil {
			return err
		}

		changes, err := snapshot(ctx, tx)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			for _, h := range s.hooks {
				if err := h.OnChange(ctx, tx, ch); err != nil {
					return fmt.Errorf("rebuild %s/%d: %w", ch.Kind, ch.PK, err)
				}
			}
		}
		return nil
	})
}

// snapshot reads every source row as an insert change, in deterministic
// replay order.
func snapshot(ctx context.Context, tx *sql.Tx) ([]Change, error) {
	var changes []Change

	programs, err := snapshotPrograms(ctx, tx)
	if err != nil {
		return nil, err
	}
	changes = append(changes, programs...)

	for _, kind := range narrativeKinds {
		rows, err := snapshotKind(ctx, tx, kind)
		if err != nil {
			return nil, err
		}
		changes = append(changes, rows...)
	}
	return changes, nil
}

func snapshotPrograms(ctx context.Context, tx *sql.Tx) ([]Change, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, code, name, COALESCE(org_code,''), COALESCE(policy,''),
		       COALESCE(measure,''), COALESCE(direct_goal,''),
		       COALESCE(target_population,''), COALESCE(objective,''),
		       COALESCE(content,''), COALESCE(classification1,''),
		       COALESCE(classification2,''), COALESCE(service_category,''),
		       COALESCE(legal_basis_text,''), COALESCE(general_plan_text,''),
		       COALESCE(sdgs_orientation,''), COALESCE(reform_link_text,'')
		FROM program ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot program: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var pk int64
		p := &Program{}
		if err := rows.Scan(&pk, &p.Code, &p.Name, &p.OrgCode, &p.Policy,
			&p.Measure, &p.DirectGoal, &p.TargetPopulation, &p.Objective,
			&p.Content, &p.Classification1, &p.Classification2,
			&p.ServiceCategory, &p.LegalBasisText, &p.GeneralPlanText,
			&p.SDGsOrientation, &p.ReformLinkText); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		changes = append(changes, Change{Kind: KindProgram, PK: pk, Op: OpInsert, State: p})
	}
	return changes, rows.Err()
}

func snapshotKind(ctx context.Context, tx *sql.Tx, kind Kind) ([]Change, error) {
	cols, scan := snapshotScanner(kind)
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT id, %s FROM %s ORDER BY id", cols, kind))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", kind, err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		pk, state, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		changes = append(changes, Change{Kind: kind, PK: pk, Op: OpInsert, State: state})
	}
	return changes, rows.Err()
}

// lookupDependents maps each label lookup table to the narrative kind
// and column that denormalizes its label into chunk content.
var lookupDependents = map[string]struct {
	kind   Kind
	column string
}{
	"achievement_level": {KindProgramResult, "achievement_level"},
	"eval_category":     {KindEvaluationScore, "category_code"},
	"action_direction":  {KindProgramAction, "direction_code"},
}

// reprojectLookupUsers re-runs the projection hooks for every narrative
// row whose chunk embeds the given lookup label. Runs inside the label
// upsert's own transaction, so chunks never carry a label the source
// tables do not.
func (s *Store) reprojectLookupUsers(ctx context.Context, tx *sql.Tx, table, code string) error {
	dep, ok := lookupDependents[table]
	if !ok {
		return nil
	}

	cols, scan := snapshotScanner(dep.kind)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, %s FROM %s WHERE %s = ? ORDER BY id", cols, dep.kind, dep.column), code)
	if err != nil {
		return fmt.Errorf("reproject %s: %w", dep.kind, err)
	}
	var changes []Change
	var scanErr error
	for rows.Next() {
		pk, state, err := scan(rows)
		if err != nil {
			scanErr = fmt.Errorf("scan %s: %w", dep.kind, err)
			break
		}
		changes = append(changes, Change{Kind: dep.kind, PK: pk, Op: OpUpdate, State: state})
	}
	// Close the cursor before the hooks issue their own statements on
	// this transaction's connection.
	_ = rows.Close()
	if scanErr != nil {
		return scanErr
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ch := range changes {
		for _, h := range s.hooks {
			if err := h.OnChange(ctx, tx, ch); err != nil {
				return fmt.Errorf("reproject %s/%d: %w", ch.Kind, ch.PK, err)
			}
		}
	}
	return nil
}

type scanFunc func(*sql.Rows) (int64, any, error)

// snapshotScanner returns the column list and row scanner per kind.
func snapshotScanner(kind Kind) (string, scanFunc) {
	switch kind {
	case KindPlannedAction:
		return "program_id, COALESCE(fiscal_year,''), item_order, COALESCE(text,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &PlannedAction{}
				var order sql.NullInt64
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &order, &v.Text)
				v.ItemOrder = fromNullInt(order)
				return pk, v, err
			}
	case KindProgramResult:
		return "program_id, COALESCE(fiscal_year,''), achievement_level, COALESCE(result_text,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &ProgramResult{}
				var level sql.NullInt64
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &level, &v.ResultText)
				v.AchievementLevel = fromNullInt(level)
				return pk, v, err
			}
	case KindIndicator:
		return "program_id, COALESCE(name,''), COALESCE(description,''), COALESCE(unit,''), sort_order",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &Indicator{}
				var order sql.NullInt64
				err := rows.Scan(&pk, &v.ProgramID, &v.Name, &v.Description, &v.Unit, &order)
				v.SortOrder = fromNullInt(order)
				return pk, v, err
			}
	case KindProgramEvaluation:
		return "program_id, COALESCE(fiscal_year,''), COALESCE(environment_change,''), COALESCE(improvement_history,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &ProgramEvaluation{}
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &v.EnvironmentChange, &v.ImprovementHistory)
				return pk, v, err
			}
	case KindEvaluationScore:
		return "program_id, COALESCE(fiscal_year,''), COALESCE(category_code,''), COALESCE(rating,''), COALESCE(reason,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &EvaluationScore{}
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &v.CategoryCode, &v.Rating, &v.Reason)
				return pk, v, err
			}
	case KindProgramContribution:
		return "program_id, COALESCE(fiscal_year,''), COALESCE(level,''), COALESCE(reason,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &ProgramContribution{}
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &v.Level, &v.Reason)
				return pk, v, err
			}
	case KindProgramAction:
		return "program_id, COALESCE(fiscal_year,''), COALESCE(direction_code,''), COALESCE(direction_text,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &ProgramAction{}
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &v.DirectionCode, &v.DirectionText)
				return pk, v, err
			}
	case KindNextYearActionItem:
		return "program_id, COALESCE(fiscal_year,''), item_order, COALESCE(text,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &NextYearActionItem{}
				var order sql.NullInt64
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &order, &v.Text)
				v.ItemOrder = fromNullInt(order)
				return pk, v, err
			}
	case KindPlanChangeNote:
		return "program_id, COALESCE(fiscal_year,''), COALESCE(change_points,''), COALESCE(change_reason,'')",
			func(rows *sql.Rows) (int64, any, error) {
				var pk int64
				v := &PlanChangeNote{}
				err := rows.Scan(&pk, &v.ProgramID, &v.FiscalYear, &v.ChangePoints, &v.ChangeReason)
				return pk, v, err
			}
	}
	panic(fmt.Sprintf("no snapshot scanner for kind %s", kind))
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
