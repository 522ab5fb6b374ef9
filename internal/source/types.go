// Package source implements the source-of-truth store for normalized
// program-evaluation entities and the change-subscription contract:
// every mutation runs in one transaction and synchronously notifies the
// registered projection hooks inside that transaction, so derived state
// commits or aborts together with the source row.
package source

import (
	"context"
	"database/sql"
	"fmt"
)

// Kind identifies an entity kind. Values equal the backing table names.
type Kind string

const (
	KindProgram             Kind = "program"
	KindPlannedAction       Kind = "planned_action"
	KindProgramResult       Kind = "program_result"
	KindIndicator           Kind = "indicator"
	KindProgramEvaluation   Kind = "program_evaluation"
	KindEvaluationScore     Kind = "evaluation_score"
	KindProgramContribution Kind = "program_contribution"
	KindProgramAction       Kind = "program_action"
	KindNextYearActionItem  Kind = "next_year_action_item"
	KindPlanChangeNote      Kind = "plan_change_note"
)

// narrativeKinds lists the entity kinds that own narrative text, in the
// deterministic replay order used by full rebuilds.
var narrativeKinds = []Kind{
	KindPlannedAction,
	KindProgramResult,
	KindIndicator,
	KindProgramEvaluation,
	KindEvaluationScore,
	KindProgramContribution,
	KindProgramAction,
	KindNextYearActionItem,
	KindPlanChangeNote,
}

// Op is the change kind of a mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a single entity mutation. For insert and update, State
// carries the full new field set the derivation rules need; for delete
// it is nil.
type Change struct {
	Kind  Kind
	PK    int64
	Op    Op
	State any
}

// Hook receives change notifications inside the mutating transaction.
// Returning an error aborts the transaction; the source mutation is
// rejected, never partially applied.
type Hook interface {
	OnChange(ctx context.Context, tx *sql.Tx, ch Change) error
}

// Program is the top-level entity. Narrative program fields feed the
// per-program search document.
type Program struct {
	Code             string
	Name             string
	OrgCode          string
	Policy           string
	Measure          string
	DirectGoal       string
	TargetPopulation string
	Objective        string
	Content          string
	Classification1  string
	Classification2  string
	ServiceCategory  string
	LegalBasisText   string
	GeneralPlanText  string
	SDGsOrientation  string
	ReformLinkText   string
}

// PlannedAction is one PLAN bullet for a fiscal year.
type PlannedAction struct {
	ProgramID  int64
	FiscalYear string
	ItemOrder  *int64
	Text       string
}

// ProgramResult is the DO record: achievement level plus result text.
type ProgramResult struct {
	ProgramID        int64
	FiscalYear       string
	AchievementLevel *int64 // achievement_level.code
	ResultText       string
}

// Indicator is a measurement definition attached to a program.
type Indicator struct {
	ProgramID   int64
	Name        string
	Description string
	Unit        string
	SortOrder   *int64
}

// ProgramEvaluation is the CHECK record. It feeds two chunk rules:
// environment change and improvement history.
type ProgramEvaluation struct {
	ProgramID          int64
	FiscalYear         string
	EnvironmentChange  string
	ImprovementHistory string
}

// EvaluationScore is one CHECK category rating with rationale.
type EvaluationScore struct {
	ProgramID    int64
	FiscalYear   string
	CategoryCode string // eval_category.code
	Rating       string // "a" | "b" | "c"
	Reason       string
}

// ProgramContribution is the contribution-level judgement.
type ProgramContribution struct {
	ProgramID  int64
	FiscalYear string
	Level      string // "A" | "B" | "C"
	Reason     string
}

// ProgramAction is the ACTION record: future direction of the program.
type ProgramAction struct {
	ProgramID     int64
	FiscalYear    string
	DirectionCode string // action_direction.code
	DirectionText string
}

// NextYearActionItem is one next-year plan bullet.
type NextYearActionItem struct {
	ProgramID  int64
	FiscalYear string
	ItemOrder  *int64
	Text       string
}

// PlanChangeNote records changes against the initial plan.
type PlanChangeNote struct {
	ProgramID    int64
	FiscalYear   string
	ChangePoints string
	ChangeReason string
}

// validate checks that a change is structurally sound before any SQL runs.
func (ch Change) validate() error {
	switch ch.Op {
	case OpInsert:
		if ch.State == nil {
			return fmt.Errorf("%s insert requires state", ch.Kind)
		}
	case OpUpdate:
		if ch.State == nil {
			return fmt.Errorf("%s update requires state", ch.Kind)
		}
		if ch.PK == 0 {
			return fmt.Errorf("%s update requires pk", ch.Kind)
		}
	case OpDelete:
		if ch.PK == 0 {
			return fmt.Errorf("%s delete requires pk", ch.Kind)
		}
	default:
		return fmt.Errorf("unknown op %q", ch.Op)
	}
	return nil
}
