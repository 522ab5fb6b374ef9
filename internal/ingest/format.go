// Package ingest imports DB-ingest JSON files: table-named arrays of
// rows keyed by program_code and fiscal_year_label, as produced by the
// upstream extraction pipeline. Every imported row flows through the
// source store, so projection runs identically for imported and
// hand-applied data.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/hyokadb/hyokadb/internal/errors"
)

// File is one parsed DB-ingest JSON payload. Tables the schema does not
// model (finance, SDG links, prebuilt chunks) are ignored: chunks are
// always derived here, never imported.
type File struct {
	Enums              map[string][]EnumRow   `json:"enums"`
	Organization       []OrganizationRow      `json:"organization"`
	Program            []ProgramRow           `json:"program"`
	PlannedAction      []PlannedActionRow     `json:"planned_action"`
	ProgramResult      []ProgramResultRow     `json:"program_result"`
	Indicator          []IndicatorRow         `json:"indicator"`
	ProgramEvaluation  []ProgramEvaluationRow `json:"program_evaluation"`
	EvaluationScore    []EvaluationScoreRow   `json:"evaluation_score"`
	ProgramContrib     []ProgramContribRow    `json:"program_contribution"`
	ProgramAction      []ProgramActionRow     `json:"program_action"`
	NextYearActionItem []NextYearActionRow    `json:"next_year_action_item"`
	PlanChangeNote     []PlanChangeNoteRow    `json:"plan_change_note"`
}

// EnumRow is one lookup label. Codes may be numbers (achievement_level)
// or strings (eval_category, action_direction).
type EnumRow struct {
	Code  any    `json:"code"`
	Label string `json:"label"`
}

// CodeString renders the code the way the lookup tables key it.
func (r EnumRow) CodeString() string {
	switch v := r.Code.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

type OrganizationRow struct {
	OrgCode string `json:"org_code"`
	Name    string `json:"name"`
}

type ProgramRow struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	OrgCode          string `json:"organization_org_code"`
	Policy           string `json:"policy"`
	Measure          string `json:"measure"`
	DirectGoal       string `json:"direct_goal"`
	TargetPopulation string `json:"target_population"`
	Objective        string `json:"objective"`
	Content          string `json:"content"`
	Classification1  string `json:"classification1"`
	Classification2  string `json:"classification2"`
	ServiceCategory  string `json:"service_category"`
	LegalBasisText   string `json:"legal_basis_text"`
	GeneralPlanText  string `json:"general_plan_text"`
	SDGsOrientation  string `json:"sdgs_orientation"`
	ReformLinkText   string `json:"reform_link_text"`
}

type PlannedActionRow struct {
	ProgramCode string `json:"program_code"`
	FiscalYear  string `json:"fiscal_year_label"`
	ItemOrder   *int64 `json:"item_order"`
	Text        string `json:"text"`
}

type ProgramResultRow struct {
	ProgramCode      string `json:"program_code"`
	FiscalYear       string `json:"fiscal_year_label"`
	AchievementLevel *int64 `json:"achievement_level_code"`
	ResultText       string `json:"result_text"`
}

type IndicatorRow struct {
	ProgramCode string `json:"program_code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
	SortOrder   *int64 `json:"sort_order"`
}

type ProgramEvaluationRow struct {
	ProgramCode        string `json:"program_code"`
	FiscalYear         string `json:"fiscal_year_label"`
	EnvironmentChange  string `json:"environment_change"`
	ImprovementHistory string `json:"improvement_history"`
}

type EvaluationScoreRow struct {
	ProgramCode  string `json:"program_code"`
	FiscalYear   string `json:"fiscal_year_label"`
	CategoryCode string `json:"eval_category_code"`
	Rating       string `json:"rating_letter"`
	Reason       string `json:"reason"`
}

type ProgramContribRow struct {
	ProgramCode string `json:"program_code"`
	FiscalYear  string `json:"fiscal_year_label"`
	Level       string `json:"level_letter"`
	Reason      string `json:"reason"`
}

type ProgramActionRow struct {
	ProgramCode   string `json:"program_code"`
	FiscalYear    string `json:"fiscal_year_label"`
	DirectionCode string `json:"direction_code"`
	DirectionText string `json:"direction_text"`
}

type NextYearActionRow struct {
	ProgramCode string `json:"program_code"`
	FiscalYear  string `json:"fiscal_year_label"`
	ItemOrder   *int64 `json:"item_order"`
	Text        string `json:"text"`
}

type PlanChangeNoteRow struct {
	ProgramCode  string `json:"program_code"`
	FiscalYear   string `json:"fiscal_year_label"`
	ChangePoints string `json:"change_points_text"`
	ChangeReason string `json:"change_reason_text"`
}

// Parse reads and decodes one DB-ingest JSON file.
func Parse(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.New(errors.ErrCodeImportFormat,
			fmt.Sprintf("%s: not a DB-ingest JSON file", path), err)
	}
	return &f, nil
}
