package search

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hyokaerrors "github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/projection"
	"github.com/hyokadb/hyokadb/internal/source"
	"github.com/hyokadb/hyokadb/internal/store"
)

func setup(t *testing.T) (*source.Store, *Router) {
	t.Helper()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lookups := projection.NewLookups(logger)
	src := source.New(st,
		projection.NewEngine(st, lookups, logger),
		projection.NewMetadataProjector(st),
	)
	src.OnLookupChanged(lookups.Invalidate)
	src.OnRollback(lookups.Reset)
	return src, NewRouter(st, Options{}, logger)
}

func apply(t *testing.T, src *source.Store, kind source.Kind, state any) int64 {
	t.Helper()
	chs := []source.Change{{Kind: kind, Op: source.OpInsert, State: state}}
	require.NoError(t, src.Apply(context.Background(), chs...))
	return chs[0].PK
}

func TestChunkScopeFindsPassage(t *testing.T) {
	// Given: a program whose plan mentions consultation desks
	ctx := context.Background()
	src, router := setup(t)
	pid := apply(t, src, source.KindProgram, &source.Program{Code: "P1", Name: "市民相談事業"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: pid, FiscalYear: "R6", Text: "相談窓口の拡充を図る"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: pid, FiscalYear: "R6", Text: "広報紙で周知する"})

	// When: searching chunks for 相談窓口
	results, err := router.Search(ctx, Query{Text: "相談窓口", Scope: ScopeChunk})
	require.NoError(t, err)

	// Then: exactly the plan passage is hit, hydrated with its program
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Chunk)
	assert.Equal(t, store.SectionPlan, results[0].Chunk.Section)
	assert.Equal(t, "相談窓口の拡充を図る", results[0].Chunk.Content)
	assert.Equal(t, "市民相談事業", results[0].Program.Name)
	assert.Positive(t, results[0].Score)
}

func TestSectionFilter(t *testing.T) {
	// Given: the same term in a PLAN chunk and a RESULT chunk
	ctx := context.Background()
	src, router := setup(t)
	pid := apply(t, src, source.KindProgram, &source.Program{Code: "P1", Name: "事業"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: pid, FiscalYear: "R6", Text: "相談体制を強化する"})
	apply(t, src, source.KindProgramResult, &source.ProgramResult{
		ProgramID: pid, FiscalYear: "R6", ResultText: "相談体制を強化した"})

	// When: restricting to the RESULT section
	results, err := router.Search(ctx, Query{
		Text:   "相談体制",
		Scope:  ScopeChunk,
		Filter: Filters{Sections: []store.Section{store.SectionResult}},
	})
	require.NoError(t, err)

	// Then: only the result chunk comes back
	require.Len(t, results, 1)
	assert.Equal(t, store.SectionResult, results[0].Chunk.Section)
}

func TestFiscalYearFilter(t *testing.T) {
	ctx := context.Background()
	src, router := setup(t)
	pid := apply(t, src, source.KindProgram, &source.Program{Code: "P1", Name: "事業"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: pid, FiscalYear: "R5", Text: "試行実施する"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: pid, FiscalYear: "R6", Text: "本格実施する"})

	results, err := router.Search(ctx, Query{
		Text:   "実施",
		Scope:  ScopeChunk,
		Filter: Filters{FiscalYears: []string{"R6"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "R6", results[0].Chunk.FiscalYear)
}

func TestNameOutweighsBody(t *testing.T) {
	// Given: the term in one program's name and another program's body
	ctx := context.Background()
	src, router := setup(t)
	apply(t, src, source.KindProgram, &source.Program{
		Code: "P1", Name: "広報事業", Objective: "市政情報の発信"})
	apply(t, src, source.KindProgram, &source.Program{
		Code: "P2", Name: "相談事業", Objective: "広報の充実による周知"})

	// When: searching documents for 広報
	results, err := router.Search(ctx, Query{Text: "広報", Scope: ScopeDocument})
	require.NoError(t, err)

	// Then: the name match ranks first
	require.Len(t, results, 2)
	assert.Equal(t, "P1", results[0].Program.Code)
	assert.Equal(t, "P2", results[1].Program.Code)
}

func TestDocumentIndexFollowsUpdates(t *testing.T) {
	// Given: a program whose objective mentions 見守り
	ctx := context.Background()
	src, router := setup(t)
	chs := []source.Change{{Kind: source.KindProgram, Op: source.OpInsert,
		State: &source.Program{Code: "P1", Name: "高齢者支援事業", Objective: "高齢者の見守り"}}}
	require.NoError(t, src.Apply(ctx, chs...))
	pid := chs[0].PK

	results, err := router.Search(ctx, Query{Text: "見守り", Scope: ScopeDocument})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// When: the objective changes in place
	require.NoError(t, src.Apply(ctx, source.Change{
		Kind: source.KindProgram, PK: pid, Op: source.OpUpdate,
		State: &source.Program{Code: "P1", Name: "高齢者支援事業", Objective: "外出支援の推進"}}))

	// Then: the old wording no longer matches, the new one does
	results, err = router.Search(ctx, Query{Text: "見守り", Scope: ScopeDocument})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = router.Search(ctx, Query{Text: "外出支援", Scope: ScopeDocument})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pid, results[0].Program.ID)
}

func TestBothScopeFusion(t *testing.T) {
	// Given: P1 matches in a chunk and its document, P2 only in its document
	ctx := context.Background()
	src, router := setup(t)
	p1 := apply(t, src, source.KindProgram, &source.Program{
		Code: "P1", Name: "防災事業", Objective: "防災訓練の実施"})
	apply(t, src, source.KindProgram, &source.Program{
		Code: "P2", Name: "訓練施設管理", Objective: "防災訓練の場の提供"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: p1, FiscalYear: "R6", Text: "地域ごとの防災訓練を行う"})

	// When: searching both scopes
	results, err := router.Search(ctx, Query{Text: "防災訓練", Scope: ScopeBoth})
	require.NoError(t, err)

	// Then: one result per program, the dual match first with its passage
	require.Len(t, results, 2)
	assert.Equal(t, "P1", results[0].Program.Code)
	require.NotNil(t, results[0].Chunk)
	assert.Equal(t, store.SectionPlan, results[0].Chunk.Section)
	assert.Nil(t, results[1].Chunk)
	assert.Equal(t, float64(1), results[0].Score)
	assert.Less(t, results[1].Score, results[0].Score)
}

func TestFilterOnlyScan(t *testing.T) {
	// Given: chunks for two programs
	ctx := context.Background()
	src, router := setup(t)
	p1 := apply(t, src, source.KindProgram, &source.Program{Code: "P1", Name: "事業一"})
	p2 := apply(t, src, source.KindProgram, &source.Program{Code: "P2", Name: "事業二"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{ProgramID: p1, Text: "計画一"})
	apply(t, src, source.KindPlannedAction, &source.PlannedAction{ProgramID: p2, Text: "計画二"})

	// When: querying with no text, only a program filter
	results, err := router.Search(ctx, Query{
		Scope:  ScopeChunk,
		Filter: Filters{ProgramCode: "P2"},
	})
	require.NoError(t, err)

	// Then: the scan returns that program's chunks, unranked
	require.Len(t, results, 1)
	assert.Equal(t, "計画二", results[0].Chunk.Content)
	assert.Zero(t, results[0].Score)
}

func TestEmptyQueryRejected(t *testing.T) {
	ctx := context.Background()
	_, router := setup(t)

	_, err := router.Search(ctx, Query{Text: "   "})
	require.Error(t, err)
	assert.Equal(t, hyokaerrors.ErrCodeInvalidQuery, hyokaerrors.GetCode(err))
}

func TestUnknownSectionRejected(t *testing.T) {
	ctx := context.Background()
	_, router := setup(t)

	_, err := router.Search(ctx, Query{
		Text:   "相談",
		Filter: Filters{Sections: []store.Section{"BOGUS"}},
	})
	require.Error(t, err)
	assert.Equal(t, hyokaerrors.ErrCodeInvalidQuery, hyokaerrors.GetCode(err))
}

func TestLatinAndNumericTokens(t *testing.T) {
	// Given: content with wide-width numerals and a percent figure
	ctx := context.Background()
	src, router := setup(t)
	pid := apply(t, src, source.KindProgram, &source.Program{Code: "P1", Name: "事業"})
	apply(t, src, source.KindProgramResult, &source.ProgramResult{
		ProgramID: pid, FiscalYear: "R6", ResultText: "達成率８０％を記録"})

	// When: querying with the ASCII form
	results, err := router.Search(ctx, Query{Text: "80% ", Scope: ScopeChunk})
	require.NoError(t, err)

	// Then: normalization makes the forms meet in the index
	require.Len(t, results, 1)
	assert.Equal(t, store.SectionResult, results[0].Chunk.Section)
}
