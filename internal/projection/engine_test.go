package projection

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hyokaerrors "github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/source"
	"github.com/hyokadb/hyokadb/internal/store"
)

func setup(t *testing.T) (*store.Store, *source.Store) {
	t.Helper()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lookups := NewLookups(logger)
	src := source.New(st,
		NewEngine(st, lookups, logger),
		NewMetadataProjector(st),
	)
	src.OnLookupChanged(lookups.Invalidate)
	src.OnRollback(lookups.Reset)
	return st, src
}

func insertProgram(t *testing.T, src *source.Store, p *source.Program) int64 {
	t.Helper()
	chs := []source.Change{{Kind: source.KindProgram, Op: source.OpInsert, State: p}}
	require.NoError(t, src.Apply(context.Background(), chs...))
	require.NotZero(t, chs[0].PK)
	return chs[0].PK
}

func insert(t *testing.T, src *source.Store, kind source.Kind, state any) int64 {
	t.Helper()
	chs := []source.Change{{Kind: kind, Op: source.OpInsert, State: state}}
	require.NoError(t, src.Apply(context.Background(), chs...))
	return chs[0].PK
}

func int64Ptr(v int64) *int64 { return &v }

func TestProjectionTotality(t *testing.T) {
	// Given: a program, its lookup labels, and one row of every
	// narrative entity kind
	ctx := context.Background()
	st, src := setup(t)

	require.NoError(t, src.UpsertLookupLabel(ctx, "achievement_level", "4", "目標を達成した"))
	require.NoError(t, src.UpsertLookupLabel(ctx, "eval_category", "necessity", "必要性"))
	require.NoError(t, src.UpsertLookupLabel(ctx, "action_direction", "expand", "拡充"))

	pid := insertProgram(t, src, &source.Program{Code: "40101010", Name: "市民相談事業"})

	insert(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: pid, FiscalYear: "R6", ItemOrder: int64Ptr(1), Text: "相談窓口の拡充を図る"})
	insert(t, src, source.KindProgramResult, &source.ProgramResult{
		ProgramID: pid, FiscalYear: "R6", AchievementLevel: int64Ptr(4), ResultText: "窓口を2か所増設した"})
	insert(t, src, source.KindIndicator, &source.Indicator{
		ProgramID: pid, Name: "相談件数", Description: "年間の相談受付件数", Unit: "件", SortOrder: int64Ptr(1)})
	insert(t, src, source.KindProgramEvaluation, &source.ProgramEvaluation{
		ProgramID: pid, FiscalYear: "R6",
		EnvironmentChange: "相談件数が増加傾向にある", ImprovementHistory: "予約制を導入した"})
	insert(t, src, source.KindEvaluationScore, &source.EvaluationScore{
		ProgramID: pid, FiscalYear: "R6", CategoryCode: "necessity", Rating: "a",
		Reason: "市民ニーズが高い"})
	insert(t, src, source.KindProgramContribution, &source.ProgramContribution{
		ProgramID: pid, FiscalYear: "R6", Level: "A", Reason: "直接目標の達成に寄与"})
	insert(t, src, source.KindProgramAction, &source.ProgramAction{
		ProgramID: pid, FiscalYear: "R6", DirectionCode: "expand", DirectionText: "体制を強化する"})
	insert(t, src, source.KindNextYearActionItem, &source.NextYearActionItem{
		ProgramID: pid, FiscalYear: "R6", ItemOrder: int64Ptr(1), Text: "オンライン相談を開始する"})
	insert(t, src, source.KindPlanChangeNote, &source.PlanChangeNote{
		ProgramID: pid, FiscalYear: "R6", ChangePoints: "実施回数を変更", ChangeReason: "需要増のため"})

	// When: reading back the program's chunks
	chunks, err := st.ChunksByProgram(ctx, pid)
	require.NoError(t, err)

	// Then: every section is covered, with the rule's content shape
	bySection := map[store.Section]string{}
	for _, c := range chunks {
		bySection[c.Section] = c.Content
		assert.Equal(t, pid, c.ProgramID)
		assert.Equal(t, "40101010", c.ProgramCode)
	}
	require.Len(t, bySection, len(store.AllSections))
	assert.Equal(t, "相談窓口の拡充を図る", bySection[store.SectionPlan])
	assert.Equal(t, "目標を達成した：窓口を2か所増設した", bySection[store.SectionResult])
	assert.Equal(t, "相談件数／年間の相談受付件数／件", bySection[store.SectionIndicator])
	assert.Equal(t, "相談件数が増加傾向にある", bySection[store.SectionEnvChange])
	assert.Equal(t, "予約制を導入した", bySection[store.SectionImprovement])
	assert.Equal(t, "必要性（a）：市民ニーズが高い", bySection[store.SectionEvalRationale])
	assert.Equal(t, "A：直接目標の達成に寄与", bySection[store.SectionContribution])
	assert.Equal(t, "拡充：体制を強化する", bySection[store.SectionAction])
	assert.Equal(t, "オンライン相談を開始する", bySection[store.SectionNextYear])
	assert.Equal(t, "実施回数を変更／需要増のため", bySection[store.SectionPlanChange])

	check, err := st.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, check.Clean(), "postings must mirror chunks: %+v", check.Inconsistencies)
}

func TestDerivationFailureAbortsSourceWrite(t *testing.T) {
	// Given: a narrative row referencing a program that does not exist
	ctx := context.Background()
	st, src := setup(t)

	err := src.Apply(ctx, source.Change{
		Kind: source.KindPlannedAction, Op: source.OpInsert,
		State: &source.PlannedAction{ProgramID: 999, Text: "宙に浮いた計画"},
	})

	// Then: the whole transaction is rejected, source row included.
	// (The FK alone would catch the insert; the derivation error is what
	// surfaces for entities whose linkage resolves later in the rule.)
	require.Error(t, err)

	var n int
	require.NoError(t, st.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM planned_action`).Scan(&n))
	assert.Zero(t, n)

	chunks, err := st.AllChunks(ctx)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestEmptyContentRetractsChunk(t *testing.T) {
	// Given: an evaluation feeding both of its sections
	ctx := context.Background()
	st, src := setup(t)
	pid := insertProgram(t, src, &source.Program{Code: "P1", Name: "事業"})
	evalPK := insert(t, src, source.KindProgramEvaluation, &source.ProgramEvaluation{
		ProgramID: pid, FiscalYear: "R6",
		EnvironmentChange: "環境の変化", ImprovementHistory: "改善の経過"})

	chunks, err := st.ChunksByProgram(ctx, pid)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// When: the improvement text is cleared
	require.NoError(t, src.Apply(ctx, source.Change{
		Kind: source.KindProgramEvaluation, PK: evalPK, Op: source.OpUpdate,
		State: &source.ProgramEvaluation{
			ProgramID: pid, FiscalYear: "R6",
			EnvironmentChange: "環境の変化", ImprovementHistory: ""},
	}))

	// Then: its chunk is retracted, the sibling survives
	chunks, err = st.ChunksByProgram(ctx, pid)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, store.SectionEnvChange, chunks[0].Section)

	check, err := st.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, check.Clean())
}

func TestLookupMissSubstitutesEmptyLabel(t *testing.T) {
	// Given: a result whose achievement level has no lookup row yet
	ctx := context.Background()
	st, src := setup(t)
	pid := insertProgram(t, src, &source.Program{Code: "P1", Name: "事業"})
	resPK := insert(t, src, source.KindProgramResult, &source.ProgramResult{
		ProgramID: pid, FiscalYear: "R6", AchievementLevel: int64Ptr(3),
		ResultText: "概ね順調に推移"})

	origin := store.Origin{Table: "program_result", PK: resPK}
	chunk, err := st.GetChunkByOrigin(ctx, origin, store.SectionResult)
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "概ね順調に推移", chunk.Content, "miss substitutes empty label")

	// When: the lookup row arrives and the result is re-applied
	require.NoError(t, src.UpsertLookupLabel(ctx, "achievement_level", "3", "概ね達成"))
	require.NoError(t, src.Apply(ctx, source.Change{
		Kind: source.KindProgramResult, PK: resPK, Op: source.OpUpdate,
		State: &source.ProgramResult{
			ProgramID: pid, FiscalYear: "R6", AchievementLevel: int64Ptr(3),
			ResultText: "概ね順調に推移"},
	}))

	// Then: the label is picked up, under the same chunk id
	updated, err := st.GetChunkByOrigin(ctx, origin, store.SectionResult)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, chunk.ID, updated.ID)
	assert.Equal(t, "概ね達成：概ね順調に推移", updated.Content)
}

func TestLookupCacheInvalidation(t *testing.T) {
	// Given: a cached label
	ctx := context.Background()
	st, src := setup(t)
	require.NoError(t, src.UpsertLookupLabel(ctx, "action_direction", "keep", "継続"))

	pid := insertProgram(t, src, &source.Program{Code: "P1", Name: "事業"})
	actPK := insert(t, src, source.KindProgramAction, &source.ProgramAction{
		ProgramID: pid, DirectionCode: "keep", DirectionText: "現状のまま実施"})

	// When: the label changes and the action is re-derived
	require.NoError(t, src.UpsertLookupLabel(ctx, "action_direction", "keep", "現状維持"))
	require.NoError(t, src.Apply(ctx, source.Change{
		Kind: source.KindProgramAction, PK: actPK, Op: source.OpUpdate,
		State: &source.ProgramAction{
			ProgramID: pid, DirectionCode: "keep", DirectionText: "現状のまま実施"},
	}))

	// Then: the stale cache entry was dropped
	chunk, err := st.GetChunkByOrigin(ctx,
		store.Origin{Table: "program_action", PK: actPK}, store.SectionAction)
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "現状維持：現状のまま実施", chunk.Content)
}

func TestLookupLabelUpdateReprojectsChunks(t *testing.T) {
	// Given: chunks carrying a denormalized label from each lookup table
	ctx := context.Background()
	st, src := setup(t)
	require.NoError(t, src.UpsertLookupLabel(ctx, "achievement_level", "3", "達成"))
	require.NoError(t, src.UpsertLookupLabel(ctx, "action_direction", "keep", "継続"))

	pid := insertProgram(t, src, &source.Program{Code: "P1", Name: "事業"})
	resPK := insert(t, src, source.KindProgramResult, &source.ProgramResult{
		ProgramID: pid, FiscalYear: "R6", AchievementLevel: int64Ptr(3),
		ResultText: "相談件数が増加"})
	actPK := insert(t, src, source.KindProgramAction, &source.ProgramAction{
		ProgramID: pid, FiscalYear: "R6", DirectionCode: "keep",
		DirectionText: "体制を維持する"})

	resOrigin := store.Origin{Table: "program_result", PK: resPK}
	chunk, err := st.GetChunkByOrigin(ctx, resOrigin, store.SectionResult)
	require.NoError(t, err)
	require.NotNil(t, chunk)
	require.Equal(t, "達成：相談件数が増加", chunk.Content)

	// When: the label rows themselves change, with no touch to the
	// narrative rows
	require.NoError(t, src.UpsertLookupLabel(ctx, "achievement_level", "3", "未達成"))
	require.NoError(t, src.UpsertLookupLabel(ctx, "action_direction", "keep", "現状維持"))

	// Then: the dependent chunks are re-derived in the label's own
	// transaction, under their original ids
	updated, err := st.GetChunkByOrigin(ctx, resOrigin, store.SectionResult)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, chunk.ID, updated.ID)
	assert.Equal(t, "未達成：相談件数が増加", updated.Content)

	action, err := st.GetChunkByOrigin(ctx,
		store.Origin{Table: "program_action", PK: actPK}, store.SectionAction)
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, "現状維持：体制を維持する", action.Content)

	// And a full rebuild from the same snapshot yields the same content
	require.NoError(t, src.Rebuild(ctx))
	rebuilt, err := st.GetChunkByOrigin(ctx, resOrigin, store.SectionResult)
	require.NoError(t, err)
	require.NotNil(t, rebuilt)
	assert.Equal(t, updated.Content, rebuilt.Content)

	check, err := st.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, check.Clean())
}

func TestRollbackDropsUncommittedLookupLabels(t *testing.T) {
	// Given: a transaction that writes a label, derives from it, and
	// then fails
	ctx := context.Background()
	st, src := setup(t)
	pid := insertProgram(t, src, &source.Program{Code: "P1", Name: "事業"})

	err := src.WithTx(ctx, func(tx *sql.Tx) error {
		if err := src.UpsertLookupLabelTx(ctx, tx, "achievement_level", "3", "幻のラベル"); err != nil {
			return err
		}
		ch := source.Change{Kind: source.KindProgramResult, Op: source.OpInsert,
			State: &source.ProgramResult{ProgramID: pid, FiscalYear: "R6",
				AchievementLevel: int64Ptr(3), ResultText: "本文"}}
		if err := src.ApplyTx(ctx, tx, &ch); err != nil {
			return err
		}
		return fmt.Errorf("bad row later in the file")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, st.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM achievement_level WHERE code = 3`).Scan(&n))
	require.Zero(t, n, "the label must not have committed")

	// When: a later transaction derives from the same code
	resPK := insert(t, src, source.KindProgramResult, &source.ProgramResult{
		ProgramID: pid, FiscalYear: "R6", AchievementLevel: int64Ptr(3),
		ResultText: "本文"})

	// Then: the rolled-back label is gone from the cache too; the miss
	// substitutes the empty string
	chunk, err := st.GetChunkByOrigin(ctx,
		store.Origin{Table: "program_result", PK: resPK}, store.SectionResult)
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "本文", chunk.Content)
}

func TestProgramDeleteCascades(t *testing.T) {
	// Given: a program with chunks and a search document
	ctx := context.Background()
	st, src := setup(t)
	pid := insertProgram(t, src, &source.Program{Code: "P1", Name: "事業", Objective: "目的"})
	insert(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: pid, Text: "計画"})

	doc, err := st.GetSearchDoc(ctx, pid)
	require.NoError(t, err)
	require.NotNil(t, doc)

	// When: the program is deleted
	require.NoError(t, src.Apply(ctx, source.Change{
		Kind: source.KindProgram, PK: pid, Op: source.OpDelete}))

	// Then: no chunks, no document, no postings survive
	chunks, err := st.ChunksByProgram(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	doc, err = st.GetSearchDoc(ctx, pid)
	require.NoError(t, err)
	assert.Nil(t, doc)

	check, err := st.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, check.Clean())
}

func TestProgramCodeRefreshOnUpdate(t *testing.T) {
	// Given: chunks carrying a denormalized program code
	ctx := context.Background()
	st, src := setup(t)
	pid := insertProgram(t, src, &source.Program{Code: "OLD", Name: "事業"})
	insert(t, src, source.KindPlannedAction, &source.PlannedAction{ProgramID: pid, Text: "計画"})

	// When: the program's code changes
	require.NoError(t, src.Apply(ctx, source.Change{
		Kind: source.KindProgram, PK: pid, Op: source.OpUpdate,
		State: &source.Program{Code: "NEW", Name: "事業"}}))

	// Then: chunk rows follow
	chunks, err := st.ChunksByProgram(ctx, pid)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "NEW", chunks[0].ProgramCode)
}

func TestSearchDocBodyIsFixedOrder(t *testing.T) {
	// Given: a program with some narrative fields absent
	ctx := context.Background()
	st, src := setup(t)
	require.NoError(t, src.UpsertOrganization(ctx, "ORG1", "市民文化局"))
	pid := insertProgram(t, src, &source.Program{
		Code: "P1", Name: "事業", OrgCode: "ORG1",
		Objective: "目的", ServiceCategory: "市民サービス",
	})

	doc, err := st.GetSearchDoc(ctx, pid)
	require.NoError(t, err)
	require.NotNil(t, doc)

	// Then: absent fields hold their slot as empty lines
	assert.Equal(t, "目的\n\n\n\n市民サービス\n\n\n\n", doc.Body)
	assert.Equal(t, "ORG1", doc.OrgCode)
}

func TestRebuildEquivalence(t *testing.T) {
	// Given: incrementally projected state for two programs
	ctx := context.Background()
	st, src := setup(t)
	require.NoError(t, src.UpsertLookupLabel(ctx, "achievement_level", "4", "達成"))

	p1 := insertProgram(t, src, &source.Program{
		Code: "P1", Name: "相談事業", Objective: "市民生活の支援"})
	p2 := insertProgram(t, src, &source.Program{
		Code: "P2", Name: "広報事業", Content: "広報紙の発行"})
	insert(t, src, source.KindPlannedAction, &source.PlannedAction{
		ProgramID: p1, FiscalYear: "R6", ItemOrder: int64Ptr(1), Text: "窓口を増設する"})
	insert(t, src, source.KindProgramResult, &source.ProgramResult{
		ProgramID: p1, FiscalYear: "R6", AchievementLevel: int64Ptr(4), ResultText: "増設済み"})
	insert(t, src, source.KindPlanChangeNote, &source.PlanChangeNote{
		ProgramID: p2, FiscalYear: "R6", ChangePoints: "発行回数変更", ChangeReason: "経費削減"})

	before, err := st.AllChunks(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	doc1Before, err := st.GetSearchDoc(ctx, p1)
	require.NoError(t, err)

	// When: the derived state is wiped and rebuilt from the snapshot
	require.NoError(t, src.Rebuild(ctx))

	// Then: same chunk ids, content and metadata (timestamps aside)
	after, err := st.AllChunks(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Content, after[i].Content)
		assert.Equal(t, before[i].Section, after[i].Section)
		assert.Equal(t, before[i].ProgramID, after[i].ProgramID)
		assert.Equal(t, before[i].ProgramCode, after[i].ProgramCode)
		assert.Equal(t, before[i].FiscalYear, after[i].FiscalYear)
		assert.Equal(t, before[i].Origin, after[i].Origin)
	}

	doc1After, err := st.GetSearchDoc(ctx, p1)
	require.NoError(t, err)
	require.NotNil(t, doc1After)
	assert.Equal(t, doc1Before.Body, doc1After.Body)
	assert.Equal(t, doc1Before.Name, doc1After.Name)

	check, err := st.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, check.Clean())
}

func TestDerivationErrorCode(t *testing.T) {
	ctx := context.Background()
	_, src := setup(t)

	err := src.Apply(ctx, source.Change{
		Kind: source.KindIndicator, Op: source.OpInsert,
		State: &source.Indicator{ProgramID: 42, Name: "指標"},
	})
	require.Error(t, err)
	// The foreign key rejects the orphan row before the rule runs, so
	// either failure mode is acceptable as long as nothing commits; when
	// the rule does run, it must carry the derivation code.
	if hyokaerrors.GetCode(err) != "" {
		assert.Equal(t, hyokaerrors.ErrCodeDerivation, hyokaerrors.GetCode(err))
	}
}
