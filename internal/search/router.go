package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/index"
	"github.com/hyokadb/hyokadb/internal/store"
)

// Options tune ranking. Zero values fall back to the defaults.
type Options struct {
	NameWeight  float64 // bm25 weight of the program name column
	BodyWeight  float64 // bm25 weight of the document body column
	RRFConstant int
	MaxResults  int
}

const (
	defaultNameWeight = 3.0
	defaultBodyWeight = 1.0
	defaultMaxResults = 20
)

// Router executes search queries. It shares the store's tokenizer so
// query terms are segmented exactly like the indexed postings.
type Router struct {
	st     *store.Store
	tok    *index.Tokenizer
	fusion *rrfFusion
	opts   Options
	log    *slog.Logger
}

// NewRouter creates a query router over st.
func NewRouter(st *store.Store, opts Options, logger *slog.Logger) *Router {
	if opts.NameWeight <= 0 {
		opts.NameWeight = defaultNameWeight
	}
	if opts.BodyWeight <= 0 {
		opts.BodyWeight = defaultBodyWeight
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	return &Router{
		st:     st,
		tok:    st.Tokenizer(),
		fusion: newRRFFusion(opts.RRFConstant),
		opts:   opts,
		log:    logger,
	}
}

// Search runs one query and returns ranked hits in deterministic order:
// score desc, then id asc.
func (r *Router) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Scope == "" {
		q.Scope = ScopeBoth
	}
	switch q.Scope {
	case ScopeChunk, ScopeDocument, ScopeBoth:
	default:
		return nil, errors.New(errors.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown scope %q", q.Scope), nil)
	}
	for _, sec := range q.Filter.Sections {
		if _, err := store.ParseSection(string(sec)); err != nil {
			return nil, errors.New(errors.ErrCodeInvalidQuery, err.Error(), nil)
		}
	}
	if q.Limit <= 0 || q.Limit > r.opts.MaxResults {
		q.Limit = r.opts.MaxResults
	}

	match := r.tok.BuildMatch(q.Text)
	if match == "" {
		if q.Filter.empty() {
			return nil, errors.New(errors.ErrCodeInvalidQuery,
				"query needs text or at least one filter", nil)
		}
		return r.scan(ctx, q)
	}

	r.log.Debug("search",
		slog.String("scope", string(q.Scope)),
		slog.String("match", match))

	switch q.Scope {
	case ScopeChunk:
		return r.searchChunks(ctx, q, match, q.Limit)
	case ScopeDocument:
		return r.searchDocs(ctx, q, match, q.Limit)
	default:
		return r.searchBoth(ctx, q, match)
	}
}

// searchChunks ranks individual chunks by BM25 over the chunk index.
func (r *Router) searchChunks(ctx context.Context, q Query, match string, limit int) ([]Result, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT c.id, c.section, c.fiscal_year, c.content, c.position,
		       p.id, p.code, p.name, COALESCE(p.org_code,''),
		       COALESCE(p.policy,''), COALESCE(p.measure,''),
		       -bm25(chunk_fts) AS score
		FROM chunk_fts f
		JOIN text_chunk c ON c.id = f.chunk_id
		JOIN program p ON p.id = c.program_id
		WHERE chunk_fts MATCH ?`)
	args := []any{match}
	appendChunkFilters(&sb, &args, q.Filter)
	sb.WriteString(` ORDER BY score DESC, c.id ASC LIMIT ?`)
	args = append(args, limit)

	rows, err := r.st.DB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "chunk search", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		var hit ChunkHit
		var position sql.NullInt64
		if err := rows.Scan(&hit.ID, &hit.Section, &hit.FiscalYear, &hit.Content,
			&position, &res.Program.ID, &res.Program.Code, &res.Program.Name,
			&res.Program.OrgCode, &res.Program.Policy, &res.Program.Measure,
			&res.Score); err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "scan chunk hit", err)
		}
		if position.Valid {
			v := position.Int64
			hit.Position = &v
		}
		res.Chunk = &hit
		results = append(results, res)
	}
	return results, rows.Err()
}

// searchDocs ranks whole programs over the document index, with the
// name column weighted above the body.
func (r *Router) searchDocs(ctx context.Context, q Query, match string, limit int) ([]Result, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT p.id, p.code, p.name, COALESCE(p.org_code,''),
		       COALESCE(p.policy,''), COALESCE(p.measure,''),
		       -bm25(doc_fts, ?, ?) AS score
		FROM doc_fts f
		JOIN program p ON p.id = f.program_id
		WHERE doc_fts MATCH ?`)
	args := []any{r.opts.NameWeight, r.opts.BodyWeight, match}
	appendDocFilters(&sb, &args, q.Filter)
	sb.WriteString(` ORDER BY score DESC, p.id ASC LIMIT ?`)
	args = append(args, limit)

	rows, err := r.st.DB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "document search", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.Program.ID, &res.Program.Code, &res.Program.Name,
			&res.Program.OrgCode, &res.Program.Policy, &res.Program.Measure,
			&res.Score); err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "scan doc hit", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// searchBoth fuses the two rankings at program granularity. Each fused
// result keeps the program's best-ranked chunk as its passage.
func (r *Router) searchBoth(ctx context.Context, q Query, match string) ([]Result, error) {
	// Overfetch both lists so fusion has material beyond the final cut.
	fetch := q.Limit * 3
	if fetch > r.opts.MaxResults*3 {
		fetch = r.opts.MaxResults * 3
	}

	chunkHits, err := r.searchChunks(ctx, q, match, fetch)
	if err != nil {
		return nil, err
	}
	docHits, err := r.searchDocs(ctx, q, match, fetch)
	if err != nil {
		return nil, err
	}

	programs := make(map[int64]Program)
	bestChunk := make(map[int64]*ChunkHit)
	var chunkOrder []int64
	for _, h := range chunkHits {
		id := h.Program.ID
		if _, seen := bestChunk[id]; !seen {
			chunkOrder = append(chunkOrder, id)
			bestChunk[id] = h.Chunk
			programs[id] = h.Program
		}
	}
	var docOrder []int64
	for _, h := range docHits {
		docOrder = append(docOrder, h.Program.ID)
		programs[h.Program.ID] = h.Program
	}

	var results []Result
	for _, f := range r.fusion.fuse(chunkOrder, docOrder) {
		if len(results) == q.Limit {
			break
		}
		results = append(results, Result{
			Score:   f.Score,
			Program: programs[f.ProgramID],
			Chunk:   bestChunk[f.ProgramID],
		})
	}
	return results, nil
}

// scan handles filter-only queries: a deterministic metadata walk with
// no ranking (all scores zero).
func (r *Router) scan(ctx context.Context, q Query) ([]Result, error) {
	if q.Scope == ScopeChunk {
		var sb strings.Builder
		sb.WriteString(`
			SELECT c.id, c.section, c.fiscal_year, c.content, c.position,
			       p.id, p.code, p.name, COALESCE(p.org_code,''),
			       COALESCE(p.policy,''), COALESCE(p.measure,'')
			FROM text_chunk c
			JOIN program p ON p.id = c.program_id
			WHERE 1=1`)
		args := []any{}
		appendChunkFilters(&sb, &args, q.Filter)
		sb.WriteString(` ORDER BY c.program_id, c.section, c.position, c.id LIMIT ?`)
		args = append(args, q.Limit)

		rows, err := r.st.DB().QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "chunk scan", err)
		}
		defer rows.Close()

		var results []Result
		for rows.Next() {
			var res Result
			var hit ChunkHit
			var position sql.NullInt64
			if err := rows.Scan(&hit.ID, &hit.Section, &hit.FiscalYear, &hit.Content,
				&position, &res.Program.ID, &res.Program.Code, &res.Program.Name,
				&res.Program.OrgCode, &res.Program.Policy, &res.Program.Measure); err != nil {
				return nil, errors.New(errors.ErrCodeSearchFailed, "scan chunk row", err)
			}
			if position.Valid {
				v := position.Int64
				hit.Position = &v
			}
			res.Chunk = &hit
			results = append(results, res)
		}
		return results, rows.Err()
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT p.id, p.code, p.name, COALESCE(p.org_code,''),
		       COALESCE(p.policy,''), COALESCE(p.measure,'')
		FROM program_search_doc d
		JOIN program p ON p.id = d.program_id
		WHERE 1=1`)
	args := []any{}
	appendDocFilters(&sb, &args, q.Filter)
	sb.WriteString(` ORDER BY p.id LIMIT ?`)
	args = append(args, q.Limit)

	rows, err := r.st.DB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "document scan", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.Program.ID, &res.Program.Code, &res.Program.Name,
			&res.Program.OrgCode, &res.Program.Policy, &res.Program.Measure); err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "scan doc row", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// appendChunkFilters adds predicates against the canonical chunk row
// and its hydrated program.
func appendChunkFilters(sb *strings.Builder, args *[]any, f Filters) {
	if f.ProgramID != 0 {
		sb.WriteString(` AND c.program_id = ?`)
		*args = append(*args, f.ProgramID)
	}
	if f.ProgramCode != "" {
		sb.WriteString(` AND c.program_code = ?`)
		*args = append(*args, f.ProgramCode)
	}
	if f.OrgCode != "" {
		sb.WriteString(` AND p.org_code = ?`)
		*args = append(*args, f.OrgCode)
	}
	if len(f.FiscalYears) > 0 {
		sb.WriteString(` AND c.fiscal_year IN (` + placeholders(len(f.FiscalYears)) + `)`)
		for _, y := range f.FiscalYears {
			*args = append(*args, y)
		}
	}
	if len(f.Sections) > 0 {
		sb.WriteString(` AND c.section IN (` + placeholders(len(f.Sections)) + `)`)
		for _, s := range f.Sections {
			*args = append(*args, string(s))
		}
	}
}

// appendDocFilters adds predicates for document-granularity queries.
// Fiscal-year and section filters have no document-level column; they
// restrict to programs owning a matching chunk.
func appendDocFilters(sb *strings.Builder, args *[]any, f Filters) {
	if f.ProgramID != 0 {
		sb.WriteString(` AND p.id = ?`)
		*args = append(*args, f.ProgramID)
	}
	if f.ProgramCode != "" {
		sb.WriteString(` AND p.code = ?`)
		*args = append(*args, f.ProgramCode)
	}
	if f.OrgCode != "" {
		sb.WriteString(` AND p.org_code = ?`)
		*args = append(*args, f.OrgCode)
	}
	if len(f.FiscalYears) > 0 || len(f.Sections) > 0 {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM text_chunk tc WHERE tc.program_id = p.id`)
		if len(f.FiscalYears) > 0 {
			sb.WriteString(` AND tc.fiscal_year IN (` + placeholders(len(f.FiscalYears)) + `)`)
			for _, y := range f.FiscalYears {
				*args = append(*args, y)
			}
		}
		if len(f.Sections) > 0 {
			sb.WriteString(` AND tc.section IN (` + placeholders(len(f.Sections)) + `)`)
			for _, s := range f.Sections {
				*args = append(*args, string(s))
			}
		}
		sb.WriteString(`)`)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
