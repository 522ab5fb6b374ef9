// Package search routes ranked queries over the two FTS5 index spaces:
// chunk-level for pinpointing narrative passages and document-level for
// whole-program relevance. Both-scope queries are fused with Reciprocal
// Rank Fusion.
package search

import (
	"github.com/hyokadb/hyokadb/internal/store"
)

// Scope selects which index space a query runs against.
type Scope string

const (
	ScopeChunk    Scope = "chunk"
	ScopeDocument Scope = "document"
	ScopeBoth     Scope = "both"
)

// Filters are exact predicates applied alongside the match expression.
// Zero values mean "no constraint".
type Filters struct {
	ProgramID   int64
	ProgramCode string
	OrgCode     string
	FiscalYears []string
	Sections    []store.Section
}

func (f Filters) empty() bool {
	return f.ProgramID == 0 && f.ProgramCode == "" && f.OrgCode == "" &&
		len(f.FiscalYears) == 0 && len(f.Sections) == 0
}

// Query is one search request. Empty Text with non-empty Filters
// degrades to a metadata scan; empty Text and empty Filters is invalid.
type Query struct {
	Text   string
	Scope  Scope
	Filter Filters
	Limit  int
}

// Program is the hydrated owning program of a hit, read from the live
// program row at query time.
type Program struct {
	ID      int64
	Code    string
	Name    string
	OrgCode string
	Policy  string
	Measure string
}

// ChunkHit is the chunk-level payload of a hit.
type ChunkHit struct {
	ID         string
	Section    store.Section
	FiscalYear string
	Content    string
	Position   *int64
}

// Result is one ranked hit. Chunk-scope results carry one Chunk each;
// document-scope results carry none; both-scope results are one per
// program, with the program's best chunk attached when it had one.
type Result struct {
	Score   float64
	Program Program
	Chunk   *ChunkHit
}
