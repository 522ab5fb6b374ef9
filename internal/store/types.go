// Package store provides SQLite persistence for hyokadb: the normalized
// source tables, the derived chunk store and program search documents,
// and the FTS5 posting tables mirrored from them.
//
// The chunk store and the FTS tables are owned exclusively by the
// projection layer; all writes flow through transactional methods that
// keep row and postings in lockstep.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Section classifies the semantic role of a chunk. The set is fixed;
// each section corresponds to exactly one derivation rule.
type Section string

const (
	SectionPlan          Section = "PLAN"
	SectionResult        Section = "RESULT"
	SectionIndicator     Section = "INDICATOR"
	SectionEnvChange     Section = "ENV_CHANGE"
	SectionImprovement   Section = "IMPROVEMENT"
	SectionEvalRationale Section = "EVAL_RATIONALE"
	SectionContribution  Section = "CONTRIBUTION"
	SectionAction        Section = "ACTION"
	SectionNextYear      Section = "NEXT_YEAR"
	SectionPlanChange    Section = "PLAN_CHANGE"
)

// AllSections lists every section in a stable order.
var AllSections = []Section{
	SectionPlan,
	SectionResult,
	SectionIndicator,
	SectionEnvChange,
	SectionImprovement,
	SectionEvalRationale,
	SectionContribution,
	SectionAction,
	SectionNextYear,
	SectionPlanChange,
}

// ParseSection validates a section tag.
func ParseSection(s string) (Section, error) {
	for _, sec := range AllSections {
		if string(sec) == s {
			return sec, nil
		}
	}
	return "", fmt.Errorf("unknown section %q", s)
}

// Origin identifies the exactly-one source entity a chunk was derived from.
type Origin struct {
	Table string // source table name (entity kind)
	PK    int64  // source row primary key
}

func (o Origin) String() string {
	return fmt.Sprintf("%s/%d", o.Table, o.PK)
}

// Chunk is the atomic indexed unit: one narrative facet of one source
// entity. Content is always a pure function of the origin's current
// state; it is never edited directly.
type Chunk struct {
	ID          string  // content-addressable: hash of (origin, section)
	ProgramID   int64   // owning program
	ProgramCode string  // denormalized for filter columns
	FiscalYear  string  // optional fiscal year label (e.g. "R6")
	Section     Section // derivation rule tag
	Content     string  // derived text
	Origin      Origin
	Position    *int64 // optional ordinal for ordered lists
	UpdatedAt   time.Time
}

// ChunkID derives the stable chunk identifier from its origin and
// section. Identifiers survive updates (origin is fixed for a chunk's
// lifetime) and full rebuilds (hash, not an allocation counter).
func ChunkID(origin Origin, section Section) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", origin.Table, origin.PK, section)))
	return hex.EncodeToString(h[:16])
}

// SearchDoc is the per-program aggregate used for document-level
// ranking. Exactly one exists per living program.
type SearchDoc struct {
	ProgramID int64
	Code      string
	OrgCode   string
	Name      string
	Policy    string
	Measure   string
	Body      string // fixed-order field concatenation, byte-deterministic
	UpdatedAt time.Time
}

// Stats summarizes derived-state row counts for the status command.
type Stats struct {
	Programs      int
	Chunks        int
	SearchDocs    int
	ChunkPostings int
	DocPostings   int
}
