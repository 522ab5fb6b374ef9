package store

import (
	"context"
	"fmt"
	"time"
)

// InconsistencyType categorizes detected issues between the canonical
// tables and the FTS posting tables.
type InconsistencyType string

const (
	// InconsistencyOrphanPosting indicates a posting without a matching
	// canonical row (stale posting).
	InconsistencyOrphanPosting InconsistencyType = "orphan_posting"
	// InconsistencyMissingPosting indicates a canonical row with no
	// posting in the index.
	InconsistencyMissingPosting InconsistencyType = "missing_posting"
)

// Inconsistency represents a detected cross-table issue.
type Inconsistency struct {
	Type  InconsistencyType
	Index string // "chunk" or "doc"
	ID    string // chunk id or program id
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Clean reports whether no inconsistencies were found.
func (r *CheckResult) Clean() bool {
	return len(r.Inconsistencies) == 0
}

// CheckConsistency verifies that postings and canonical rows match 1:1
// in both index spaces. A correctly functioning projection never
// produces inconsistencies; this exists to detect external interference
// or bugs, and to validate a rebuild.
func (s *Store) CheckConsistency(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	result := &CheckResult{}

	pairs := []struct {
		index   string
		missing string
		orphan  string
	}{
		{
			index:   "chunk",
			missing: `SELECT id FROM text_chunk EXCEPT SELECT chunk_id FROM chunk_fts`,
			orphan:  `SELECT chunk_id FROM chunk_fts EXCEPT SELECT id FROM text_chunk`,
		},
		{
			index:   "doc",
			missing: `SELECT CAST(program_id AS TEXT) FROM program_search_doc EXCEPT SELECT CAST(program_id AS TEXT) FROM doc_fts`,
			orphan:  `SELECT CAST(program_id AS TEXT) FROM doc_fts EXCEPT SELECT CAST(program_id AS TEXT) FROM program_search_doc`,
		},
	}

	for _, p := range pairs {
		missing, err := s.queryIDs(ctx, p.missing)
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type: InconsistencyMissingPosting, Index: p.index, ID: id,
			})
		}
		orphans, err := s.queryIDs(ctx, p.orphan)
		if err != nil {
			return nil, err
		}
		for _, id := range orphans {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type: InconsistencyOrphanPosting, Index: p.index, ID: id,
			})
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	result.Checked = stats.Chunks + stats.SearchDocs
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Store) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("consistency query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
