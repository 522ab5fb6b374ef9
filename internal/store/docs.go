package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyokadb/hyokadb/internal/errors"
)

// UpsertSearchDoc inserts or updates the per-program search document and
// rewrites its postings within tx. Keyed by program identity (1:1).
func (s *Store) UpsertSearchDoc(ctx context.Context, tx *sql.Tx, d *SearchDoc) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO program_search_doc
			(program_id, code, org_code, name, policy, measure, body, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(program_id) DO UPDATE SET
			code       = excluded.code,
			org_code   = excluded.org_code,
			name       = excluded.name,
			policy     = excluded.policy,
			measure    = excluded.measure,
			body       = excluded.body,
			updated_at = excluded.updated_at`,
		d.ProgramID, d.Code, d.OrgCode, d.Name, d.Policy, d.Measure,
		d.Body, d.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert search doc %d: %w", d.ProgramID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM doc_fts WHERE program_id = ?`, d.ProgramID); err != nil {
		return errors.IndexSyncError("retract doc postings", err).
			WithDetail("program_id", fmt.Sprint(d.ProgramID))
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO doc_fts (name, body, program_id, code, org_code, policy, measure)
		VALUES (?,?,?,?,?,?,?)`,
		s.tok.TokenStream(d.Name), s.tok.TokenStream(d.Body),
		d.ProgramID, d.Code, d.OrgCode, d.Policy, d.Measure); err != nil {
		return errors.IndexSyncError("insert doc postings", err).
			WithDetail("program_id", fmt.Sprint(d.ProgramID))
	}
	return nil
}

// DeleteSearchDoc removes the search document and postings for a
// program. Absence is not an error.
func (s *Store) DeleteSearchDoc(ctx context.Context, tx *sql.Tx, programID int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM doc_fts WHERE program_id = ?`, programID); err != nil {
		return errors.IndexSyncError("retract doc postings", err).
			WithDetail("program_id", fmt.Sprint(programID))
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM program_search_doc WHERE program_id = ?`, programID); err != nil {
		return fmt.Errorf("delete search doc %d: %w", programID, err)
	}
	return nil
}

// DeleteAllSearchDocs wipes search documents and postings (full rebuild).
func (s *Store) DeleteAllSearchDocs(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_fts`); err != nil {
		return errors.IndexSyncError("clear doc postings", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM program_search_doc`); err != nil {
		return fmt.Errorf("clear search docs: %w", err)
	}
	return nil
}

// GetSearchDoc returns the search document for a program, or nil when absent.
func (s *Store) GetSearchDoc(ctx context.Context, programID int64) (*SearchDoc, error) {
	var d SearchDoc
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT program_id, code, org_code, name, policy, measure, body, updated_at
		FROM program_search_doc WHERE program_id = ?`, programID).
		Scan(&d.ProgramID, &d.Code, &d.OrgCode, &d.Name, &d.Policy,
			&d.Measure, &d.Body, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get search doc %d: %w", programID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		d.UpdatedAt = t
	}
	return &d, nil
}
