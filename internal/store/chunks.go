package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyokadb/hyokadb/internal/errors"
)

// UpsertChunk inserts or updates a chunk row and rewrites its postings,
// all within tx. Updates preserve the chunk id (the origin is fixed for
// the chunk's lifetime); postings are always retract-then-insert since
// they derive from whole-field content.
func (s *Store) UpsertChunk(ctx context.Context, tx *sql.Tx, c *Chunk) error {
	if c.ID == "" {
		c.ID = ChunkID(c.Origin, c.Section)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	var position any
	if c.Position != nil {
		position = *c.Position
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO text_chunk
			(id, program_id, program_code, fiscal_year, section, content,
			 source_table, source_pk, position, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			program_id   = excluded.program_id,
			program_code = excluded.program_code,
			fiscal_year  = excluded.fiscal_year,
			content      = excluded.content,
			position     = excluded.position,
			updated_at   = excluded.updated_at`,
		c.ID, c.ProgramID, c.ProgramCode, c.FiscalYear, string(c.Section),
		c.Content, c.Origin.Table, c.Origin.PK, position,
		c.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
	}

	return s.syncChunkPostings(ctx, tx, c)
}

// syncChunkPostings retracts any existing postings for the chunk and
// inserts the new version. FTS5 virtual tables have no REPLACE.
func (s *Store) syncChunkPostings(ctx context.Context, tx *sql.Tx, c *Chunk) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_fts WHERE chunk_id = ?`, c.ID); err != nil {
		return errors.IndexSyncError("retract chunk postings", err).
			WithDetail("chunk_id", c.ID)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_fts (body, chunk_id, program_id, program_code, fiscal_year, section)
		VALUES (?,?,?,?,?,?)`,
		s.tok.TokenStream(c.Content), c.ID, c.ProgramID, c.ProgramCode,
		c.FiscalYear, string(c.Section)); err != nil {
		return errors.IndexSyncError("insert chunk postings", err).
			WithDetail("chunk_id", c.ID)
	}
	return nil
}

// DeleteChunk removes the chunk for one (origin, section) rule and its
// postings. Absence is not an error.
func (s *Store) DeleteChunk(ctx context.Context, tx *sql.Tx, origin Origin, section Section) error {
	id := ChunkID(origin, section)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_fts WHERE chunk_id = ?`, id); err != nil {
		return errors.IndexSyncError("retract chunk postings", err).
			WithDetail("chunk_id", id)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM text_chunk WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chunk %s: %w", id, err)
	}
	return nil
}

// DeleteChunksByOrigin removes every chunk derived from the given source
// entity (an entity may feed multiple section rules).
func (s *Store) DeleteChunksByOrigin(ctx context.Context, tx *sql.Tx, origin Origin) error {
	ids, err := chunkIDs(ctx, tx,
		`SELECT id FROM text_chunk WHERE source_table = ? AND source_pk = ?`,
		origin.Table, origin.PK)
	if err != nil {
		return err
	}
	return s.deleteChunkIDs(ctx, tx, ids)
}

// DeleteChunksByProgram removes all chunks owned by a program, used for
// cascading program deletion.
func (s *Store) DeleteChunksByProgram(ctx context.Context, tx *sql.Tx, programID int64) error {
	ids, err := chunkIDs(ctx, tx,
		`SELECT id FROM text_chunk WHERE program_id = ?`, programID)
	if err != nil {
		return err
	}
	return s.deleteChunkIDs(ctx, tx, ids)
}

// DeleteAllChunks wipes the chunk store and its postings (full rebuild).
func (s *Store) DeleteAllChunks(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_fts`); err != nil {
		return errors.IndexSyncError("clear chunk postings", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM text_chunk`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	return nil
}

func (s *Store) deleteChunkIDs(ctx context.Context, tx *sql.Tx, ids []string) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunk_fts WHERE chunk_id = ?`, id); err != nil {
			return errors.IndexSyncError("retract chunk postings", err).
				WithDetail("chunk_id", id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM text_chunk WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete chunk %s: %w", id, err)
		}
	}
	return nil
}

func chunkIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunk returns a chunk by id, or nil when absent.
func (s *Store) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, program_id, program_code, fiscal_year, section, content,
		       source_table, source_pk, position, updated_at
		FROM text_chunk WHERE id = ?`, id)
	return scanChunk(row)
}

// GetChunkByOrigin returns the chunk for one (origin, section) rule, or
// nil when absent.
func (s *Store) GetChunkByOrigin(ctx context.Context, origin Origin, section Section) (*Chunk, error) {
	return s.GetChunk(ctx, ChunkID(origin, section))
}

// ChunksByProgram returns all chunks owned by a program, ordered by
// section then position then id for deterministic output.
func (s *Store) ChunksByProgram(ctx context.Context, programID int64) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, program_code, fiscal_year, section, content,
		       source_table, source_pk, position, updated_at
		FROM text_chunk WHERE program_id = ?
		ORDER BY section, position, id`, programID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// AllChunks returns every chunk ordered by id. Used by the status
// command and the rebuild-equivalence checks.
func (s *Store) AllChunks(ctx context.Context) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, program_code, fiscal_year, section, content,
		       source_table, source_pk, position, updated_at
		FROM text_chunk ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var section string
	var position sql.NullInt64
	var updatedAt string
	err := row.Scan(&c.ID, &c.ProgramID, &c.ProgramCode, &c.FiscalYear,
		&section, &c.Content, &c.Origin.Table, &c.Origin.PK, &position, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	c.Section = Section(section)
	if position.Valid {
		v := position.Int64
		c.Position = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

func collectChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
