package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/index"
)

// Store wraps the SQLite database holding source tables, derived state,
// and FTS postings. A single writer connection keeps all derivations
// inside the triggering transaction.
type Store struct {
	db   *sql.DB
	path string
	tok  *index.Tokenizer
}

// Option configures a Store.
type Option func(*Store)

// WithTokenizer sets the tokenizer used when writing FTS postings.
func WithTokenizer(tok *index.Tokenizer) Option {
	return func(s *Store) { s.tok = tok }
}

// Open opens (or creates) the database at path and initializes the
// schema. An empty path opens an in-memory database for testing.
func Open(path string, opts ...Option) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			// The database is the source of truth; never auto-clear.
			return nil, errors.Wrap(errors.ErrCodeCorruptIndex, err).
				WithDetail("path", path)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer to prevent lock contention; readers share the
	// connection and observe committed snapshots only.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path, tok: index.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// validateIntegrity runs a quick integrity check before opening an
// existing database read-write.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// DB exposes the underlying handle for read-only query paths.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Tokenizer returns the tokenizer used for posting generation. The
// query router must use the same instance so match terms line up with
// postings.
func (s *Store) Tokenizer() *index.Tokenizer {
	return s.tok
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on error. All derived-state mutation goes through here:
// either the source row, its chunks, its search doc, and all postings
// commit together, or none do.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Stats returns derived-state row counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM program", &stats.Programs},
		{"SELECT COUNT(*) FROM text_chunk", &stats.Chunks},
		{"SELECT COUNT(*) FROM program_search_doc", &stats.SearchDocs},
		{"SELECT COUNT(*) FROM chunk_fts", &stats.ChunkPostings},
		{"SELECT COUNT(*) FROM doc_fts", &stats.DocPostings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats query: %w", err)
		}
	}
	return stats, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
