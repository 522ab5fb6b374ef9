package store

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// schemaSQL defines the normalized source tables, the derived tables,
// and the two FTS5 posting tables.
//
// chunk_fts / doc_fts store the tokenized body only; canonical text
// lives in text_chunk / program_search_doc. Filter columns are
// UNINDEXED (stored, not tokenized).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

-- Source-of-truth tables -------------------------------------------------

CREATE TABLE IF NOT EXISTS organization (
	org_code TEXT PRIMARY KEY,
	name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS achievement_level (
	code  INTEGER PRIMARY KEY,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS eval_category (
	code  TEXT PRIMARY KEY,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_direction (
	code  TEXT PRIMARY KEY,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS program (
	id                INTEGER PRIMARY KEY,
	code              TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	org_code          TEXT REFERENCES organization(org_code),
	policy            TEXT,
	measure           TEXT,
	direct_goal       TEXT,
	target_population TEXT,
	objective         TEXT,
	content           TEXT,
	classification1   TEXT,
	classification2   TEXT,
	service_category  TEXT,
	legal_basis_text  TEXT,
	general_plan_text TEXT,
	sdgs_orientation  TEXT,
	reform_link_text  TEXT
);

CREATE TABLE IF NOT EXISTS planned_action (
	id          INTEGER PRIMARY KEY,
	program_id  INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year TEXT,
	item_order  INTEGER,
	text        TEXT
);

CREATE TABLE IF NOT EXISTS program_result (
	id                INTEGER PRIMARY KEY,
	program_id        INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year       TEXT,
	achievement_level INTEGER,
	result_text       TEXT
);

CREATE TABLE IF NOT EXISTS indicator (
	id          INTEGER PRIMARY KEY,
	program_id  INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	name        TEXT,
	description TEXT,
	unit        TEXT,
	sort_order  INTEGER
);

CREATE TABLE IF NOT EXISTS program_evaluation (
	id                  INTEGER PRIMARY KEY,
	program_id          INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year         TEXT,
	environment_change  TEXT,
	improvement_history TEXT
);

CREATE TABLE IF NOT EXISTS evaluation_score (
	id            INTEGER PRIMARY KEY,
	program_id    INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year   TEXT,
	category_code TEXT,
	rating        TEXT,
	reason        TEXT
);

CREATE TABLE IF NOT EXISTS program_contribution (
	id          INTEGER PRIMARY KEY,
	program_id  INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year TEXT,
	level       TEXT,
	reason      TEXT
);

CREATE TABLE IF NOT EXISTS program_action (
	id             INTEGER PRIMARY KEY,
	program_id     INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year    TEXT,
	direction_code TEXT,
	direction_text TEXT
);

CREATE TABLE IF NOT EXISTS next_year_action_item (
	id          INTEGER PRIMARY KEY,
	program_id  INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year TEXT,
	item_order  INTEGER,
	text        TEXT
);

CREATE TABLE IF NOT EXISTS plan_change_note (
	id            INTEGER PRIMARY KEY,
	program_id    INTEGER NOT NULL REFERENCES program(id) ON DELETE CASCADE,
	fiscal_year   TEXT,
	change_points TEXT,
	change_reason TEXT
);

-- Derived state (owned by the projection layer) ---------------------------

CREATE TABLE IF NOT EXISTS text_chunk (
	id           TEXT PRIMARY KEY,
	program_id   INTEGER NOT NULL,
	program_code TEXT NOT NULL,
	fiscal_year  TEXT NOT NULL DEFAULT '',
	section      TEXT NOT NULL,
	content      TEXT NOT NULL,
	source_table TEXT NOT NULL,
	source_pk    INTEGER NOT NULL,
	position     INTEGER,
	updated_at   TEXT NOT NULL,
	UNIQUE(source_table, source_pk, section)
);

CREATE INDEX IF NOT EXISTS idx_text_chunk_program ON text_chunk(program_id);

CREATE TABLE IF NOT EXISTS program_search_doc (
	program_id INTEGER PRIMARY KEY,
	code       TEXT NOT NULL,
	org_code   TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	policy     TEXT NOT NULL DEFAULT '',
	measure    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
	body,
	chunk_id UNINDEXED,
	program_id UNINDEXED,
	program_code UNINDEXED,
	fiscal_year UNINDEXED,
	section UNINDEXED,
	tokenize='unicode61 tokenchars ''%°''',
	prefix='2 3'
);

CREATE VIRTUAL TABLE IF NOT EXISTS doc_fts USING fts5(
	name,
	body,
	program_id UNINDEXED,
	code UNINDEXED,
	org_code UNINDEXED,
	policy UNINDEXED,
	measure UNINDEXED,
	tokenize='unicode61 tokenchars ''%°''',
	prefix='2 3'
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// initSchema creates all tables if they do not yet exist.
func (s *Store) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}
