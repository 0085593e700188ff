package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the current schema generation. The upgrade history:
// v1 baseline, v2 drops the legacy session.skip_minor flag, v3 adds
// session.lens_preferences, v4 adds finding.scene_path, v5 adds the four
// session index-context columns.
const SchemaVersion = 5

const schemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

// sessionTableSQL builds the session table DDL under the given name. The
// name is parameterized so the SQLite column-drop rebuild can create the
// replacement shape beside the live table.
func sessionTableSQL(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(64) PRIMARY KEY,
    scene_path TEXT NOT NULL DEFAULT '',
    scene_paths TEXT NOT NULL DEFAULT '[]',
    scene_hash VARCHAR(32) NOT NULL DEFAULT '',
    model VARCHAR(255) NOT NULL DEFAULT '',
    discussion_model VARCHAR(255) NOT NULL DEFAULT '',
    lens_preferences TEXT NOT NULL DEFAULT '',
    current_index INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(32) NOT NULL DEFAULT 'active',
    glossary_issues TEXT NOT NULL DEFAULT '[]',
    discussion_history TEXT NOT NULL DEFAULT '[]',
    learning_session TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    total_findings INTEGER NOT NULL DEFAULT 0,
    accepted_count INTEGER NOT NULL DEFAULT 0,
    rejected_count INTEGER NOT NULL DEFAULT 0,
    withdrawn_count INTEGER NOT NULL DEFAULT 0,
    index_context_hash TEXT NOT NULL DEFAULT '',
    index_context_stale INTEGER NOT NULL DEFAULT 0,
    index_rerun_prompted INTEGER NOT NULL DEFAULT 0,
    index_changed_files TEXT NOT NULL DEFAULT '[]'
);
`, name)
}

func (s *Store) findingTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS finding (
    %s,
    session_id VARCHAR(64) NOT NULL,
    number INTEGER NOT NULL,
    severity VARCHAR(16) NOT NULL DEFAULT '',
    lens VARCHAR(32) NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    line_start INTEGER,
    line_end INTEGER,
    scene_path TEXT NOT NULL DEFAULT '',
    evidence TEXT NOT NULL DEFAULT '',
    impact TEXT NOT NULL DEFAULT '',
    options TEXT NOT NULL DEFAULT '[]',
    flagged_by TEXT NOT NULL DEFAULT '[]',
    ambiguity_type VARCHAR(64) NOT NULL DEFAULT '',
    stale INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    author_response TEXT NOT NULL DEFAULT '',
    discussion_turns TEXT NOT NULL DEFAULT '[]',
    revision_history TEXT NOT NULL DEFAULT '[]',
    outcome_reason TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (session_id) REFERENCES session(id) ON DELETE CASCADE
);
`, s.autoIncPK())
}

func (s *Store) learningTableSQL() string {
	return `
CREATE TABLE IF NOT EXISTS learning (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    project_name VARCHAR(255) NOT NULL DEFAULT '',
    review_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`
}

func (s *Store) learningEntryTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS learning_entry (
    %s,
    learning_id INTEGER NOT NULL,
    category VARCHAR(64) NOT NULL,
    description TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (learning_id) REFERENCES learning(id) ON DELETE CASCADE
);
`, s.autoIncPK())
}

var indexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_session_status ON session(status)`,
	`CREATE INDEX IF NOT EXISTS idx_session_created_at ON session(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_finding_session_id ON finding(session_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_finding_session_number ON finding(session_id, number)`,
	`CREATE INDEX IF NOT EXISTS idx_learning_entry_category ON learning_entry(learning_id, category)`,
}

func (s *Store) autoIncPK() string {
	switch s.dialect {
	case DialectPostgres:
		return "id SERIAL PRIMARY KEY"
	case DialectMySQL:
		return "id BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

// initSchema creates missing tables at the current shape, runs the
// column-presence-guarded upgrades for tables created by older versions,
// and records the schema version.
func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ddl := []string{
		schemaVersionTableSQL,
		sessionTableSQL("session"),
		s.findingTableSQL(),
		s.learningTableSQL(),
		s.learningEntryTableSQL(),
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	if err := s.migrate(ctx); err != nil {
		return err
	}

	for _, stmt := range indexSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return s.setSchemaVersion(ctx, SchemaVersion)
}

// migrate runs every upgrade step. Each step checks column presence itself,
// so a database abandoned mid-upgrade converges on re-open.
func (s *Store) migrate(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"drop session.skip_minor", s.migrateDropSkipMinor},
		{"add session.lens_preferences", s.migrateAddLensPreferences},
		{"add finding.scene_path", s.migrateAddFindingScenePath},
		{"add session index-context columns", s.migrateAddIndexContext},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("migration '%s' failed: %w", step.name, err)
		}
	}
	return nil
}

func (s *Store) migrateDropSkipMinor(ctx context.Context) error {
	ok, err := s.hasColumn(ctx, "session", "skip_minor")
	if err != nil || !ok {
		return err
	}
	if s.dialect != DialectSQLite {
		_, err := s.db.ExecContext(ctx, `ALTER TABLE session DROP COLUMN skip_minor`)
		return err
	}
	return s.rebuildSessionTable(ctx)
}

// rebuildSessionTable recreates the session table at the current shape and
// copies the shared columns across, the documented SQLite procedure for
// dropping a column: build the replacement under a scratch name, copy, drop
// the original, rename. Foreign keys are off for the duration so the child
// finding table neither blocks the drop nor follows the rename.
func (s *Store) rebuildSessionTable(ctx context.Context) error {
	oldCols, err := s.tableColumns(ctx, "session")
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys=OFF`); err != nil {
		return err
	}
	defer s.db.ExecContext(ctx, `PRAGMA foreign_keys=ON`)

	// A crashed earlier rebuild may have left the scratch table behind.
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS session_new`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sessionTableSQL("session_new")); err != nil {
		return err
	}
	newCols, err := s.tableColumns(ctx, "session_new")
	if err != nil {
		return err
	}

	shared := intersectColumns(oldCols, newCols)
	colList := strings.Join(shared, ", ")
	steps := []string{
		fmt.Sprintf(`INSERT INTO session_new (%s) SELECT %s FROM session`, colList, colList),
		`DROP TABLE session`,
		`ALTER TABLE session_new RENAME TO session`,
	}
	for _, stmt := range steps {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateAddLensPreferences(ctx context.Context) error {
	return s.addColumnIfMissing(ctx, "session", "lens_preferences", "TEXT NOT NULL DEFAULT ''")
}

func (s *Store) migrateAddFindingScenePath(ctx context.Context) error {
	return s.addColumnIfMissing(ctx, "finding", "scene_path", "TEXT NOT NULL DEFAULT ''")
}

func (s *Store) migrateAddIndexContext(ctx context.Context) error {
	cols := []struct {
		name string
		ddl  string
	}{
		{"index_context_hash", "TEXT NOT NULL DEFAULT ''"},
		{"index_context_stale", "INTEGER NOT NULL DEFAULT 0"},
		{"index_rerun_prompted", "INTEGER NOT NULL DEFAULT 0"},
		{"index_changed_files", "TEXT NOT NULL DEFAULT '[]'"},
	}
	for _, c := range cols {
		if err := s.addColumnIfMissing(ctx, "session", c.name, c.ddl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) addColumnIfMissing(ctx context.Context, table, column, ddl string) error {
	ok, err := s.hasColumn(ctx, table, column)
	if err != nil || ok {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddl))
	return err
}

// CurrentSchemaVersion reads the recorded schema version, 0 when none is
// recorded yet.
func (s *Store) CurrentSchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE schema_version SET version = ?`), v)
	if err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO schema_version (version) VALUES (?)`), v); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

func intersectColumns(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, c := range b {
		inB[c] = true
	}
	var out []string
	for _, c := range a {
		if inB[c] {
			out = append(out, c)
		}
	}
	return out
}
