// Package store persists review sessions, findings, and project learning in
// a relational database. SQLite is the default backend (one `.lit-critic.db`
// per project, WAL mode, foreign keys on); PostgreSQL and MySQL share the
// same SQL through a placeholder converter. Schema upgrades are idempotent
// and guarded by column presence, so a partially upgraded database heals on
// the next open.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"litcritic/pkg/observability"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

const (
	openTimeout = 10 * time.Second

	// SQLite write contention: retry "database is locked" up to three
	// times with linear backoff before giving up.
	lockMaxRetries = 3
	lockRetryDelay = 50 * time.Millisecond
)

// Store is one database handle. Sessions are expected to be driven through
// a single Store at a time; concurrent writers are survived, not optimized
// for.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open opens (and if needed creates) the database and brings the schema up
// to the current version. An empty driver means sqlite; the dsn is then the
// database file path. MySQL callers must include parseTime=true in the dsn.
func Open(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DialectSQLite
	}
	switch driver {
	case DialectSQLite, DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported driver: %s (supported: sqlite, postgres, mysql)", driver)
	}

	driverName := driver
	if driver == DialectSQLite {
		// The go-sqlite3 driver registers as "sqlite3".
		driverName = "sqlite3"
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DialectSQLite {
		// A single connection sidesteps most lock contention; the busy
		// timeout and withRetry cover the rest.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dialect: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the active SQL dialect.
func (s *Store) Dialect() string {
	return s.dialect
}

// sqliteDSN appends the journalling and integrity options unless the caller
// already passed explicit options.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
}

// q rewrites `?` placeholders to `$n` for postgres. The shared SQL is
// written with `?`.
func (s *Store) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withRetry runs op, retrying SQLite lock errors with linear backoff. Other
// errors propagate immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt >= lockMaxRetries || !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordStoreRetry(ctx)
		}
		select {
		case <-time.After(lockRetryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tableColumns returns the column names of a table in definition order.
func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	if s.dialect == DialectSQLite {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
		}
		defer rows.Close()

		var cols []string
		for rows.Next() {
			var cid, notNull, pk int
			var name, colType string
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				return nil, fmt.Errorf("failed to scan table info: %w", err)
			}
			cols = append(cols, name)
		}
		return cols, rows.Err()
	}

	query := s.q(`SELECT column_name FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position`)
	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// hasColumn reports whether a table currently carries a column. Migrations
// key off this rather than the recorded schema version.
func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c == column {
			return true, nil
		}
	}
	return false, nil
}
