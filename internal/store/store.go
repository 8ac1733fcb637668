package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when no checkpoint exists for a flow id.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrSchemaTooNew is returned by Open when the database was migrated by
	// a newer build than this one.
	ErrSchemaTooNew = errors.New("checkpoint database schema is newer than this build")
)

// Store is a SQLite checkpoint store.
//
// It holds a single connection. A flow has exactly one writer (the pipeline
// driver that owns it) and SQLite serializes writers anyway, so a pool
// would only add SQLITE_BUSY retries.
type Store struct {
	db *sql.DB
}

// pragma is a connection setting applied on Open and read back.
type pragma struct {
	name   string
	value  string
	accept []string
}

// In-memory databases report journal_mode "memory" and cannot use WAL.
var pragmas = []pragma{
	{name: "journal_mode", value: "WAL", accept: []string{"wal", "memory"}},
	{name: "synchronous", value: "NORMAL", accept: []string{"1"}},
	{name: "busy_timeout", value: "5000", accept: []string{"5000"}},
	{name: "foreign_keys", value: "ON", accept: []string{"1"}},
}

// migration upgrades a database whose user_version is below version.
// Released entries are never edited; new ones are appended.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "history index",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_checkpoint_log_flow ON checkpoint_log(flow_id, seq)`,
		},
	},
	{
		version: 2,
		name:    "retry and kill filters",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_checkpoints_retrying ON checkpoints(retry_count) WHERE retry_count > 0`,
			`CREATE INDEX IF NOT EXISTS idx_checkpoints_killed ON checkpoints(flow_id) WHERE is_killed = 1`,
		},
	},
}

// currentSchemaVersion is the user_version written by the last migration.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Open opens the checkpoint store at path, creating it if needed.
// Use ":memory:" for a throwaway store.
//
// Every Open applies and verifies the connection pragmas, creates missing
// tables and runs pending migrations. A database migrated past this build's
// schema is refused with ErrSchemaTooNew rather than written to.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("set %s: %w", p.name, err)
		}
		if err := s.verifyPragma(p.name, p.accept...); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return s.migrate()
}

// migrate runs every migration above the stored user_version, each in its
// own transaction together with the version bump.
func (s *Store) migrate() error {
	version, err := s.userVersion()
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: user_version %d, supported %d", ErrSchemaTooNew, version, currentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): set user_version: %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Debug("checkpoint store migrated", "version", m.version, "migration", m.name)
	}
	return nil
}

func (s *Store) userVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

// verifyPragma reads a pragma back and checks it against the accepted values.
func (s *Store) verifyPragma(name string, accept ...string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if !slices.Contains(accept, strings.ToLower(value)) {
		return fmt.Errorf("%s = %q, want one of %v", name, value, accept)
	}
	return nil
}

// Close releases the connection. Closing a closed store is harmless.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Query runs a read-only SELECT against the store tables and returns the
// rows for the caller to close. Scenario assertions use it to inspect
// final state; anything other than a SELECT is refused.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	head := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(head, "SELECT") || strings.Contains(query, ";") {
		return nil, fmt.Errorf("query store: only a single SELECT is allowed")
	}
	return s.db.QueryContext(ctx, query, args...)
}
