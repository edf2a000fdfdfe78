// Package store owns the SQLite database: connection setup, schema, and
// the repositories for append-only attempt and session records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store holds the database handle and provides access to repositories.
type Store struct {
	db *sql.DB
}

// Open creates a Store connected to the SQLite database at dsn.
// It applies recommended pragmas and creates missing tables.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory database. Used by tests.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// applyPragmas configures SQLite for good single-writer performance.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// migrate creates the schema. Statements are idempotent so Open can run on
// an existing database.
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS learner_skill_state (
			learner_id     TEXT NOT NULL,
			skill_id       TEXT NOT NULL,
			strength       REAL NOT NULL DEFAULT 0,
			last_practice  INTEGER,
			practice_count INTEGER NOT NULL DEFAULT 0,
			correct_count  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (learner_id, skill_id)
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			learner_id    TEXT NOT NULL,
			question_id   TEXT NOT NULL,
			correct       INTEGER NOT NULL,
			skill_ids     TEXT NOT NULL,
			response_secs REAL NOT NULL,
			timestamp     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_learner ON attempts (learner_id, id DESC)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id                  TEXT PRIMARY KEY,
			learner_id          TEXT NOT NULL,
			started_at          INTEGER NOT NULL,
			ended_at            INTEGER,
			active              INTEGER NOT NULL DEFAULT 1,
			last_activity       INTEGER NOT NULL,
			turn_count          INTEGER NOT NULL DEFAULT 0,
			questions_attempted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_learner ON sessions (learner_id, started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS memory_vectors (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			learner_index TEXT NOT NULL,
			category     TEXT NOT NULL,
			memory_id    TEXT NOT NULL UNIQUE,
			text         TEXT NOT NULL,
			importance   REAL NOT NULL,
			learner_id   TEXT NOT NULL,
			session_id   TEXT NOT NULL,
			counter      INTEGER NOT NULL DEFAULT 1,
			first_epoch  INTEGER NOT NULL,
			last_epoch   INTEGER NOT NULL,
			embedding    TEXT NOT NULL,
			metadata     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_ns ON memory_vectors (learner_index, category)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			learner_id   TEXT PRIMARY KEY,
			grade        INTEGER NOT NULL,
			completed_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// DefaultDBPath resolves the database file path in priority order:
// 1. TUTORCORE_DB environment variable
// 2. $XDG_DATA_HOME/tutorcore/tutorcore.db
// 3. ~/.local/share/tutorcore/tutorcore.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("TUTORCORE_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "tutorcore", "tutorcore.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Ping verifies the datastore is reachable. Called at startup: an
// unreachable datastore is fatal misconfiguration.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
