// Package store persists profiles, scheduled sessions and teacher assessments in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// DB wraps the application database
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the SQLite database in the given directory
func Open(dir string) (*DB, error) {
	dbPath := filepath.Join(dir, "tutor.db")

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps PRAGMAs and write ordering consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name  TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'learner',
			is_admin      INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create profiles table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_sessions (
			id             TEXT PRIMARY KEY,
			learner_id     TEXT NOT NULL REFERENCES profiles(id),
			teacher_id     TEXT NOT NULL REFERENCES profiles(id),
			scheduled_time TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'requested',
			created_at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_learner ON scheduled_sessions(learner_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_teacher ON scheduled_sessions(teacher_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	// At most one pending assessment per user and language.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS teacher_assessments (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES profiles(id),
			language     TEXT NOT NULL,
			quiz_data    TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			submitted_at TEXT NOT NULL,
			reviewed_at  TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_assessments_pending
			ON teacher_assessments(user_id, language) WHERE status = 'pending';
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create assessments table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
