package tracking

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

// NewDatabase creates a new SQLite database with the specified path and applies the schema
func NewDatabase(dbPath string) (*sql.DB, error) {
	// Ensure directory exists if not in-memory
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database connection
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply pragmas first
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	// Ensure schema exists
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// ensureSchema creates the database schema if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
-- One row per playback session, from the start request to its terminal state
CREATE TABLE IF NOT EXISTS play_sessions (
    id          INTEGER PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    source      TEXT    NOT NULL,
    codec       TEXT    NOT NULL,
    backend     TEXT    NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0 CHECK (duration_ms >= 0),
    outcome     TEXT    CHECK (outcome IN ('finished', 'stopped', 'failed')),
    stop_failed INTEGER NOT NULL DEFAULT 0 CHECK (stop_failed IN (0,1))
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_sessions_started ON play_sessions(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_backend ON play_sessions(backend);
CREATE INDEX IF NOT EXISTS idx_sessions_outcome ON play_sessions(outcome);
CREATE INDEX IF NOT EXISTS idx_sessions_stop_failed ON play_sessions(stop_failed) WHERE stop_failed = 1;
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// GetDatabasePath returns the XDG-compliant path for the session database
func GetDatabasePath() (string, error) {
	dbDir := filepath.Join(xdg.DataHome, "tapedeck")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}

	return filepath.Join(dbDir, "sessions.db"), nil
}
