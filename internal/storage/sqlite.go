// Package storage persists the discovery cache: the endpoint that won the
// last probe, so the next start can try it early. Nothing else is stored;
// the cache is written once per process (when discovery selects a network
// endpoint) and read once (before probing).
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS discovery (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	endpoint TEXT NOT NULL,
	probed_at TEXT NOT NULL
);`

// Store wraps a SQLite database holding the discovery cache.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and ensures the schema.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "inferelay.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LastEndpoint returns the cached last-good endpoint, or "" when none has
// been recorded yet.
func (s *Store) LastEndpoint() (string, error) {
	var endpoint string
	err := s.db.QueryRow("SELECT endpoint FROM discovery WHERE id = 1").Scan(&endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading discovery cache: %w", err)
	}
	return endpoint, nil
}

// SaveEndpoint records the endpoint that won discovery.
func (s *Store) SaveEndpoint(endpoint string) error {
	_, err := s.db.Exec(`
		INSERT INTO discovery (id, endpoint, probed_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET endpoint = excluded.endpoint, probed_at = excluded.probed_at`,
		endpoint, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing discovery cache: %w", err)
	}
	return nil
}
