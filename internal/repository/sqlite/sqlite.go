// Package sqlite implements the repository interfaces on an embedded SQLite
// file, using the pure-Go modernc.org/sqlite driver (no cgo toolchain
// needed to build the CLI).
//
// The only table is session_state, a key-value store:
//
//	key   TEXT PRIMARY KEY   -- "token", "user" or "auth_failures"
//	value TEXT NOT NULL      -- JSON, or a decimal count
//
// The file holds a bearer token in clear text, so it is created with mode
// 0600 inside a 0700 directory. ":memory:" gives a private in-memory
// database, which is what the tests use.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// DB wraps the connection pool.
type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "~/.config/nutrition/session.db" after expansion by the caller
//   - ":memory:" for tests
func New(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := prepareFile(dbPath); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection: an in-memory database is per connection, and a CLI
	// never needs more.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool. Defer it right after New.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS session_state (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating session_state table: %w", err)
	}
	return nil
}

// prepareFile creates the parent directory and an empty database file with
// owner-only permissions, and tightens the mode of an existing file.
func prepareFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("sqlite: creating directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return fmt.Errorf("sqlite: creating %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sqlite: creating %s: %w", path, err)
	}

	// O_CREATE only applies the mode to new files.
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("sqlite: stat %s: %w", path, err)
	}
	if info.Mode().Perm() != fileMode {
		if err := os.Chmod(path, fileMode); err != nil && !errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("sqlite: chmod %s: %w", path, err)
		}
	}
	return nil
}
