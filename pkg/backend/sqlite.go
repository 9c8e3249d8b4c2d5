package backend

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLite keeps values in a single key/value table.
type SQLite struct {
	sqlDB *sql.DB
}

// OpenSQLite opens the database at path, creating the table when missing.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("backend: sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("backend: open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and matches the
	// synchronous, one-writer usage of this package.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("backend: ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("backend: create sqlite schema: %w", err)
	}
	return &SQLite{sqlDB: sqlDB}, nil
}

// Get implements Backend.
func (s *SQLite) Get(key string) (string, bool, error) {
	if s == nil || s.sqlDB == nil {
		return "", false, ErrUnavailable
	}
	var value string
	err := s.sqlDB.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap("read", key, err)
	}
	return value, true, nil
}

// Set implements Backend.
func (s *SQLite) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return ErrUnavailable
	}
	_, err := s.sqlDB.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key,
		value,
	)
	if err != nil {
		return s.wrap("write", key, err)
	}
	return nil
}

// Delete implements Deleter.
func (s *SQLite) Delete(key string) error {
	if s == nil || s.sqlDB == nil {
		return ErrUnavailable
	}
	if _, err := s.sqlDB.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return s.wrap("delete", key, err)
	}
	return nil
}

// Close closes the SQLite handle.
func (s *SQLite) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLite) wrap(op, key string, err error) error {
	if strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %s %q: %v", ErrUnavailable, op, key, err)
	}
	return fmt.Errorf("backend: %s %q: %w", op, key, err)
}
