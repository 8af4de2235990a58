// Package store persists daemon settings and the registry's diagnostic
// snapshot in a SQLite database under the portless home directory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// Well-known setting keys.
const (
	SettingHTTPSEnabled     = "https_enabled"
	SettingShutdownChildren = "shutdown_children"
)

// Options describes parameters for opening the store.
type Options struct {
	// Path is the SQLite database file, typically Paths.StateDB.
	Path string
}

// Store provides access to the daemon state database.
type Store struct {
	db   *sql.DB
	path string
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		domain TEXT PRIMARY KEY,
		port INTEGER NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		directory TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Open initialises the state store at the given path, creating the schema on
// first use.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply schema: %w", err)
		}
	}

	return &Store{db: db, path: opts.Path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadSettings returns all key/value settings, or only the requested keys.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings`
	var args []any

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" WHERE key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan settings row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate settings rows: %w", err)
	}
	return result, nil
}

// SaveSettings upserts the provided key/value pairs.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP`)
		if err != nil {
			return fmt.Errorf("store: prepare settings upsert: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if _, err := stmt.ExecContext(ctx, key, value); err != nil {
				return fmt.Errorf("store: save setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// BoolSetting reads a setting as a boolean; missing keys yield the fallback.
func (s *Store) BoolSetting(ctx context.Context, key string, fallback bool) (bool, error) {
	settings, err := s.LoadSettings(ctx, key)
	if err != nil {
		return fallback, err
	}
	value, ok := settings[key]
	if !ok {
		return fallback, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, nil
	}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
