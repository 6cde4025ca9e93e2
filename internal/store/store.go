// Package store persists which plugins a user has enabled, per application
// name, in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Config holds store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// Store is the active plugin set on disk.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "store").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug().Str("path", cfg.Path).Msg("Plugin store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS active_plugins (
			app TEXT NOT NULL,
			module TEXT NOT NULL,
			position INTEGER NOT NULL,
			enabled_at INTEGER NOT NULL,
			PRIMARY KEY (app, module)
		);
		CREATE INDEX IF NOT EXISTS idx_active_plugins_position ON active_plugins(app, position);

		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ActivePlugins returns the enabled module names in the order they were
// enabled. Module names are stored lower-cased.
func (s *Store) ActivePlugins(ctx context.Context, app string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module FROM active_plugins WHERE app = ? ORDER BY position`, app)
	if err != nil {
		return nil, fmt.Errorf("failed to query active plugins: %w", err)
	}
	defer rows.Close()

	modules := []string{}
	for rows.Next() {
		var module string
		if err := rows.Scan(&module); err != nil {
			return nil, fmt.Errorf("failed to scan active plugin: %w", err)
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}

// HasActivePlugins reports whether anything was ever stored for app. Hosts
// use it to tell "nothing enabled" from "never configured".
func (s *Store) HasActivePlugins(ctx context.Context, app string) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, initializedKey(app)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query metadata: %w", err)
	}
	return true, nil
}

// SetActivePlugins replaces the stored set.
func (s *Store) SetActivePlugins(ctx context.Context, app string, modules []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_plugins WHERE app = ?`, app); err != nil {
			return err
		}
		now := time.Now().Unix()
		position := 0
		seen := make(map[string]bool, len(modules))
		for _, module := range modules {
			key := strings.ToLower(strings.TrimSpace(module))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO active_plugins (app, module, position, enabled_at) VALUES (?, ?, ?, ?)`,
				app, key, position, now); err != nil {
				return err
			}
			position++
		}
		return markInitialized(ctx, tx, app)
	})
}

// Enable appends modules to the stored set. Already enabled modules keep
// their position. It returns the modules that were newly added.
func (s *Store) Enable(ctx context.Context, app string, modules ...string) ([]string, error) {
	var added []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM active_plugins WHERE app = ?`, app).Scan(&next); err != nil {
			return err
		}
		now := time.Now().Unix()
		for _, module := range modules {
			key := strings.ToLower(strings.TrimSpace(module))
			if key == "" {
				continue
			}
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO active_plugins (app, module, position, enabled_at) VALUES (?, ?, ?, ?)`,
				app, key, next, now)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added = append(added, key)
				next++
			}
		}
		return markInitialized(ctx, tx, app)
	})
	return added, err
}

// Disable removes modules from the stored set. It returns the modules that
// were actually removed.
func (s *Store) Disable(ctx context.Context, app string, modules ...string) ([]string, error) {
	var removed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, module := range modules {
			key := strings.ToLower(strings.TrimSpace(module))
			res, err := tx.ExecContext(ctx,
				`DELETE FROM active_plugins WHERE app = ? AND module = ?`, app, key)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				removed = append(removed, key)
			}
		}
		return markInitialized(ctx, tx, app)
	})
	return removed, err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to update active plugins: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func initializedKey(app string) string {
	return "initialized:" + app
}

func markInitialized(ctx context.Context, tx *sql.Tx, app string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`,
		initializedKey(app), time.Now().UTC().Format(time.RFC3339))
	return err
}
