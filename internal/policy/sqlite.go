package policy

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS q_values (
	state       TEXT NOT NULL,
	action      TEXT NOT NULL,
	value       REAL NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (state, action)
);
`

// #endregion schema

// #region sqlite-backend

// SQLiteBackend stores a table in its own SQLite file.
// The database is opened per operation so a corrupt or deleted file never
// poisons a long-lived handle.
type SQLiteBackend struct {
	path string
}

// NewSQLiteBackend returns a backend for the database at path. Nothing is opened yet.
func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

// Path returns the database file location.
func (b *SQLiteBackend) Path() string { return b.path }

func (b *SQLiteBackend) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	return db, nil
}

// #endregion sqlite-backend

// #region load
// Load reads every stored pair. A missing file yields ErrNotFound.
func (b *SQLiteBackend) Load(ctx context.Context) (Table, error) {
	if _, err := os.Stat(b.path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", b.path, err)
	}

	db, err := b.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT state, action, value FROM q_values`)
	if err != nil {
		return nil, fmt.Errorf("query q_values: %w", err)
	}
	defer rows.Close()

	t := make(Table)
	for rows.Next() {
		var state, action string
		var value float64
		if err := rows.Scan(&state, &action, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		t.Set(state, action, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return t, nil
}

// #endregion load

// #region save
// Save replaces the stored table atomically, creating parent directories first.
func (b *SQLiteBackend) Save(ctx context.Context, t Table) error {
	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := b.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM q_values`); err != nil {
		return fmt.Errorf("clear q_values: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO q_values (state, action, value, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for state, row := range t {
		for action, value := range row {
			if _, err := stmt.ExecContext(ctx, state, action, value, now); err != nil {
				return fmt.Errorf("insert %s/%s: %w", state, action, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion save

// Close is a no-op; connections are not held between operations.
func (b *SQLiteBackend) Close() error { return nil }
