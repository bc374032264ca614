package logging

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS cycle_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id     TEXT NOT NULL,
	label        TEXT,
	confidence   REAL,
	posture      TEXT,
	state        TEXT NOT NULL,
	action       TEXT,
	subcategory  TEXT,
	reward       REAL,
	decision     TEXT NOT NULL,
	reason       TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycle_log_created ON cycle_log(created_at);
`
// #endregion schema

// #region journal-struct
// Journal is an append-only SQLite record of control-loop cycles.
type Journal struct {
	db *sql.DB
}
// #endregion journal-struct

// #region constructor
// OpenJournal opens or creates the journal at path. ":memory:" is accepted.
func OpenJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// DB returns the underlying *sql.DB.
func (j *Journal) DB() *sql.DB {
	return j.db
}
// #endregion constructor

// NewCycleID returns a fresh identifier for one control-loop cycle.
func NewCycleID() string {
	return uuid.NewString()
}

// #region record
// Record writes one cycle entry.
func (j *Journal) Record(entry CycleEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.CycleID == "" {
		entry.CycleID = NewCycleID()
	}

	_, err := j.db.Exec(
		`INSERT INTO cycle_log (cycle_id, label, confidence, posture, state, action, subcategory, reward, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CycleID,
		nullIfEmpty(entry.Label),
		nullIfNil(entry.Confidence),
		nullIfEmpty(entry.Posture),
		entry.State,
		nullIfEmpty(entry.Action),
		nullIfEmpty(entry.Subcategory),
		nullIfNil(entry.Reward),
		string(entry.Decision),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}
// #endregion record

// #region recent
// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]CycleEntry, error) {
	rows, err := j.db.Query(
		`SELECT id, cycle_id, label, confidence, posture, state, action, subcategory, reward, decision, reason, created_at
		 FROM cycle_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var entries []CycleEntry
	for rows.Next() {
		var e CycleEntry
		var label, posture, action, sub, reason sql.NullString
		var conf, reward sql.NullFloat64
		var decision, created string

		if err := rows.Scan(&e.ID, &e.CycleID, &label, &conf, &posture, &e.State, &action, &sub, &reward, &decision, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Label = label.String
		e.Posture = posture.String
		e.Action = action.String
		e.Subcategory = sub.String
		e.Reason = reason.String
		e.Decision = Decision(decision)
		if conf.Valid {
			e.Confidence = &conf.Float64
		}
		if reward.Valid {
			e.Reward = &reward.Float64
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns the number of cycles per decision.
func (j *Journal) Counts() (map[Decision]int, error) {
	rows, err := j.db.Query(`SELECT decision, COUNT(*) FROM cycle_log GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("count cycles: %w", err)
	}
	defer rows.Close()

	out := make(map[Decision]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[Decision(d)] = n
	}
	return out, rows.Err()
}
// #endregion recent

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
// #endregion helpers
