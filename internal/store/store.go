// Package store provides a small SQLite-backed companion to the per-agent
// JSON memory file: a queryable export of the skill-attempt history,
// a generic key/value table used by the WASM sandbox host's host.kv.set
// function, and per-skill fault/quarantine counters for generated skills
// loaded into that sandbox.
//
// The store is an export/query companion to internal/memory, never the
// system of record.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS skill_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent TEXT NOT NULL,
	skill TEXT NOT NULL,
	success INTEGER NOT NULL,
	duration_seconds REAL NOT NULL,
	notes TEXT NOT NULL,
	occurred_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_skill_attempts_agent_skill ON skill_attempts(agent, skill);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS skill_faults (
	skill TEXT PRIMARY KEY,
	fault_count INTEGER NOT NULL DEFAULT 0,
	quarantined INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);
`

// quarantineThreshold is the number of recorded faults before a dynamically
// loaded skill module is quarantined from further invocation.
const quarantineThreshold = 5

// Store owns the sqlite connection. Safe for concurrent use; the driver
// serializes writes internally.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSkillAttempt appends one row to the queryable export. It never
// blocks the memory.Store write it mirrors — callers record to both.
func (s *Store) RecordSkillAttempt(ctx context.Context, agent, skill string, success bool, durationSeconds float64, notes string, when time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skill_attempts (agent, skill, success, duration_seconds, notes, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		agent, skill, boolToInt(success), durationSeconds, notes, when.UTC())
	return err
}

// SkillSuccessRate reports the fraction of successful attempts for skill
// across all agents, and the total attempt count. Used by the operator CLI
// (`voxelbrain status`) and the season-goal digest.
func (s *Store) SkillSuccessRate(ctx context.Context, skill string) (rate float64, total int, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM skill_attempts WHERE skill = ?`, skill)
	var succ int
	if err := row.Scan(&total, &succ); err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(succ) / float64(total), total, nil
}

// KVSet implements the generic key/value table backing the WASM sandbox
// host's host.kv.set guest function (internal/sandbox/wasm).
func (s *Store) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

// KVGet returns the value for key, and whether it was found.
func (s *Store) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// IncrementSkillFault bumps the fault counter for a dynamically loaded
// skill module and reports whether it has just crossed the quarantine
// threshold.
func (s *Store) IncrementSkillFault(ctx context.Context, skill string, _ int) (quarantined bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, `SELECT fault_count FROM skill_faults WHERE skill = ?`, skill).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	count++
	quarantined = count >= quarantineThreshold

	_, err = tx.ExecContext(ctx,
		`INSERT INTO skill_faults (skill, fault_count, quarantined, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(skill) DO UPDATE SET fault_count = excluded.fault_count, quarantined = excluded.quarantined, updated_at = excluded.updated_at`,
		skill, count, boolToInt(quarantined), time.Now().UTC())
	if err != nil {
		return false, err
	}
	return quarantined, tx.Commit()
}

// IsSkillQuarantined reports whether skill has been auto-quarantined.
func (s *Store) IsSkillQuarantined(ctx context.Context, skill string) (bool, error) {
	var q int
	err := s.db.QueryRowContext(ctx, `SELECT quarantined FROM skill_faults WHERE skill = ?`, skill).Scan(&q)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return q != 0, nil
}

// ClearSkillFaults resets a skill's fault counter, used when statically
// defined skill names are healed on startup.
func (s *Store) ClearSkillFaults(ctx context.Context, skill string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM skill_faults WHERE skill = ?`, skill)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
