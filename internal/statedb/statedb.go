// Package statedb records turn history in SQLite: one row per successful
// codex exchange, queried by the /usage command and the sessions CLI.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version. Bump when
// adding migrations.
const SchemaVersion = 1

// DB wraps the SQLite turn-history database. Safe for concurrent use
// within one process; WAL mode plus a busy timeout covers readers from
// other processes.
type DB struct {
	db *sql.DB
}

// TurnRow is one recorded exchange.
type TurnRow struct {
	SessionID   string
	ThreadID    string
	UsedTokens  int
	MaxTokens   int
	UsedPercent float64
	Duration    time.Duration
	CreatedAt   time.Time
}

// UsageSummary aggregates a session's recorded turns.
type UsageSummary struct {
	Turns           int
	LastUsedPercent float64
	LastUsedTokens  int
	LastMaxTokens   int
	TotalDuration   time.Duration
	LastTurnAt      time.Time
}

// Open creates or opens the database at dbPath with WAL mode and a busy
// timeout.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("statedb: %s: %w", pragma, err)
		}
	}
	return &DB{db: db}, nil
}

// Close checkpoints the WAL and closes the database.
func (d *DB) Close() error {
	_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.db.Close()
}

// Migrate creates tables if they don't exist.
func (d *DB) Migrate() error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id   TEXT NOT NULL,
			thread_id    TEXT NOT NULL DEFAULT '',
			used_tokens  INTEGER NOT NULL DEFAULT 0,
			max_tokens   INTEGER NOT NULL DEFAULT 0,
			used_percent REAL NOT NULL DEFAULT 0,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create turns: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at)
	`); err != nil {
		return fmt.Errorf("statedb: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// RecordTurn appends one turn.
func (d *DB) RecordTurn(row TurnRow) error {
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := d.db.Exec(`
		INSERT INTO turns (session_id, thread_id, used_tokens, max_tokens, used_percent, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.SessionID, row.ThreadID, row.UsedTokens, row.MaxTokens, row.UsedPercent,
		row.Duration.Milliseconds(), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("statedb: record turn: %w", err)
	}
	return nil
}

// SessionUsage summarizes the session's recorded turns. A session with no
// turns yields a zero summary, not an error.
func (d *DB) SessionUsage(sessionID string) (UsageSummary, error) {
	var sum UsageSummary
	var totalMs sql.NullInt64
	err := d.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(duration_ms), 0) FROM turns WHERE session_id = ?
	`, sessionID).Scan(&sum.Turns, &totalMs)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("statedb: usage count: %w", err)
	}
	sum.TotalDuration = time.Duration(totalMs.Int64) * time.Millisecond
	if sum.Turns == 0 {
		return sum, nil
	}

	var createdAt int64
	err = d.db.QueryRow(`
		SELECT used_tokens, max_tokens, used_percent, created_at
		FROM turns WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, sessionID).Scan(&sum.LastUsedTokens, &sum.LastMaxTokens, &sum.LastUsedPercent, &createdAt)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("statedb: usage last: %w", err)
	}
	sum.LastTurnAt = time.Unix(createdAt, 0)
	return sum, nil
}

// RecentTurns returns the session's newest turns, most recent first.
func (d *DB) RecentTurns(sessionID string, limit int) ([]TurnRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.db.Query(`
		SELECT session_id, thread_id, used_tokens, max_tokens, used_percent, duration_ms, created_at
		FROM turns WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("statedb: recent turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRow
	for rows.Next() {
		var row TurnRow
		var durationMs, createdAt int64
		if err := rows.Scan(&row.SessionID, &row.ThreadID, &row.UsedTokens, &row.MaxTokens,
			&row.UsedPercent, &durationMs, &createdAt); err != nil {
			return nil, err
		}
		row.Duration = time.Duration(durationMs) * time.Millisecond
		row.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, row)
	}
	return out, rows.Err()
}
