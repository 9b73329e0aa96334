// Package history keeps an audit log of finished scan sessions in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-palm/pkg/capture"
)

// DefaultLimit is the number of entries Recent returns when limit <= 0.
const DefaultLimit = 50

// MaxLimit caps a single Recent query.
const MaxLimit = 500

// Entry is one finished session.
type Entry struct {
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"` // "registration" or "matching"
	SubjectID  string    `json:"subject_id"`
	Outcome    string    `json:"outcome"`
	Confidence float64   `json:"confidence"`
	Ticks      int       `json:"ticks"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// DB is the session history database.
type DB struct {
	*sql.DB
	now func() time.Time
}

// Open opens or creates the history database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	// database/sql pools connections; each :memory: connection would get its
	// own empty database.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			mode TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			confidence DOUBLE NOT NULL DEFAULT 0,
			ticks INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			finished_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_subject ON sessions(subject_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Record stores a finished session. It implements session.Recorder.
func (db *DB) Record(ctx context.Context, res capture.Result) error {
	if res.SessionID == "" {
		return errors.New("history: result has no session id")
	}

	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, mode, subject_id, outcome, confidence, ticks, duration_ms, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.SessionID,
		string(res.Mode.Wire()),
		res.SubjectID,
		res.Outcome.String(),
		res.Confidence,
		res.Ticks,
		res.Duration.Milliseconds(),
		errText,
		db.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", res.SessionID, err)
	}
	return nil
}

// Filter narrows a Recent query. Empty fields match everything.
type Filter struct {
	SubjectID string
	Outcome   string
	Mode      string // Wire name
	Limit     int
}

// Recent returns the newest entries first.
func (db *DB) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var (
		where []string
		args  []any
	)
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, strings.ToUpper(f.Outcome))
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, f.Mode)
	}

	query := `SELECT session_id, mode, subject_id, outcome, confidence, ticks, duration_ms, error, finished_at FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			finished int64
		)
		if err := rows.Scan(&e.SessionID, &e.Mode, &e.SubjectID, &e.Outcome, &e.Confidence,
			&e.Ticks, &e.DurationMs, &e.Error, &finished); err != nil {
			return nil, err
		}
		e.FinishedAt = time.UnixMilli(finished).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Counts returns the number of sessions per outcome.
func (db *DB) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM sessions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// DeleteSubject removes every entry for a subject and returns how many were
// removed.
func (db *DB) DeleteSubject(ctx context.Context, subjectID string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE subject_id = ?`, subjectID)
	if err != nil {
		return 0, fmt.Errorf("delete history for %s: %w", subjectID, err)
	}
	return res.RowsAffected()
}
