// Package history keeps an audit log of every command approval decision and
// what happened when the approved command ran.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m4xw311/aida/errors"
	_ "modernc.org/sqlite"
)

// Record is one gate decision and its execution outcome.
type Record struct {
	ID         int64
	SessionID  string
	Timestamp  time.Time
	Proposed   string
	Executed   string
	Approved   bool
	Feedback   string
	ExitCode   int
	DurationMS int64
	Error      string
}

// Store persists Records in SQLite. A nil *Store discards everything.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens the database at path. An empty path returns a nil
// store, which disables auditing.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "could not create audit directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open audit database %s", path)
	}
	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "could not initialise audit database %s", path)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS command_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		timestamp TEXT,
		proposed TEXT,
		executed TEXT,
		approved INTEGER,
		feedback TEXT,
		exit_code INTEGER,
		duration_ms INTEGER,
		error TEXT
	);`)
	return err
}

// Add inserts rec. The timestamp defaults to now.
func (s *Store) Add(ctx context.Context, rec Record) error {
	if s == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO command_audit
		(session_id, timestamp, proposed, executed, approved, feedback, exit_code, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Proposed,
		rec.Executed,
		boolToInt(rec.Approved),
		rec.Feedback,
		rec.ExitCode,
		rec.DurationMS,
		rec.Error,
	)
	return errors.Wrapf(err, "failed to write audit record")
}

// Recent returns up to n records, newest first. n <= 0 returns everything.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	query := `SELECT id, session_id, timestamp, proposed, executed, approved, feedback, exit_code, duration_ms, error
		FROM command_audit ORDER BY id DESC`
	var args []any
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query audit log")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts string
		var approved int
		if err := rows.Scan(&rec.ID, &rec.SessionID, &ts, &rec.Proposed, &rec.Executed, &approved,
			&rec.Feedback, &rec.ExitCode, &rec.DurationMS, &rec.Error); err != nil {
			return nil, errors.Wrapf(err, "failed to read audit record")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
		rec.Approved = approved == 1
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
