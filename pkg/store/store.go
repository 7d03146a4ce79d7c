// Package store persists harness state across restarts.
//
// A Store is a core.Observer: it mirrors every state change into SQLite
// (latest state per path, invocation history, runs) and appends it to a JSONL
// event log. It also holds the device data snapshot and the key/value shelf
// tests reach through state_proxy.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
)

// File names inside the state directory.
const (
	DBFile     = "goofy.db"
	EventsFile = "events.jsonl"
)

const timeLayout = time.RFC3339Nano

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		test_list_id TEXT NOT NULL,
		root TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		stopped INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		passed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS test_states (
		path TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		error_msg TEXT NOT NULL DEFAULT '',
		visible INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		count INTEGER NOT NULL DEFAULT 0,
		invocation TEXT NOT NULL DEFAULT '',
		iterations_left INTEGER NOT NULL DEFAULT 0,
		retries_left INTEGER NOT NULL DEFAULT 0,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invocations (
		invocation_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		error_msg TEXT NOT NULL DEFAULT '',
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		artifacts TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS invocations_path ON invocations(path);

	CREATE TABLE IF NOT EXISTS device_data (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shelf (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

// Store is the SQLite-backed state store.
type Store struct {
	dir    string
	db     *sql.DB
	mu     sync.Mutex // serializes observer writes
	events *EventLog
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, DBFile))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writes ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	// databases written before artifacts were recorded lack the column
	if _, err := db.Exec(`ALTER TABLE invocations ADD COLUMN artifacts TEXT NOT NULL DEFAULT '[]'`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		_ = db.Close()
		return nil, fmt.Errorf("migrate invocations: %w", err)
	}

	events, err := OpenEventLog(filepath.Join(dir, EventsFile))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{dir: dir, db: db, events: events}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close closes the database and the event log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	evErr := s.events.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return evErr
}

// EventLogPath returns the path of the JSONL event log.
func (s *Store) EventLogPath() string {
	return s.events.Path()
}

// RunStarted records a new run.
func (s *Store) RunStarted(run core.RunInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, test_list_id, root, start_time, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		run.ID, run.TestListID, run.Root, formatTime(run.StartTime), core.StatusActive.String(),
	)
	if err != nil {
		logger.Warn("store: recording run %s: %v", run.ID, err)
	}
}

// StateChanged upserts the latest state of the path, records terminal
// invocations and appends the change to the event log.
func (s *Store) StateChanged(change core.StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.events.Append(&change); err != nil {
		logger.Warn("store: appending event %d: %v", change.Seq, err)
	}
	if err := s.saveState(change); err != nil {
		logger.Warn("store: saving state of %s: %v", change.Path, err)
	}
}

// RunFinished records the outcome of a run.
func (s *Store) RunFinished(run core.RunInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE runs SET end_time = ?, stopped = ?, reason = ?, status = ?, passed = ?, failed = ?, total = ?
		 WHERE run_id = ?`,
		formatTime(run.EndTime), run.Stopped, run.Reason, run.Summary.Status.String(),
		run.Summary.Passed, run.Summary.Failed, run.Summary.Total, run.ID,
	)
	if err != nil {
		logger.Warn("store: finishing run %s: %v", run.ID, err)
	}
}

func (s *Store) saveState(change core.StateChange) error {
	st := change.State
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO test_states (path, status, error_msg, visible, skipped, count, invocation,
			iterations_left, retries_left, start_time, end_time, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			status = excluded.status,
			error_msg = excluded.error_msg,
			visible = excluded.visible,
			skipped = excluded.skipped,
			count = excluded.count,
			invocation = excluded.invocation,
			iterations_left = excluded.iterations_left,
			retries_left = excluded.retries_left,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			seq = excluded.seq`,
		change.Path, st.Status.String(), st.ErrorMsg, st.Visible, st.Skipped, st.Count, st.InvocationID,
		st.IterationsLeft, st.RetriesLeft, formatTime(st.StartTime), formatTime(st.EndTime), change.Seq,
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	if st.InvocationID != "" && (st.Status == core.StatusActive || st.Status.IsTerminal()) {
		artifacts, err := encodeArtifacts(change.Attachments)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO invocations (invocation_id, run_id, path, status, error_msg, start_time, end_time, artifacts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(invocation_id) DO UPDATE SET
				status = excluded.status,
				error_msg = excluded.error_msg,
				end_time = excluded.end_time,
				artifacts = excluded.artifacts`,
			st.InvocationID, change.RunID, change.Path, st.Status.String(), st.ErrorMsg,
			formatTime(st.StartTime), formatTime(st.EndTime), artifacts,
		)
		if err != nil {
			return fmt.Errorf("upsert invocation: %w", err)
		}
	}
	return tx.Commit()
}

// encodeArtifacts keeps the attachments that were written to disk.
func encodeArtifacts(attachments []core.Attachment) (string, error) {
	saved := []core.Attachment{}
	for _, a := range attachments {
		if a.Path != "" {
			saved = append(saved, a)
		}
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return "", fmt.Errorf("encode artifacts: %w", err)
	}
	return string(data), nil
}

// LoadStates returns the last saved state of every path.
func (s *Store) LoadStates(ctx context.Context) (map[string]core.RunState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, status, error_msg, visible, skipped, count, invocation,
			iterations_left, retries_left, start_time, end_time
		 FROM test_states`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[string]core.RunState)
	for rows.Next() {
		var (
			path, status, start, end string
			st                       core.RunState
		)
		if err := rows.Scan(&path, &status, &st.ErrorMsg, &st.Visible, &st.Skipped, &st.Count,
			&st.InvocationID, &st.IterationsLeft, &st.RetriesLeft, &start, &end); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		if st.Status, err = core.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("state of %s: %w", path, err)
		}
		st.StartTime = parseTime(start)
		st.EndTime = parseTime(end)
		states[path] = st
	}
	return states, rows.Err()
}

// Invocation is one row of the invocation history.
type Invocation struct {
	ID        string          `json:"id"`
	RunID     string          `json:"runId"`
	Path      string          `json:"path"`
	Status    core.TestStatus `json:"status"`
	ErrorMsg  string          `json:"errorMsg,omitempty"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime,omitempty"`

	// Artifacts are the attachments the invocation saved to disk
	Artifacts []core.Attachment `json:"artifacts,omitempty"`
}

// History returns the invocations of path, oldest first.
func (s *Store) History(ctx context.Context, path string) ([]Invocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT invocation_id, run_id, path, status, error_msg, start_time, end_time, artifacts
		 FROM invocations WHERE path = ? ORDER BY start_time ASC, rowid ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Invocation
	for rows.Next() {
		var (
			inv                           Invocation
			status, start, end, artifacts string
		)
		if err := rows.Scan(&inv.ID, &inv.RunID, &inv.Path, &status, &inv.ErrorMsg, &start, &end, &artifacts); err != nil {
			return nil, fmt.Errorf("scan invocation row: %w", err)
		}
		if err := json.Unmarshal([]byte(artifacts), &inv.Artifacts); err != nil {
			return nil, fmt.Errorf("artifacts of %s: %w", inv.ID, err)
		}
		if inv.Status, err = core.ParseStatus(status); err != nil {
			return nil, err
		}
		inv.StartTime = parseTime(start)
		inv.EndTime = parseTime(end)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]core.RunInfo, error) {
	query := `SELECT run_id, test_list_id, root, start_time, COALESCE(end_time, ''), stopped, reason,
			status, passed, failed, total
		 FROM runs ORDER BY run_id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.RunInfo
	for rows.Next() {
		var (
			run                core.RunInfo
			start, end, status string
		)
		if err := rows.Scan(&run.ID, &run.TestListID, &run.Root, &start, &end, &run.Stopped, &run.Reason,
			&status, &run.Summary.Passed, &run.Summary.Failed, &run.Summary.Total); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if run.Summary.Status, err = core.ParseStatus(status); err != nil {
			return nil, err
		}
		run.StartTime = parseTime(start)
		run.EndTime = parseTime(end)
		out = append(out, run)
	}
	return out, rows.Err()
}

// ClearStates drops every saved state. History and runs are kept.
func (s *Store) ClearStates(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM test_states"); err != nil {
		return fmt.Errorf("clear states: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
