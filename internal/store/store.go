// Package store persists conversation threads and provisioning runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/temirov/directorium/internal/llm"
	"github.com/temirov/directorium/internal/provision"
)

const (
	driverName = "sqlite"

	// Fixed-width so lexical order matches time order.
	timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

	openErrorFormat   = "open session store %s: %w"
	schemaErrorFormat = "initialize session store schema: %w"
)

var ErrEmptyThreadID = errors.New("thread id is empty")

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	thread_id       TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT    NOT NULL,
	content         TEXT    NOT NULL DEFAULT '',
	name            TEXT    NOT NULL DEFAULT '',
	tool_call_id    TEXT    NOT NULL DEFAULT '',
	tool_calls_json TEXT    NOT NULL DEFAULT '',
	created_at      TEXT    NOT NULL,
	PRIMARY KEY (thread_id, seq)
);
CREATE TABLE IF NOT EXISTS provision_runs (
	id          TEXT    PRIMARY KEY,
	started_at  TEXT    NOT NULL,
	finished_at TEXT    NOT NULL,
	policy      TEXT    NOT NULL,
	dry_run     INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	error       TEXT    NOT NULL DEFAULT ''
);
`

// Store is a SQLite-backed session store. It is safe for use by one process.
type Store struct {
	db    *sql.DB
	path  string
	mutex sync.Mutex
	now   func() time.Time
}

// Open creates or opens the database at path, creating its directory when needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf(openErrorFormat, path, err)
		}
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf(openErrorFormat, path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf(schemaErrorFormat, err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

// NewThreadID returns a short random thread identifier.
func NewThreadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Messages returns the thread history in order. An unknown thread has no messages.
func (s *Store) Messages(ctx context.Context, threadID string) ([]llm.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrEmptyThreadID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, name, tool_call_id, tool_calls_json FROM messages WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var message llm.Message
		var toolCallsJSON string
		if err := rows.Scan(&message.Role, &message.Content, &message.Name, &message.ToolCallID, &toolCallsJSON); err != nil {
			return nil, fmt.Errorf("scan thread %s: %w", threadID, err)
		}
		if toolCallsJSON != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &message.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls in thread %s: %w", threadID, err)
			}
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// Append adds messages to the end of a thread in one transaction.
func (s *Store) Append(ctx context.Context, threadID string, messages ...llm.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrEmptyThreadID
	}
	if len(messages) == 0 {
		return nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append to %s: %w", threadID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?`, threadID).Scan(&next); err != nil {
		return fmt.Errorf("next sequence for %s: %w", threadID, err)
	}
	createdAt := s.now().UTC().Format(timestampFormat)
	for offset, message := range messages {
		toolCallsJSON := ""
		if len(message.ToolCalls) > 0 {
			encoded, err := json.Marshal(message.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCallsJSON = string(encoded)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (thread_id, seq, role, content, name, tool_call_id, tool_calls_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			threadID, next+int64(offset), message.Role, message.Content, message.Name, message.ToolCallID, toolCallsJSON, createdAt); err != nil {
			return fmt.Errorf("append to %s: %w", threadID, err)
		}
	}
	return tx.Commit()
}

// Thread summarizes one stored conversation.
type Thread struct {
	ID           string
	MessageCount int
	LastActivity time.Time
}

// Threads lists stored threads, most recently active first.
func (s *Store) Threads(ctx context.Context) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, COUNT(*), MAX(created_at) FROM messages GROUP BY thread_id ORDER BY MAX(created_at) DESC, thread_id`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var thread Thread
		var lastActivity string
		if err := rows.Scan(&thread.ID, &thread.MessageCount, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		thread.LastActivity, _ = time.Parse(timestampFormat, lastActivity)
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

// Run is one recorded provisioning run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Policy     string
	DryRun     bool
	Succeeded  int
	Failed     int
	Skipped    int
	Error      string
}

// RecordRun stores the outcome of a provisioning run and returns its id.
func (s *Store) RecordRun(ctx context.Context, report provision.Report, runErr error) (string, error) {
	id := uuid.NewString()
	errorText := ""
	if runErr != nil {
		errorText = runErr.Error()
	}
	dryRun := 0
	if report.DryRun {
		dryRun = 1
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provision_runs (id, started_at, finished_at, policy, dry_run, succeeded, failed, skipped, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		report.StartedAt.UTC().Format(timestampFormat),
		report.FinishedAt.UTC().Format(timestampFormat),
		string(report.Policy),
		dryRun,
		report.Count(provision.StatusSucceeded),
		report.Count(provision.StatusFailed),
		report.Count(provision.StatusSkipped),
		errorText)
	if err != nil {
		return "", fmt.Errorf("record provisioning run: %w", err)
	}
	return id, nil
}

// Runs returns up to limit recorded runs, newest first. A non-positive limit returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, policy, dry_run, succeeded, failed, skipped, error FROM provision_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list provisioning runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt, finishedAt string
		var dryRun int
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &run.Policy, &dryRun, &run.Succeeded, &run.Failed, &run.Skipped, &run.Error); err != nil {
			return nil, fmt.Errorf("scan provisioning run: %w", err)
		}
		run.StartedAt, _ = time.Parse(timestampFormat, startedAt)
		run.FinishedAt, _ = time.Parse(timestampFormat, finishedAt)
		run.DryRun = dryRun == 1
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
