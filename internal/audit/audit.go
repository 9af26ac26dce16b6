// Package audit persists one row per stage invocation so experiment
// runs can be reconstructed after the fact: which agent ran, with what
// input, what it produced, and whether it succeeded.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/fixforge/internal/redact"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts     TEXT NOT NULL,
	agent  TEXT NOT NULL,
	model  TEXT,
	action TEXT NOT NULL,
	input  TEXT,
	output TEXT,
	status TEXT NOT NULL
);
`

// Entry is one recorded stage invocation.
type Entry struct {
	ID     int64
	Time   time.Time
	Agent  string
	Model  string
	Action string
	Input  string
	Output string
	Status string
}

// Log is a sqlite-backed audit trail. Safe for concurrent use.
type Log struct {
	mu sync.Mutex
	db *sql.DB
}

// DefaultPath returns the default audit database location.
func DefaultPath() string {
	return filepath.Join(".fixforge", "audit.db")
}

// Open creates or opens the audit database at path.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record stores one stage invocation. Inputs and outputs are scrubbed
// for credentials before they touch disk. Implements stage.Recorder;
// failures are logged, never propagated — auditing must not break a run.
func (l *Log) Record(agent, model, action, input, output, status string) {
	input, _ = redact.Transcript(input)
	output, _ = redact.Transcript(output)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(
		`INSERT INTO experiments (ts, agent, model, action, input, output, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), agent, model, action, input, output, status,
	)
	if err != nil {
		slog.Warn("audit record failed", "agent", agent, "action", action, "error", err)
	}
}

// Recent returns the latest n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(
		`SELECT id, ts, agent, model, action, input, output, status FROM experiments ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Agent, &e.Model, &e.Action, &e.Input, &e.Output, &e.Status); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
