package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates the tables and indexes if they don't exist. Every
// statement is idempotent so it is safe to call on every database open.
func initSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{}',
			current_stage_id TEXT,
			task_id TEXT,
			is_current INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_workflow ON sessions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_current ON sessions(is_current)`,
		`CREATE TABLE IF NOT EXISTS stage_instances (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			status TEXT NOT NULL,
			name TEXT NOT NULL,
			completed_items TEXT NOT NULL DEFAULT '[]',
			context TEXT NOT NULL DEFAULT '{}',
			deliverables TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_instances_session ON stage_instances(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_instances_status ON stage_instances(status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// marshalMap serializes a key-value map to its TEXT column form. A nil map
// serializes to an empty JSON object so columns never hold NULL.
func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal map column: %w", err)
	}
	return string(data), nil
}

// unmarshalMap parses a TEXT column back into a map. Empty columns decode
// to an empty, non-nil map.
func unmarshalMap(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("unmarshal map column: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// marshalStrings serializes a string slice to its TEXT column form.
func marshalStrings(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal string-list column: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings parses a TEXT column back into a string slice.
func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("unmarshal string-list column: %w", err)
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}
