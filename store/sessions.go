package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is the persisted record for a running instance of a workflow
// definition. Context holds arbitrary key-value data; CurrentStageID is
// empty when no stage has been selected yet.
type Session struct {
	ID             string
	WorkflowID     string
	Name           string
	Status         SessionStatus
	Context        map[string]any
	CurrentStageID string
	TaskID         string
	IsCurrent      bool
	CreatedAt      int64
	UpdatedAt      int64
}

// SessionFilter narrows a session listing. Zero-valued fields are ignored.
type SessionFilter struct {
	Status     SessionStatus
	WorkflowID string
}

// SessionStore handles Session CRUD on SQLite.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new session record and stamps its timestamps.
func (s *SessionStore) Create(ctx context.Context, sess *Session) error {
	contextJSON, err := marshalMap(sess.Context)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workflow_id, name, status, context, current_stage_id, task_id, is_current, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.WorkflowID, sess.Name, string(sess.Status), contextJSON,
		nullable(sess.CurrentStageID), nullable(sess.TaskID), boolToInt(sess.IsCurrent),
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CreateCurrent inserts a new session and makes it the current one as a
// single transaction. The flag on every other session is cleared in the
// same scope, so a failure leaves neither a half-created row nor a store
// without a current session.
func (s *SessionStore) CreateCurrent(ctx context.Context, sess *Session) error {
	contextJSON, err := marshalMap(sess.Context)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_current = 0, updated_at = ? WHERE is_current = 1`, now); err != nil {
		return fmt.Errorf("clear current flags: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, workflow_id, name, status, context, current_stage_id, task_id, is_current, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, sess.ID, sess.WorkflowID, sess.Name, string(sess.Status), contextJSON,
		nullable(sess.CurrentStageID), nullable(sess.TaskID),
		sess.CreatedAt, sess.UpdatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create session: %w", err)
	}
	sess.IsCurrent = true
	return nil
}

// Get fetches a session by ID. Returns ErrNotFound for unknown ids.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, name, status, context, current_stage_id, task_id, is_current, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

// Update persists the full session record and bumps updated_at. Returns
// ErrNotFound if the record no longer exists.
func (s *SessionStore) Update(ctx context.Context, sess *Session) error {
	contextJSON, err := marshalMap(sess.Context)
	if err != nil {
		return err
	}

	sess.UpdatedAt = time.Now().Unix()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET workflow_id = ?, name = ?, status = ?, context = ?, current_stage_id = ?, task_id = ?, is_current = ?, updated_at = ?
		WHERE id = ?
	`, sess.WorkflowID, sess.Name, string(sess.Status), contextJSON,
		nullable(sess.CurrentStageID), nullable(sess.TaskID), boolToInt(sess.IsCurrent),
		sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session together with its stage instances in one
// transaction. Because the current-session pointer is the persisted
// is_current flag, deleting the row also clears the pointer. Returns false
// when no session with the given id existed.
func (s *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_instances WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete stage instances: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete session: %w", err)
	}
	return affected > 0, nil
}

// List returns sessions matching the filter, newest first.
func (s *SessionStore) List(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	query := `
		SELECT id, workflow_id, name, status, context, current_stage_id, task_id, is_current, created_at, updated_at
		FROM sessions WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Current returns the session whose is_current flag is set, or ErrNotFound
// when there is none. The flag is the single source of truth for the
// current-session pointer.
func (s *SessionStore) Current(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, name, status, context, current_stage_id, task_id, is_current, created_at, updated_at
		FROM sessions WHERE is_current = 1 LIMIT 1
	`)
	return scanSession(row)
}

// SetCurrent marks the given session as current and clears the flag on
// every other session in the same transaction, so at most one session ever
// carries it. Returns ErrNotFound for unknown ids.
func (s *SessionStore) SetCurrent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set current: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_current = 0, updated_at = ? WHERE is_current = 1 AND id != ?`, now, id); err != nil {
		return fmt.Errorf("clear current flags: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET is_current = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("set current flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set current rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var status, contextJSON string
	var currentStageID, taskID sql.NullString
	var isCurrent int

	err := row.Scan(&sess.ID, &sess.WorkflowID, &sess.Name, &status, &contextJSON,
		&currentStageID, &taskID, &isCurrent, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	parsed, err := ParseSessionStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = parsed

	sess.Context, err = unmarshalMap(contextJSON)
	if err != nil {
		return nil, err
	}
	if currentStageID.Valid {
		sess.CurrentStageID = currentStageID.String
	}
	if taskID.Valid {
		sess.TaskID = taskID.String
	}
	sess.IsCurrent = isCurrent != 0
	return &sess, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
