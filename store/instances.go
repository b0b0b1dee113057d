package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StageInstance is the persisted execution record for one stage of a
// session's workflow. CompletedItems holds checklist-item ids; the managers
// above the store guarantee it stays a subset of the stage's declared
// checklist.
type StageInstance struct {
	ID             string
	SessionID      string
	StageID        string
	Status         StageStatus
	Name           string
	CompletedItems []string
	Context        map[string]any
	Deliverables   map[string]any
	CreatedAt      int64
	UpdatedAt      int64
}

// InstanceStore handles StageInstance CRUD on SQLite.
type InstanceStore struct {
	db *DB
}

// NewInstanceStore creates a new stage-instance store.
func NewInstanceStore(db *DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// Create inserts a new stage-instance record and stamps its timestamps.
func (s *InstanceStore) Create(ctx context.Context, inst *StageInstance) error {
	itemsJSON, err := marshalStrings(inst.CompletedItems)
	if err != nil {
		return err
	}
	contextJSON, err := marshalMap(inst.Context)
	if err != nil {
		return err
	}
	deliverablesJSON, err := marshalMap(inst.Deliverables)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stage_instances (id, session_id, stage_id, status, name, completed_items, context, deliverables, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ID, inst.SessionID, inst.StageID, string(inst.Status), inst.Name,
		itemsJSON, contextJSON, deliverablesJSON, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert stage instance: %w", err)
	}
	return nil
}

// Get fetches a stage instance by ID. Returns ErrNotFound for unknown ids.
func (s *InstanceStore) Get(ctx context.Context, id string) (*StageInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, stage_id, status, name, completed_items, context, deliverables, created_at, updated_at
		FROM stage_instances WHERE id = ?
	`, id)
	return scanInstance(row)
}

// Update persists the full stage-instance record and bumps updated_at.
func (s *InstanceStore) Update(ctx context.Context, inst *StageInstance) error {
	itemsJSON, err := marshalStrings(inst.CompletedItems)
	if err != nil {
		return err
	}
	contextJSON, err := marshalMap(inst.Context)
	if err != nil {
		return err
	}
	deliverablesJSON, err := marshalMap(inst.Deliverables)
	if err != nil {
		return err
	}

	inst.UpdatedAt = time.Now().Unix()

	res, err := s.db.ExecContext(ctx, `
		UPDATE stage_instances
		SET session_id = ?, stage_id = ?, status = ?, name = ?, completed_items = ?, context = ?, deliverables = ?, updated_at = ?
		WHERE id = ?
	`, inst.SessionID, inst.StageID, string(inst.Status), inst.Name,
		itemsJSON, contextJSON, deliverablesJSON, inst.UpdatedAt, inst.ID)
	if err != nil {
		return fmt.Errorf("update stage instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stage instance rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBySession returns all stage instances owned by a session in creation
// order. The order is stable across calls: ties on created_at fall back to
// the instance id.
func (s *InstanceStore) ListBySession(ctx context.Context, sessionID string) ([]*StageInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, stage_id, status, name, completed_items, context, deliverables, created_at, updated_at
		FROM stage_instances
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list stage instances: %w", err)
	}
	defer rows.Close()

	var instances []*StageInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// ListByStatus returns a session's stage instances with the given status,
// in creation order.
func (s *InstanceStore) ListByStatus(ctx context.Context, sessionID string, status StageStatus) ([]*StageInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, stage_id, status, name, completed_items, context, deliverables, created_at, updated_at
		FROM stage_instances
		WHERE session_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list stage instances by status: %w", err)
	}
	defer rows.Close()

	var instances []*StageInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*StageInstance, error) {
	var inst StageInstance
	var status, itemsJSON, contextJSON, deliverablesJSON string

	err := row.Scan(&inst.ID, &inst.SessionID, &inst.StageID, &status, &inst.Name,
		&itemsJSON, &contextJSON, &deliverablesJSON, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan stage instance: %w", err)
	}

	parsed, err := ParseStageStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan stage instance: %w", err)
	}
	inst.Status = parsed

	inst.CompletedItems, err = unmarshalStrings(itemsJSON)
	if err != nil {
		return nil, err
	}
	inst.Context, err = unmarshalMap(contextJSON)
	if err != nil {
		return nil, err
	}
	inst.Deliverables, err = unmarshalMap(deliverablesJSON)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
