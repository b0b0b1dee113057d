package flowsession

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/davidroman0O/flowsession/definition"
	"github.com/davidroman0O/flowsession/store"
)

// InstanceManager handles stage-level lifecycle operations within a
// session: creating instances, moving them through their state machine,
// tracking checklist completion, and merging context and deliverables.
//
// Stage state machine:
//
//	pending -> active -> completed | failed
//
// completed and failed are terminal. Context and deliverable merges are
// permitted regardless of status.
type InstanceManager struct {
	sessions  *store.SessionStore
	instances *store.InstanceStore
	defs      *definition.Registry
	logger    Logger
	metrics   *Metrics
}

// CreateInstance creates a pending stage instance for the given session
// and stage. The stage must be declared by the session's workflow; an
// empty name defaults to the stage's declared name.
func (m *InstanceManager) CreateInstance(ctx context.Context, sessionID, stageID, name string) (*store.StageInstance, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		m.metrics.observeError("create_instance")
		return nil, sessionErr(err)
	}

	def, err := m.defs.Get(sess.WorkflowID)
	if err != nil {
		m.metrics.observeError("create_instance")
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, sess.WorkflowID)
	}
	stage, ok := def.Stage(stageID)
	if !ok {
		m.metrics.observeError("create_instance")
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stageID)
	}

	if name == "" {
		name = stage.Name
	}

	inst := &store.StageInstance{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		StageID:        stageID,
		Status:         store.StagePending,
		Name:           name,
		CompletedItems: []string{},
		Context:        map[string]any{},
		Deliverables:   map[string]any{},
	}
	if err := m.instances.Create(ctx, inst); err != nil {
		m.metrics.observeError("create_instance")
		return nil, err
	}

	m.metrics.observeStageTransition(string(store.StagePending))
	m.logger.Debug("Created stage instance %s (%s) in session %s", inst.ID, stageID, sessionID)
	return inst, nil
}

// GetInstance fetches a stage instance by id.
func (m *InstanceManager) GetInstance(ctx context.Context, id string) (*store.StageInstance, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("get_instance")
		return nil, instanceErr(err)
	}
	return inst, nil
}

// ListInstances returns all stage instances owned by a session in creation
// order.
func (m *InstanceManager) ListInstances(ctx context.Context, sessionID string) ([]*store.StageInstance, error) {
	instances, err := m.instances.ListBySession(ctx, sessionID)
	if err != nil {
		m.metrics.observeError("list_instances")
		return nil, err
	}
	return instances, nil
}

// StartInstance moves a pending instance to active.
func (m *InstanceManager) StartInstance(ctx context.Context, id string) (*store.StageInstance, error) {
	return m.transition(ctx, id, store.StageActive, func(from store.StageStatus) bool {
		return from == store.StagePending
	})
}

// CompleteInstance moves an active instance to completed, merging any
// supplied deliverables into the instance's deliverable map first.
func (m *InstanceManager) CompleteInstance(ctx context.Context, id string, deliverables map[string]any) (*store.StageInstance, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("complete_instance")
		return nil, instanceErr(err)
	}

	if inst.Status != store.StageActive {
		m.metrics.observeError("complete_instance")
		return nil, &InvalidTransitionError{
			Entity: "stage instance",
			ID:     id,
			From:   string(inst.Status),
			To:     string(store.StageCompleted),
		}
	}

	if len(deliverables) > 0 {
		inst.Deliverables = MergeMaps(inst.Deliverables, deliverables)
	}
	inst.Status = store.StageCompleted
	if err := m.instances.Update(ctx, inst); err != nil {
		m.metrics.observeError("complete_instance")
		return nil, instanceErr(err)
	}

	m.metrics.observeStageTransition(string(store.StageCompleted))
	m.logger.Debug("Completed stage instance %s", id)
	return inst, nil
}

// FailInstance moves a non-terminal instance to failed, recording the
// failure message in the instance context.
func (m *InstanceManager) FailInstance(ctx context.Context, id, failure string) (*store.StageInstance, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("fail_instance")
		return nil, instanceErr(err)
	}

	if inst.Status.Terminal() {
		m.metrics.observeError("fail_instance")
		return nil, &InvalidTransitionError{
			Entity: "stage instance",
			ID:     id,
			From:   string(inst.Status),
			To:     string(store.StageFailed),
		}
	}

	if failure != "" {
		inst.Context = MergeMaps(inst.Context, map[string]any{"error": failure})
	}
	inst.Status = store.StageFailed
	if err := m.instances.Update(ctx, inst); err != nil {
		m.metrics.observeError("fail_instance")
		return nil, instanceErr(err)
	}

	m.metrics.observeStageTransition(string(store.StageFailed))
	m.logger.Warn("Failed stage instance %s: %s", id, failure)
	return inst, nil
}

// AddCompletedItem marks one checklist item as done. The item must be
// declared by the instance's stage; marking the same item twice is a
// no-op.
func (m *InstanceManager) AddCompletedItem(ctx context.Context, id, itemID string) (*store.StageInstance, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("add_completed_item")
		return nil, instanceErr(err)
	}

	stage, err := m.stageFor(ctx, inst)
	if err != nil {
		m.metrics.observeError("add_completed_item")
		return nil, err
	}
	if !stage.HasChecklistItem(itemID) {
		m.metrics.observeError("add_completed_item")
		return nil, &InvalidChecklistItemError{
			InstanceID: id,
			StageID:    inst.StageID,
			ItemID:     itemID,
		}
	}

	for _, done := range inst.CompletedItems {
		if done == itemID {
			return inst, nil
		}
	}

	inst.CompletedItems = append(inst.CompletedItems, itemID)
	if err := m.instances.Update(ctx, inst); err != nil {
		m.metrics.observeError("add_completed_item")
		return nil, instanceErr(err)
	}
	return inst, nil
}

// UpdateContext recursively merges the partial map into the instance's
// context. Allowed regardless of the instance's status.
func (m *InstanceManager) UpdateContext(ctx context.Context, id string, partial map[string]any) (*store.StageInstance, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("update_instance_context")
		return nil, instanceErr(err)
	}

	inst.Context = MergeMaps(inst.Context, partial)
	if err := m.instances.Update(ctx, inst); err != nil {
		m.metrics.observeError("update_instance_context")
		return nil, instanceErr(err)
	}
	return inst, nil
}

// UpdateDeliverables recursively merges the partial map into the
// instance's deliverables. Allowed regardless of the instance's status.
func (m *InstanceManager) UpdateDeliverables(ctx context.Context, id string, partial map[string]any) (*store.StageInstance, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("update_instance_deliverables")
		return nil, instanceErr(err)
	}

	inst.Deliverables = MergeMaps(inst.Deliverables, partial)
	if err := m.instances.Update(ctx, inst); err != nil {
		m.metrics.observeError("update_instance_deliverables")
		return nil, instanceErr(err)
	}
	return inst, nil
}

// GetInstanceProgress computes checklist progress for an instance from the
// stage's declared checklist and the instance's completed items. The
// percentage is rounded to two decimals and is 0 for stages without a
// checklist.
func (m *InstanceManager) GetInstanceProgress(ctx context.Context, id string) (*InstanceProgress, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("get_instance_progress")
		return nil, instanceErr(err)
	}
	return m.progressFor(ctx, inst)
}

// progressFor builds the checklist progress report for an already-loaded
// instance.
func (m *InstanceManager) progressFor(ctx context.Context, inst *store.StageInstance) (*InstanceProgress, error) {
	stage, err := m.stageFor(ctx, inst)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(inst.CompletedItems))
	for _, itemID := range inst.CompletedItems {
		done[itemID] = true
	}

	progress := &InstanceProgress{
		Items:      make([]ChecklistProgressItem, 0, len(stage.Checklist)),
		TotalCount: len(stage.Checklist),
	}
	for _, item := range stage.Checklist {
		status := "pending"
		if done[item.ID] {
			status = "completed"
			progress.CompletedCount++
		}
		progress.Items = append(progress.Items, ChecklistProgressItem{
			ID:     item.ID,
			Name:   item.Name,
			Status: status,
		})
	}
	if progress.TotalCount > 0 {
		progress.ProgressPercentage = roundPercentage(float64(progress.CompletedCount) / float64(progress.TotalCount) * 100)
	}
	return progress, nil
}

// stageFor resolves the declared stage backing an instance through its
// owning session's workflow.
func (m *InstanceManager) stageFor(ctx context.Context, inst *store.StageInstance) (definition.Stage, error) {
	sess, err := m.sessions.Get(ctx, inst.SessionID)
	if err != nil {
		return definition.Stage{}, sessionErr(err)
	}
	def, err := m.defs.Get(sess.WorkflowID)
	if err != nil {
		return definition.Stage{}, fmt.Errorf("%w: %q", ErrWorkflowNotFound, sess.WorkflowID)
	}
	stage, ok := def.Stage(inst.StageID)
	if !ok {
		return definition.Stage{}, fmt.Errorf("%w: %q", ErrUnknownStage, inst.StageID)
	}
	return stage, nil
}

// transition loads the instance, validates the requested move, and
// persists the new status.
func (m *InstanceManager) transition(ctx context.Context, id string, to store.StageStatus, allowed func(store.StageStatus) bool) (*store.StageInstance, error) {
	inst, err := m.instances.Get(ctx, id)
	if err != nil {
		m.metrics.observeError("stage_transition")
		return nil, instanceErr(err)
	}

	if !allowed(inst.Status) {
		m.metrics.observeError("stage_transition")
		return nil, &InvalidTransitionError{
			Entity: "stage instance",
			ID:     id,
			From:   string(inst.Status),
			To:     string(to),
		}
	}

	inst.Status = to
	if err := m.instances.Update(ctx, inst); err != nil {
		m.metrics.observeError("stage_transition")
		return nil, instanceErr(err)
	}

	m.metrics.observeStageTransition(string(to))
	m.logger.Debug("Stage instance %s -> %s", id, to)
	return inst, nil
}

// roundPercentage rounds to two decimal places.
func roundPercentage(v float64) float64 {
	return math.Round(v*100) / 100
}
