package flowsession

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/flowsession/store"
)

func TestCreateInstanceValidatesSessionAndStage(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)

	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "analyze", "")
	require.NoError(t, err)
	assert.Equal(t, store.StagePending, inst.Status)
	assert.Equal(t, "Analyze", inst.Name, "name defaults to the declared stage name")
	assert.Empty(t, inst.CompletedItems)

	_, err = engine.Instances().CreateInstance(ctx, "missing", "analyze", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = engine.Instances().CreateInstance(ctx, sess.ID, "deploy", "")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestInstanceLifecycle(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)
	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "analyze", "")
	require.NoError(t, err)

	started, err := engine.Instances().StartInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StageActive, started.Status)

	completed, err := engine.Instances().CompleteInstance(ctx, inst.ID, map[string]any{"analysis.md": "done"})
	require.NoError(t, err)
	assert.Equal(t, store.StageCompleted, completed.Status)
	assert.Equal(t, "done", completed.Deliverables["analysis.md"])
}

func TestInstanceInvalidTransitions(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)
	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "analyze", "")
	require.NoError(t, err)

	// Completing a pending instance is not allowed.
	_, err = engine.Instances().CompleteInstance(ctx, inst.ID, nil)
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, string(store.StagePending), transitionErr.From)

	// Starting twice fails the second time.
	_, err = engine.Instances().StartInstance(ctx, inst.ID)
	require.NoError(t, err)
	_, err = engine.Instances().StartInstance(ctx, inst.ID)
	assert.ErrorAs(t, err, &transitionErr)

	// State unchanged after the rejected transition.
	got, err := engine.Instances().GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StageActive, got.Status)
}

func TestFailInstanceRecordsError(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)
	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "analyze", "")
	require.NoError(t, err)

	failed, err := engine.Instances().FailInstance(ctx, inst.ID, "tool crashed")
	require.NoError(t, err)
	assert.Equal(t, store.StageFailed, failed.Status)
	assert.Equal(t, "tool crashed", failed.Context["error"])

	// Failing a terminal instance is rejected.
	_, err = engine.Instances().FailInstance(ctx, inst.ID, "again")
	var transitionErr *InvalidTransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestAddCompletedItem(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)
	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "analyze", "")
	require.NoError(t, err)

	updated, err := engine.Instances().AddCompletedItem(ctx, inst.ID, "requirements")
	require.NoError(t, err)
	assert.Equal(t, []string{"requirements"}, updated.CompletedItems)

	// Marking the same item twice is a no-op.
	updated, err = engine.Instances().AddCompletedItem(ctx, inst.ID, "requirements")
	require.NoError(t, err)
	assert.Equal(t, []string{"requirements"}, updated.CompletedItems)

	// Undeclared items are rejected, keeping completed_items a subset of
	// the declared checklist.
	_, err = engine.Instances().AddCompletedItem(ctx, inst.ID, "ship-it")
	var itemErr *InvalidChecklistItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, "ship-it", itemErr.ItemID)

	got, err := engine.Instances().GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"requirements"}, got.CompletedItems)
}

func TestInstanceProgress(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)
	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "analyze", "")
	require.NoError(t, err)

	progress, err := engine.Instances().GetInstanceProgress(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.TotalCount)
	assert.Equal(t, 0, progress.CompletedCount)
	assert.Zero(t, progress.ProgressPercentage)

	_, err = engine.Instances().AddCompletedItem(ctx, inst.ID, "requirements")
	require.NoError(t, err)

	progress, err = engine.Instances().GetInstanceProgress(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedCount)
	assert.Equal(t, 50.0, progress.ProgressPercentage)
	require.Len(t, progress.Items, 2)
	assert.Equal(t, "completed", progress.Items[0].Status)
	assert.Equal(t, "pending", progress.Items[1].Status)
}

func TestInstanceProgressWithoutChecklist(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)
	// The implement stage declares no checklist items.
	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "implement", "")
	require.NoError(t, err)

	progress, err := engine.Instances().GetInstanceProgress(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.TotalCount)
	assert.Zero(t, progress.ProgressPercentage)
	assert.Empty(t, progress.Items)
}

func TestInstanceContextAndDeliverableMerges(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	sess, err := engine.CreateSession(ctx, "dev", "", "")
	require.NoError(t, err)
	inst, err := engine.Instances().CreateInstance(ctx, sess.ID, "analyze", "")
	require.NoError(t, err)

	_, err = engine.Instances().UpdateContext(ctx, inst.ID, map[string]any{"notes": map[string]any{"a": 1}})
	require.NoError(t, err)
	updated, err := engine.Instances().UpdateContext(ctx, inst.ID, map[string]any{"notes": map[string]any{"b": 2}})
	require.NoError(t, err)
	notes, ok := updated.Context["notes"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, notes, 2)

	// Deliverable merges are permitted regardless of status.
	failed, err := engine.Instances().FailInstance(ctx, inst.ID, "")
	require.NoError(t, err)
	assert.Equal(t, store.StageFailed, failed.Status)

	withDeliverable, err := engine.Instances().UpdateDeliverables(ctx, inst.ID, map[string]any{"analysis.md": "partial"})
	require.NoError(t, err)
	assert.Equal(t, "partial", withDeliverable.Deliverables["analysis.md"])
}

func TestInstanceOperationsOnMissingInstance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Instances().GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, ErrStageInstanceNotFound)
	_, err = engine.Instances().StartInstance(ctx, "missing")
	assert.ErrorIs(t, err, ErrStageInstanceNotFound)
	_, err = engine.Instances().GetInstanceProgress(ctx, "missing")
	assert.ErrorIs(t, err, ErrStageInstanceNotFound)
}
