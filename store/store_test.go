package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Re-opening an existing database re-runs the schema without error.
	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestSessionCRUD(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	sess := &Session{
		ID:         "s1",
		WorkflowID: "dev",
		Name:       "feature",
		Status:     SessionCreated,
		Context:    map[string]any{"k": "v"},
		TaskID:     "TASK-1",
	}
	require.NoError(t, sessions.Create(ctx, sess))
	assert.NotZero(t, sess.CreatedAt)

	got, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "dev", got.WorkflowID)
	assert.Equal(t, SessionCreated, got.Status)
	assert.Equal(t, "v", got.Context["k"])
	assert.Equal(t, "TASK-1", got.TaskID)
	assert.Empty(t, got.CurrentStageID)
	assert.False(t, got.IsCurrent)

	got.Status = SessionActive
	got.CurrentStageID = "analyze"
	require.NoError(t, sessions.Update(ctx, got))

	got, err = sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, SessionActive, got.Status)
	assert.Equal(t, "analyze", got.CurrentStageID)

	deleted, err := sessions.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = sessions.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = sessions.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSessionUpdateMissing(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)

	err := sessions.Update(context.Background(), &Session{ID: "ghost", Status: SessionActive})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionListFilters(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &Session{ID: "s1", WorkflowID: "dev", Name: "a", Status: SessionActive}))
	require.NoError(t, sessions.Create(ctx, &Session{ID: "s2", WorkflowID: "dev", Name: "b", Status: SessionCreated}))
	require.NoError(t, sessions.Create(ctx, &Session{ID: "s3", WorkflowID: "ops", Name: "c", Status: SessionActive}))

	all, err := sessions.List(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := sessions.List(ctx, SessionFilter{Status: SessionActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	dev, err := sessions.List(ctx, SessionFilter{WorkflowID: "dev"})
	require.NoError(t, err)
	assert.Len(t, dev, 2)

	devActive, err := sessions.List(ctx, SessionFilter{Status: SessionActive, WorkflowID: "dev"})
	require.NoError(t, err)
	require.Len(t, devActive, 1)
	assert.Equal(t, "s1", devActive[0].ID)
}

func TestCreateCurrentIsAtomic(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	first := &Session{ID: "s1", WorkflowID: "dev", Name: "a", Status: SessionCreated}
	require.NoError(t, sessions.CreateCurrent(ctx, first))
	assert.True(t, first.IsCurrent)

	second := &Session{ID: "s2", WorkflowID: "dev", Name: "b", Status: SessionCreated}
	require.NoError(t, sessions.CreateCurrent(ctx, second))

	current, err := sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", current.ID)

	all, err := sessions.List(ctx, SessionFilter{})
	require.NoError(t, err)
	flagged := 0
	for _, sess := range all {
		if sess.IsCurrent {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)

	// A rejected insert rolls the whole command back: no partial row, and
	// the existing current flag survives.
	dup := &Session{ID: "s2", WorkflowID: "dev", Name: "dup", Status: SessionCreated}
	require.Error(t, sessions.CreateCurrent(ctx, dup))

	current, err = sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", current.ID)

	all, err = sessions.List(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetCurrentKeepsSingleFlag(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &Session{ID: "s1", WorkflowID: "dev", Name: "a", Status: SessionCreated}))
	require.NoError(t, sessions.Create(ctx, &Session{ID: "s2", WorkflowID: "dev", Name: "b", Status: SessionCreated}))

	require.NoError(t, sessions.SetCurrent(ctx, "s1"))
	require.NoError(t, sessions.SetCurrent(ctx, "s2"))

	current, err := sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", current.ID)

	all, err := sessions.List(ctx, SessionFilter{})
	require.NoError(t, err)
	flagged := 0
	for _, sess := range all {
		if sess.IsCurrent {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)

	assert.ErrorIs(t, sessions.SetCurrent(ctx, "ghost"), ErrNotFound)

	// The failed switch must not have cleared the existing flag.
	current, err = sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", current.ID)
}

func TestCurrentWithoutFlag(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)

	_, err := sessions.Current(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCascadesInstances(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	instances := NewInstanceStore(db)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &Session{ID: "s1", WorkflowID: "dev", Name: "a", Status: SessionCreated}))
	require.NoError(t, instances.Create(ctx, &StageInstance{
		ID: "i1", SessionID: "s1", StageID: "analyze", Status: StagePending, Name: "Analyze",
	}))
	require.NoError(t, instances.Create(ctx, &StageInstance{
		ID: "i2", SessionID: "s1", StageID: "design", Status: StagePending, Name: "Design",
	}))

	deleted, err := sessions.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	left, err := instances.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestInstanceCRUD(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	instances := NewInstanceStore(db)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &Session{ID: "s1", WorkflowID: "dev", Name: "a", Status: SessionCreated}))

	inst := &StageInstance{
		ID:             "i1",
		SessionID:      "s1",
		StageID:        "analyze",
		Status:         StagePending,
		Name:           "Analyze",
		CompletedItems: []string{"requirements"},
		Context:        map[string]any{"k": "v"},
		Deliverables:   map[string]any{"analysis.md": "pending"},
	}
	require.NoError(t, instances.Create(ctx, inst))

	got, err := instances.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, StagePending, got.Status)
	assert.Equal(t, []string{"requirements"}, got.CompletedItems)
	assert.Equal(t, "v", got.Context["k"])
	assert.Equal(t, "pending", got.Deliverables["analysis.md"])

	got.Status = StageActive
	got.CompletedItems = append(got.CompletedItems, "constraints")
	require.NoError(t, instances.Update(ctx, got))

	got, err = instances.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, StageActive, got.Status)
	assert.Len(t, got.CompletedItems, 2)

	_, err = instances.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, instances.Update(ctx, &StageInstance{ID: "ghost", Status: StagePending}), ErrNotFound)
}

func TestInstanceListOrdering(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	instances := NewInstanceStore(db)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &Session{ID: "s1", WorkflowID: "dev", Name: "a", Status: SessionCreated}))
	for _, id := range []string{"i1", "i2", "i3"} {
		require.NoError(t, instances.Create(ctx, &StageInstance{
			ID: id, SessionID: "s1", StageID: "analyze", Status: StagePending, Name: "Analyze",
		}))
	}

	all, err := instances.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Equal timestamps fall back to id order, so listing is stable.
	assert.Equal(t, "i1", all[0].ID)
	assert.Equal(t, "i3", all[2].ID)
}

func TestInstanceListByStatus(t *testing.T) {
	db := openTestDB(t)
	sessions := NewSessionStore(db)
	instances := NewInstanceStore(db)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &Session{ID: "s1", WorkflowID: "dev", Name: "a", Status: SessionCreated}))
	require.NoError(t, instances.Create(ctx, &StageInstance{ID: "i1", SessionID: "s1", StageID: "analyze", Status: StageCompleted, Name: "Analyze"}))
	require.NoError(t, instances.Create(ctx, &StageInstance{ID: "i2", SessionID: "s1", StageID: "design", Status: StageActive, Name: "Design"}))

	active, err := instances.ListByStatus(ctx, "s1", StageActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "i2", active[0].ID)
}

func TestStatusParsing(t *testing.T) {
	status, err := ParseSessionStatus("active")
	require.NoError(t, err)
	assert.Equal(t, SessionActive, status)
	assert.False(t, status.Terminal())

	_, err = ParseSessionStatus("ACTIVE")
	assert.Error(t, err, "statuses are case-sensitive lower-case strings")
	_, err = ParseSessionStatus("bogus")
	assert.Error(t, err)

	for _, terminal := range []SessionStatus{SessionCompleted, SessionClosed, SessionError} {
		assert.True(t, terminal.Terminal())
	}

	stage, err := ParseStageStatus("failed")
	require.NoError(t, err)
	assert.True(t, stage.Terminal())
	_, err = ParseStageStatus("running")
	assert.Error(t, err)
}
