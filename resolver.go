package flowsession

import (
	"context"
	"fmt"

	"github.com/davidroman0O/flowsession/definition"
	"github.com/davidroman0O/flowsession/store"
)

// Resolver answers "what next" queries against the dependency graph
// declared by a session's workflow. A stage is eligible when every one of
// its declared dependency stages has a completed instance; stages without
// dependencies are eligible as soon as they are neither completed nor
// active. Eligibility is recomputed from the store on every call, which is
// fine at this scale.
type Resolver struct {
	sessions  *store.SessionStore
	instances *store.InstanceStore
	defs      *definition.Registry
	mgr       *InstanceManager
}

// NextStages resolves the eligible next stages for a session, returned in
// the workflow's declared order. When currentInstanceID is non-empty that
// instance is treated as the active one; otherwise the resolver picks the
// most recently created active instance (ties broken by the greater
// instance id, so the choice is deterministic).
//
// A session with zero stage instances yields every dependency-free stage.
func (r *Resolver) NextStages(ctx context.Context, sessionID, currentInstanceID string) (*NextStagesReport, error) {
	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, sessionErr(err)
	}

	def, err := r.defs.Get(sess.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, sess.WorkflowID)
	}

	all, err := r.instances.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	completed := map[string]bool{}
	for _, inst := range all {
		if inst.Status == store.StageCompleted {
			completed[inst.StageID] = true
		}
	}

	var active *store.StageInstance
	if currentInstanceID != "" {
		active, err = r.instances.Get(ctx, currentInstanceID)
		if err != nil {
			return nil, instanceErr(err)
		}
		if active.SessionID != sessionID {
			return nil, fmt.Errorf("%w: %q does not belong to session %s", ErrStageInstanceNotFound, currentInstanceID, sessionID)
		}
	} else {
		active = latestActiveInstance(all)
	}

	report := &NextStagesReport{
		SessionID: sessionID,
		Eligible:  []NextStage{},
	}

	if active != nil {
		summary := &CurrentStageSummary{
			InstanceID: active.ID,
			StageID:    active.StageID,
			Name:       active.Name,
			Status:     active.Status,
		}
		progress, err := r.mgr.progressFor(ctx, active)
		if err != nil {
			return nil, err
		}
		summary.Progress = progress
		report.Current = summary
	}

	activeStageID := ""
	if active != nil {
		activeStageID = active.StageID
	}

	for _, st := range def.Stages {
		if completed[st.ID] || st.ID == activeStageID {
			continue
		}
		if !dependenciesSatisfied(st, completed) {
			continue
		}
		report.Eligible = append(report.Eligible, NextStage{
			ID:           st.ID,
			Name:         st.Name,
			Description:  st.Description,
			Dependencies: dependencyNames(def, st),
			Invocation:   fmt.Sprintf("flowsession stage start %s --session %s", st.ID, sessionID),
		})
	}
	return report, nil
}

// dependenciesSatisfied reports whether every declared dependency of the
// stage is in the completed set.
func dependenciesSatisfied(st definition.Stage, completed map[string]bool) bool {
	for _, dep := range st.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// dependencyNames maps a stage's dependency ids to the declared names of
// those stages, falling back to the raw id when a name is missing.
func dependencyNames(def *definition.Definition, st definition.Stage) []string {
	if len(st.Dependencies) == 0 {
		return nil
	}
	names := make([]string, 0, len(st.Dependencies))
	for _, dep := range st.Dependencies {
		if depStage, ok := def.Stage(dep); ok && depStage.Name != "" {
			names = append(names, depStage.Name)
			continue
		}
		names = append(names, dep)
	}
	return names
}

// latestActiveInstance picks the active instance with the highest creation
// timestamp; ties fall back to the lexicographically greater instance id.
// Returns nil when no instance is active.
func latestActiveInstance(all []*store.StageInstance) *store.StageInstance {
	var latest *store.StageInstance
	for _, inst := range all {
		if inst.Status != store.StageActive {
			continue
		}
		if latest == nil ||
			inst.CreatedAt > latest.CreatedAt ||
			(inst.CreatedAt == latest.CreatedAt && inst.ID > latest.ID) {
			latest = inst
		}
	}
	return latest
}
