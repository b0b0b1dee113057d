package flowsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidroman0O/flowsession/definition"
	"github.com/davidroman0O/flowsession/store"
)

// Engine is the session-level manager: CRUD, the lifecycle state machine,
// context handling, and current-session switching. It composes the
// stage-instance manager and the next-stage resolver, which are reachable
// through Instances and Resolver.
//
// Every public operation is a single logical command: either it commits
// fully or it leaves state unchanged.
type Engine struct {
	sessions  *store.SessionStore
	instances *store.InstanceStore
	defs      *definition.Registry

	instanceMgr *InstanceManager
	resolver    *Resolver

	logger    Logger
	publisher Publisher
	metrics   *Metrics
	tracer    trace.Tracer
}

// Option is a function that configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine and its sub-managers.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPublisher sets the event publisher. The engine publishes one-way
// session lifecycle events through it; nothing subscribes by default.
func WithPublisher(publisher Publisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithMetrics attaches Prometheus collectors to the engine.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithTracer overrides the OpenTelemetry tracer used for engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates a session engine on top of an open store database and
// a definition registry.
func NewEngine(db *store.DB, defs *definition.Registry, opts ...Option) *Engine {
	e := &Engine{
		sessions:  store.NewSessionStore(db),
		instances: store.NewInstanceStore(db),
		defs:      defs,
		logger:    NewDefaultLogger(),
		tracer:    otel.Tracer("flowsession"),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.instanceMgr = &InstanceManager{
		sessions:  e.sessions,
		instances: e.instances,
		defs:      e.defs,
		logger:    e.logger,
		metrics:   e.metrics,
	}
	e.resolver = &Resolver{
		sessions:  e.sessions,
		instances: e.instances,
		defs:      e.defs,
		mgr:       e.instanceMgr,
	}
	return e
}

// Instances returns the stage-instance manager bound to this engine.
func (e *Engine) Instances() *InstanceManager {
	return e.instanceMgr
}

// Resolver returns the next-stage resolver bound to this engine.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// CreateSession resolves the workflow reference, creates a session in the
// created state, and makes it the current session. The reference is
// matched by exact id, exact name, then fuzzy substring, in that order.
// An empty name defaults to the workflow's name.
func (e *Engine) CreateSession(ctx context.Context, workflowRef, name, taskID string) (*store.Session, error) {
	ctx, span := e.tracer.Start(ctx, "CreateSession",
		trace.WithAttributes(attribute.String("workflow.ref", workflowRef)))
	defer span.End()

	def, err := e.defs.Resolve(workflowRef)
	if err != nil {
		if errors.Is(err, definition.ErrNotFound) {
			e.metrics.observeError("create_session")
			return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, workflowRef)
		}
		return nil, err
	}

	if name == "" {
		name = def.Name
	}

	sess := &store.Session{
		ID:         uuid.New().String(),
		WorkflowID: def.ID,
		Name:       name,
		Status:     store.SessionCreated,
		Context:    map[string]any{},
		TaskID:     taskID,
	}
	if err := e.sessions.CreateCurrent(ctx, sess); err != nil {
		e.metrics.observeError("create_session")
		return nil, err
	}

	e.metrics.observeSessionTransition(string(store.SessionCreated))
	e.publish(Event{Type: EventSessionSwitched, SessionID: sess.ID})
	e.logger.Info("Created session %s for workflow %s", sess.ID, def.ID)
	return sess, nil
}

// GetSession fetches a session by id.
func (e *Engine) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("get_session")
		return nil, sessionErr(err)
	}
	return sess, nil
}

// ListSessions returns sessions matching the filter, newest first. The
// zero filter lists everything.
func (e *Engine) ListSessions(ctx context.Context, filter store.SessionFilter) ([]*store.Session, error) {
	sessions, err := e.sessions.List(ctx, filter)
	if err != nil {
		e.metrics.observeError("list_sessions")
		return nil, err
	}
	return sessions, nil
}

// SessionUpdate is a partial update to a session's mutable fields. Nil
// fields are left untouched.
type SessionUpdate struct {
	Name   *string
	TaskID *string
}

// UpdateSession applies a partial update to a session.
func (e *Engine) UpdateSession(ctx context.Context, id string, update SessionUpdate) (*store.Session, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("update_session")
		return nil, sessionErr(err)
	}

	if update.Name != nil {
		sess.Name = *update.Name
	}
	if update.TaskID != nil {
		sess.TaskID = *update.TaskID
	}

	if err := e.sessions.Update(ctx, sess); err != nil {
		e.metrics.observeError("update_session")
		return nil, sessionErr(err)
	}
	return sess, nil
}

// DeleteSession removes a session and, in the same transaction, all of its
// stage instances. Deleting the current session clears the current-session
// pointer because the pointer is the session row's own flag.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	ctx, span := e.tracer.Start(ctx, "DeleteSession",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	deleted, err := e.sessions.Delete(ctx, id)
	if err != nil {
		e.metrics.observeError("delete_session")
		return err
	}
	if !deleted {
		e.metrics.observeError("delete_session")
		return ErrSessionNotFound
	}

	e.publish(Event{Type: EventSessionDeleted, SessionID: id})
	e.logger.Info("Deleted session %s", id)
	return nil
}

// SwitchSession makes the given session the current one. The previous
// current session loses the flag in the same transaction, so at most one
// session is ever current.
func (e *Engine) SwitchSession(ctx context.Context, id string) (*store.Session, error) {
	ctx, span := e.tracer.Start(ctx, "SwitchSession",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	if err := e.sessions.SetCurrent(ctx, id); err != nil {
		e.metrics.observeError("switch_session")
		return nil, sessionErr(err)
	}

	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("switch_session")
		return nil, sessionErr(err)
	}

	e.publish(Event{Type: EventSessionSwitched, SessionID: id})
	e.logger.Debug("Switched current session to %s", id)
	return sess, nil
}

// GetCurrentSession returns the session carrying the current flag, or
// ErrNoCurrentSession when there is none.
func (e *Engine) GetCurrentSession(ctx context.Context) (*store.Session, error) {
	sess, err := e.sessions.Current(ctx)
	if err != nil {
		e.metrics.observeError("get_current_session")
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoCurrentSession
		}
		return nil, err
	}
	return sess, nil
}

// GetSessionContext returns the session's context map.
func (e *Engine) GetSessionContext(ctx context.Context, id string) (map[string]any, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("get_session_context")
		return nil, sessionErr(err)
	}
	return sess.Context, nil
}

// UpdateSessionContext recursively merges the partial map into the
// session's context and returns the merged result.
func (e *Engine) UpdateSessionContext(ctx context.Context, id string, partial map[string]any) (map[string]any, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("update_session_context")
		return nil, sessionErr(err)
	}

	sess.Context = MergeMaps(sess.Context, partial)
	if err := e.sessions.Update(ctx, sess); err != nil {
		e.metrics.observeError("update_session_context")
		return nil, sessionErr(err)
	}
	return sess.Context, nil
}

// ClearSessionContext resets the session's context to an empty map.
func (e *Engine) ClearSessionContext(ctx context.Context, id string) error {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("clear_session_context")
		return sessionErr(err)
	}

	sess.Context = map[string]any{}
	if err := e.sessions.Update(ctx, sess); err != nil {
		e.metrics.observeError("clear_session_context")
		return sessionErr(err)
	}
	return nil
}

// SetCurrentStage points the session at one of its workflow's declared
// stages. Stage ids outside the workflow are rejected with ErrUnknownStage.
func (e *Engine) SetCurrentStage(ctx context.Context, id, stageID string) (*store.Session, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("set_current_stage")
		return nil, sessionErr(err)
	}

	def, err := e.defs.Get(sess.WorkflowID)
	if err != nil {
		e.metrics.observeError("set_current_stage")
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, sess.WorkflowID)
	}
	if _, ok := def.Stage(stageID); !ok {
		e.metrics.observeError("set_current_stage")
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stageID)
	}

	sess.CurrentStageID = stageID
	if err := e.sessions.Update(ctx, sess); err != nil {
		e.metrics.observeError("set_current_stage")
		return nil, sessionErr(err)
	}
	return sess, nil
}

// GetSessionStages returns the ordered stage declarations of the session's
// workflow.
func (e *Engine) GetSessionStages(ctx context.Context, id string) ([]definition.Stage, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("get_session_stages")
		return nil, sessionErr(err)
	}

	stages, err := e.defs.Stages(sess.WorkflowID)
	if err != nil {
		e.metrics.observeError("get_session_stages")
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, sess.WorkflowID)
	}
	return stages, nil
}

// GetSessionFirstStage returns the first stage declared by the session's
// workflow.
func (e *Engine) GetSessionFirstStage(ctx context.Context, id string) (definition.Stage, error) {
	stages, err := e.GetSessionStages(ctx, id)
	if err != nil {
		return definition.Stage{}, err
	}
	if len(stages) == 0 {
		e.metrics.observeError("get_session_first_stage")
		return definition.Stage{}, fmt.Errorf("workflow for session %s declares no stages", id)
	}
	return stages[0], nil
}

// GetSessionProgress aggregates stage completion across the session: how
// many declared stages have a completed instance, which stage is active,
// and the overall percentage rounded to two decimals.
func (e *Engine) GetSessionProgress(ctx context.Context, id string) (*SessionProgress, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("get_session_progress")
		return nil, sessionErr(err)
	}

	stages, err := e.defs.Stages(sess.WorkflowID)
	if err != nil {
		e.metrics.observeError("get_session_progress")
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, sess.WorkflowID)
	}

	all, err := e.instances.ListBySession(ctx, id)
	if err != nil {
		e.metrics.observeError("get_session_progress")
		return nil, err
	}

	completed := map[string]bool{}
	for _, inst := range all {
		if inst.Status == store.StageCompleted {
			completed[inst.StageID] = true
		}
	}

	progress := &SessionProgress{
		SessionID:   id,
		WorkflowID:  sess.WorkflowID,
		TotalStages: len(stages),
	}
	for _, st := range stages {
		if completed[st.ID] {
			progress.CompletedStages++
		}
	}
	if active := latestActiveInstance(all); active != nil {
		progress.ActiveStageID = active.StageID
	}
	if progress.TotalStages > 0 {
		progress.ProgressPercentage = roundPercentage(float64(progress.CompletedStages) / float64(progress.TotalStages) * 100)
	}
	return progress, nil
}

// GetNextStages returns the stages eligible to run next. An empty
// currentInstanceID lets the resolver pick the active instance itself.
func (e *Engine) GetNextStages(ctx context.Context, sessionID, currentInstanceID string) (*NextStagesReport, error) {
	ctx, span := e.tracer.Start(ctx, "GetNextStages",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	report, err := e.resolver.NextStages(ctx, sessionID, currentInstanceID)
	if err != nil {
		e.metrics.observeError("get_next_stages")
		return nil, err
	}
	return report, nil
}

// publish delivers an event to the configured publisher, if any. Events
// flow one way: subscribers must never call back into the engine.
func (e *Engine) publish(event Event) {
	if e.publisher == nil {
		return
	}
	event.At = time.Now()
	e.publisher.Publish(event)
}
