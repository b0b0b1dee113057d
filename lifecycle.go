package flowsession

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidroman0O/flowsession/store"
)

// Session state machine:
//
//	created/pending -> active -> paused <-> active -> completed | closed | error
//
// completed, closed, and error are terminal for the normal transitions.
// Close alone is unconditional and may re-close an already terminal
// session; callers rely on close as a force-terminate.

// closeReasonKey is the reserved session-context key the close reason is
// recorded under.
const closeReasonKey = "close_reason"

// StartSession moves a created or pending session to active.
func (e *Engine) StartSession(ctx context.Context, id string) (*store.Session, error) {
	return e.transition(ctx, id, store.SessionActive, func(from store.SessionStatus) bool {
		return from == store.SessionCreated || from == store.SessionPending
	})
}

// PauseSession suspends an active session.
func (e *Engine) PauseSession(ctx context.Context, id string) (*store.Session, error) {
	return e.transition(ctx, id, store.SessionPaused, func(from store.SessionStatus) bool {
		return from == store.SessionActive
	})
}

// ResumeSession reactivates a paused session.
func (e *Engine) ResumeSession(ctx context.Context, id string) (*store.Session, error) {
	return e.transition(ctx, id, store.SessionActive, func(from store.SessionStatus) bool {
		return from == store.SessionPaused
	})
}

// CompleteSession marks a session completed from any non-terminal state.
func (e *Engine) CompleteSession(ctx context.Context, id string) (*store.Session, error) {
	return e.transition(ctx, id, store.SessionCompleted, func(from store.SessionStatus) bool {
		return !from.Terminal()
	})
}

// CloseSession force-terminates a session from any state, recording the
// optional reason in the session context.
func (e *Engine) CloseSession(ctx context.Context, id, reason string) (*store.Session, error) {
	ctx, span := e.tracer.Start(ctx, "CloseSession",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("close_session")
		return nil, sessionErr(err)
	}

	sess.Status = store.SessionClosed
	if reason != "" {
		sess.Context = MergeMaps(sess.Context, map[string]any{closeReasonKey: reason})
	}
	if err := e.sessions.Update(ctx, sess); err != nil {
		e.metrics.observeError("close_session")
		return nil, sessionErr(err)
	}

	e.metrics.observeSessionTransition(string(store.SessionClosed))
	e.publish(Event{Type: EventSessionClosed, SessionID: id, Reason: reason})
	e.logger.Info("Closed session %s", id)
	return sess, nil
}

// transition loads the session, checks the requested move against the
// allowed predicate, and persists the new status. An invalid move returns
// InvalidTransitionError and leaves the record untouched.
func (e *Engine) transition(ctx context.Context, id string, to store.SessionStatus, allowed func(store.SessionStatus) bool) (*store.Session, error) {
	ctx, span := e.tracer.Start(ctx, "SessionTransition",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("session.to", string(to)),
		))
	defer span.End()

	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		e.metrics.observeError("session_transition")
		return nil, sessionErr(err)
	}

	if !allowed(sess.Status) {
		e.metrics.observeError("session_transition")
		return nil, &InvalidTransitionError{
			Entity: "session",
			ID:     id,
			From:   string(sess.Status),
			To:     string(to),
		}
	}

	sess.Status = to
	if err := e.sessions.Update(ctx, sess); err != nil {
		e.metrics.observeError("session_transition")
		return nil, sessionErr(err)
	}

	e.metrics.observeSessionTransition(string(to))
	e.logger.Debug("Session %s -> %s", id, to)
	return sess, nil
}
