package store

import "fmt"

// SessionStatus is the closed set of lifecycle states a flow session can be
// in. Values are persisted as lower-case strings and validated at the
// boundary; there are no ad hoc status strings anywhere else.
type SessionStatus string

const (
	// SessionCreated is the initial state of a freshly created session.
	SessionCreated SessionStatus = "created"
	// SessionPending marks a session that is queued but not yet started.
	SessionPending SessionStatus = "pending"
	// SessionActive means the session is currently being worked on.
	SessionActive SessionStatus = "active"
	// SessionPaused means the session was active and has been suspended.
	SessionPaused SessionStatus = "paused"
	// SessionCompleted is a terminal state for successfully finished work.
	SessionCompleted SessionStatus = "completed"
	// SessionClosed is a terminal state for force-terminated sessions.
	SessionClosed SessionStatus = "closed"
	// SessionError is a terminal state for sessions that failed.
	SessionError SessionStatus = "error"
)

// Valid reports whether s is a member of the session status enumeration.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionCreated, SessionPending, SessionActive, SessionPaused,
		SessionCompleted, SessionClosed, SessionError:
		return true
	}
	return false
}

// Terminal reports whether s is one of the states a session cannot leave
// through the normal lifecycle transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionClosed, SessionError:
		return true
	}
	return false
}

// ParseSessionStatus converts a raw string into a SessionStatus,
// rejecting anything outside the enumeration.
func ParseSessionStatus(raw string) (SessionStatus, error) {
	s := SessionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown session status %q", raw)
	}
	return s, nil
}

// StageStatus is the closed set of lifecycle states a stage instance can
// be in.
type StageStatus string

const (
	// StagePending is the initial state of a stage instance.
	StagePending StageStatus = "pending"
	// StageActive means the stage is currently being executed.
	StageActive StageStatus = "active"
	// StageCompleted is the terminal state for successfully finished stages.
	StageCompleted StageStatus = "completed"
	// StageFailed is the terminal state for stages that failed.
	StageFailed StageStatus = "failed"
)

// Valid reports whether s is a member of the stage status enumeration.
func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageActive, StageCompleted, StageFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a state a stage instance cannot leave.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// ParseStageStatus converts a raw string into a StageStatus, rejecting
// anything outside the enumeration.
func ParseStageStatus(raw string) (StageStatus, error) {
	s := StageStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage status %q", raw)
	}
	return s, nil
}
