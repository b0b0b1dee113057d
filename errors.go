package flowsession

import (
	"errors"
	"fmt"

	"github.com/davidroman0O/flowsession/store"
)

// Sentinel errors for lookups that fail to resolve. They wrap nothing and
// are matched with errors.Is.
var (
	// ErrWorkflowNotFound means a workflow reference could not be resolved
	// against the definition registry at session creation.
	ErrWorkflowNotFound = errors.New("flowsession: workflow not found")

	// ErrSessionNotFound means an unknown session id was passed to an
	// operation.
	ErrSessionNotFound = errors.New("flowsession: session not found")

	// ErrStageInstanceNotFound means an unknown stage-instance id was
	// passed to an operation.
	ErrStageInstanceNotFound = errors.New("flowsession: stage instance not found")

	// ErrNoCurrentSession means no session currently carries the current
	// flag.
	ErrNoCurrentSession = errors.New("flowsession: no current session")

	// ErrUnknownStage means a stage id is not declared by the session's
	// workflow definition.
	ErrUnknownStage = errors.New("flowsession: stage not declared by workflow")
)

// InvalidTransitionError is returned when a lifecycle operation is not
// permitted from the entity's current state. The entity's state is left
// unchanged.
type InvalidTransitionError struct {
	Entity string // "session" or "stage instance"
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("flowsession: invalid %s transition %s -> %s (%s)", e.Entity, e.From, e.To, e.ID)
}

// InvalidChecklistItemError is returned when a completed-item id is not
// declared by the stage of the targeted instance.
type InvalidChecklistItemError struct {
	InstanceID string
	StageID    string
	ItemID     string
}

func (e *InvalidChecklistItemError) Error() string {
	return fmt.Sprintf("flowsession: checklist item %q not declared by stage %s (instance %s)", e.ItemID, e.StageID, e.InstanceID)
}

// sessionErr maps store-level not-found errors onto the session taxonomy.
func sessionErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// instanceErr maps store-level not-found errors onto the stage-instance
// taxonomy.
func instanceErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrStageInstanceNotFound
	}
	return err
}
