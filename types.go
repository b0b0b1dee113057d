package flowsession

import (
	"time"

	"github.com/davidroman0O/flowsession/store"
)

// ChecklistProgressItem is one checklist entry annotated with its
// completion state.
type ChecklistProgressItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"` // "completed" or "pending"
}

// InstanceProgress summarizes how far a stage instance has worked through
// its stage's declared checklist. ProgressPercentage is rounded to two
// decimals and is 0 when the stage declares no checklist items.
type InstanceProgress struct {
	Items              []ChecklistProgressItem `json:"items"`
	TotalCount         int                     `json:"totalCount"`
	CompletedCount     int                     `json:"completedCount"`
	ProgressPercentage float64                 `json:"progressPercentage"`
}

// SessionProgress aggregates stage completion across a whole session.
type SessionProgress struct {
	SessionID          string  `json:"sessionId"`
	WorkflowID         string  `json:"workflowId"`
	TotalStages        int     `json:"totalStages"`
	CompletedStages    int     `json:"completedStages"`
	ActiveStageID      string  `json:"activeStageId,omitempty"`
	ProgressPercentage float64 `json:"progressPercentage"`
}

// NextStage is one stage eligible to run next, annotated with the names of
// its declared dependencies and a suggested invocation descriptor.
type NextStage struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Invocation   string   `json:"invocation"`
}

// CurrentStageSummary describes the stage instance currently active in a
// session, including its checklist progress.
type CurrentStageSummary struct {
	InstanceID string            `json:"instanceId"`
	StageID    string            `json:"stageId"`
	Name       string            `json:"name"`
	Status     store.StageStatus `json:"status"`
	Progress   *InstanceProgress `json:"progress,omitempty"`
}

// NextStagesReport is the resolver's answer to a "what next" query:
// the stages whose dependencies are all satisfied, in the workflow's
// declared order, plus a summary of the active stage if there is one.
type NextStagesReport struct {
	SessionID string               `json:"sessionId"`
	Current   *CurrentStageSummary `json:"current,omitempty"`
	Eligible  []NextStage          `json:"eligible"`
}

// EventType names the one-way notifications the engine publishes.
type EventType string

const (
	// EventSessionSwitched fires when a session becomes the current one.
	EventSessionSwitched EventType = "session.switched"
	// EventSessionClosed fires when a session is force-terminated.
	EventSessionClosed EventType = "session.closed"
	// EventSessionDeleted fires when a session is removed from the store.
	EventSessionDeleted EventType = "session.deleted"
)

// Event is a one-way notification about a session lifecycle change.
// Components that link sessions to external tasks subscribe to these
// instead of being called back directly.
type Event struct {
	Type      EventType
	SessionID string
	Reason    string
	At        time.Time
}

// Publisher receives engine events. Implementations must not call back
// into the engine from Publish.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc is a function adapter for Publisher.
type PublisherFunc func(event Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(event Event) { f(event) }
