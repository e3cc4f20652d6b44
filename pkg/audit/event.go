// Package audit records what each optimizer run changed.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/fibopt/pkg/prefixlist"
)

// Operation names
const (
	OpRun     = "run"     // lists reconciled and persisted
	OpInstall = "install" // list pushed to the device
	OpPurge   = "purge"   // analytics retention purge
	OpAbort   = "abort"   // run stopped before completion
)

// Event represents one auditable step of a run
type Event struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	RunID     string              `json:"run_id"`
	Operation string              `json:"operation"`
	Class     string              `json:"class,omitempty"`
	State     string              `json:"state,omitempty"`
	Window    string              `json:"window,omitempty"`
	Changes   []prefixlist.Change `json:"changes,omitempty"`
	Summary   *prefixlist.Summary `json:"summary,omitempty"`
	Success   bool                `json:"success"`
	Error     string              `json:"error,omitempty"`
	DryRun    bool                `json:"dry_run"`
	Duration  time.Duration       `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	RunID       string
	Operation   string
	Class       string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(runID, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		RunID:     runID,
		Operation: operation,
	}
}

// WithClass sets the prefix class
func (e *Event) WithClass(class prefixlist.Class) *Event {
	e.Class = class.String()
	return e
}

// WithState records the state a run was in
func (e *Event) WithState(state string) *Event {
	e.State = state
	return e
}

// WithWindow records the analytics window
func (e *Event) WithWindow(w string) *Event {
	e.Window = w
	return e
}

// WithChanges sets the list changes and their summary
func (e *Event) WithChanges(old, new prefixlist.List) *Event {
	e.Changes = prefixlist.Diff(old, new)
	s := prefixlist.Summarize(old, new)
	e.Summary = &s
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithDryRun marks an event produced without side effects
func (e *Event) WithDryRun(dryRun bool) *Event {
	e.DryRun = dryRun
	return e
}
