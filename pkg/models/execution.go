package models

import "time"

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusCreated   ExecutionStatus = "created"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuspended ExecutionStatus = "suspended"
	ExecutionStatusEnded     ExecutionStatus = "ended"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusEnded || s == ExecutionStatusFailed
}

// ExecutionSnapshot is a read-only copy of an execution, used for inspection and history.
type ExecutionSnapshot struct {
	ID               string          `json:"id"`
	DefinitionID     string          `json:"definition_id"`
	ParentID         string          `json:"parent_id,omitempty"`
	ChildID          string          `json:"child_id,omitempty"`
	ActivityID       string          `json:"activity_id"`
	Status           ExecutionStatus `json:"status"`
	Variables        map[string]any  `json:"variables"`
	PendingMessage   string          `json:"pending_message,omitempty"`
	PendingKey       string          `json:"pending_key,omitempty"`
	FailedActivityID string          `json:"failed_activity_id,omitempty"`
	Error            string          `json:"error,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// IsWaitingAt reports whether the execution is parked at the given activity,
// either suspended on a message or blocked on a sub-process.
func (s *ExecutionSnapshot) IsWaitingAt(activityID string) bool {
	if s.ActivityID != activityID {
		return false
	}

	return s.Status == ExecutionStatusSuspended ||
		(s.Status == ExecutionStatusRunning && s.ChildID != "")
}
