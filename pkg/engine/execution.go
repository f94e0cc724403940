package engine

import (
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/scope"
)

var transitions = map[models.ExecutionStatus][]models.ExecutionStatus{
	models.ExecutionStatusCreated:   {models.ExecutionStatusRunning, models.ExecutionStatusFailed},
	models.ExecutionStatusRunning:   {models.ExecutionStatusSuspended, models.ExecutionStatusEnded, models.ExecutionStatusFailed},
	models.ExecutionStatusSuspended: {models.ExecutionStatusRunning, models.ExecutionStatusFailed},
}

// Execution is one token moving through a process definition. Its fields are
// guarded by mu; drive serialises the goroutines advancing it.
type Execution struct {
	mu    sync.Mutex
	drive sync.Mutex

	id         string
	definition *models.ProcessDefinition
	scope      *scope.Scope
	parentID   string

	activityID       string
	status           models.ExecutionStatus
	childID          string
	pendingMessage   string
	pendingKey       string
	failedActivityID string
	err              error
	startedAt        time.Time
	finishedAt       *time.Time
}

func newExecution(id string, definition *models.ProcessDefinition, vars *scope.Scope, parentID, startActivity string, now time.Time) *Execution {
	return &Execution{
		id:         id,
		definition: definition,
		scope:      vars,
		parentID:   parentID,
		activityID: startActivity,
		status:     models.ExecutionStatusCreated,
		startedAt:  now,
	}
}

func (x *Execution) ID() string {
	return x.id
}

func (x *Execution) DefinitionID() string {
	return x.definition.ID
}

func (x *Execution) ParentID() string {
	return x.parentID
}

// Scope is the execution's own variable scope.
func (x *Execution) Scope() *scope.Scope {
	return x.scope
}

func (x *Execution) Status() models.ExecutionStatus {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.status
}

func (x *Execution) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.err
}

// transition must be called with mu held.
func (x *Execution) transition(to models.ExecutionStatus) error {
	for _, allowed := range transitions[x.status] {
		if allowed == to {
			x.status = to

			return nil
		}
	}

	return &TransitionError{ExecutionID: x.id, From: string(x.status), To: string(to)}
}

// finish must be called with mu held.
func (x *Execution) finish(to models.ExecutionStatus, now time.Time) error {
	err := x.transition(to)
	if err != nil {
		return err
	}

	x.finishedAt = &now
	x.pendingMessage = ""
	x.pendingKey = ""

	return nil
}

// Snapshot copies the execution's state, flattening its variables.
func (x *Execution) Snapshot() *models.ExecutionSnapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	snapshot := &models.ExecutionSnapshot{
		ID:               x.id,
		DefinitionID:     x.definition.ID,
		ParentID:         x.parentID,
		ChildID:          x.childID,
		ActivityID:       x.activityID,
		Status:           x.status,
		Variables:        x.scope.Map(),
		PendingMessage:   x.pendingMessage,
		PendingKey:       x.pendingKey,
		FailedActivityID: x.failedActivityID,
		StartedAt:        x.startedAt,
	}

	if x.err != nil {
		snapshot.Error = x.err.Error()
	}

	if x.finishedAt != nil {
		finished := *x.finishedAt
		snapshot.FinishedAt = &finished
	}

	return snapshot
}
