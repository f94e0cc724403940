package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/correlation"
	"github.com/dukex/procflow/pkg/definition"
)

var (
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrVariableNotFound    = errors.New("variable not found")
	ErrActivityFailed      = errors.New("activity failed")
	ErrCancelled           = errors.New("execution cancelled")

	// Re-exported so engine callers can match every error kind from one package.
	ErrStructuralDefinition = definition.ErrStructuralDefinition
	ErrDefinitionNotFound   = definition.ErrDefinitionNotFound
	ErrDuplicateCorrelation = correlation.ErrDuplicateCorrelation
	ErrNoMatchingExecution  = correlation.ErrNoMatchingExecution
	ErrAmbiguousCorrelation = correlation.ErrAmbiguousCorrelation
)

// ExecutionError ties a failure to the execution and activity it happened in.
type ExecutionError struct {
	Op          string
	ExecutionID string
	ActivityID  string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.ActivityID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s %s at %s: %v", e.Op, e.ExecutionID, e.ActivityID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// CollaboratorError is a failure reported by a service or delegate.
type CollaboratorError struct {
	Collaborator string
	StatusCode   int
	Err          error
}

func (e *CollaboratorError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
	default:
		return fmt.Sprintf("%s: non-success status %d", e.Collaborator, e.StatusCode)
	}
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorFailure
}

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	ExecutionID string
	From        string
	To          string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("execution %s: cannot move from %s to %s", e.ExecutionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func IsCollaboratorFailure(err error) bool {
	return errors.Is(err, ErrCollaboratorFailure)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsVariableNotFound(err error) bool {
	return errors.Is(err, ErrVariableNotFound)
}
