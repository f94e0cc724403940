package protocol

import (
	"context"
	"log/slog"
)

// DelegateExecution is the view of a running execution handed to a delegate.
type DelegateExecution interface {
	ExecutionID() string
	DefinitionID() string
	ActivityID() string

	// Variable reads through the execution scope chain.
	Variable(name string) (any, bool)
	Variables() map[string]any

	// SetVariable writes to the execution's root scope and survives the task.
	SetVariable(name string, value any)
	// SetVariableLocal writes to a task-local scope discarded when the task returns.
	SetVariableLocal(name string, value any)
}

// Delegate is an application callback run by a delegate task.
type Delegate interface {
	Execute(ctx context.Context, execution DelegateExecution, logger *slog.Logger) error
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(ctx context.Context, execution DelegateExecution, logger *slog.Logger) error

func (f DelegateFunc) Execute(ctx context.Context, execution DelegateExecution, logger *slog.Logger) error {
	return f(ctx, execution, logger)
}
