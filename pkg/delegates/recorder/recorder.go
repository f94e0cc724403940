// Package recorder provides a Delegate that records every invocation.
package recorder

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukex/procflow/pkg/protocol"
)

// Invocation is what the recorder saw when it ran.
type Invocation struct {
	ExecutionID  string
	DefinitionID string
	ActivityID   string
	Variables    map[string]any
}

// Delegate records invocations, then runs the optional behaviour.
type Delegate struct {
	name     string
	mu       sync.Mutex
	seen     []Invocation
	behavior protocol.DelegateFunc
}

func New(name string) *Delegate {
	return &Delegate{name: name}
}

// Then sets what the delegate does after recording, e.g. writing variables or
// returning an error.
func (d *Delegate) Then(behavior protocol.DelegateFunc) *Delegate {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.behavior = behavior

	return d
}

func (d *Delegate) Name() string {
	return d.name
}

func (d *Delegate) Execute(ctx context.Context, execution protocol.DelegateExecution, logger *slog.Logger) error {
	d.mu.Lock()
	d.seen = append(d.seen, Invocation{
		ExecutionID:  execution.ExecutionID(),
		DefinitionID: execution.DefinitionID(),
		ActivityID:   execution.ActivityID(),
		Variables:    execution.Variables(),
	})
	behavior := d.behavior
	d.mu.Unlock()

	if behavior == nil {
		return nil
	}

	return behavior(ctx, execution, logger)
}

func (d *Delegate) Invocations() []Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make([]Invocation, len(d.seen))
	copy(seen, d.seen)

	return seen
}

func (d *Delegate) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}
