package protocol

import (
	"context"
	"time"
)

// ScriptScope is the variable access a script initialisation routine gets.
type ScriptScope interface {
	Get(name string) (any, bool)
	Set(name string, value any)
}

// Script is a pure routine of the scope and the engine clock.
type Script interface {
	Run(ctx context.Context, scope ScriptScope, now time.Time) error
}

// ScriptFunc adapts a function to the Script interface.
type ScriptFunc func(ctx context.Context, scope ScriptScope, now time.Time) error

func (f ScriptFunc) Run(ctx context.Context, scope ScriptScope, now time.Time) error {
	return f(ctx, scope, now)
}

// NamedDelegate is the symbol a delegate plugin exports.
type NamedDelegate interface {
	Delegate
	Name() string
}
