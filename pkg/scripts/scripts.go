// Package scripts holds the built-in script initialisation routines.
package scripts

import (
	"context"
	"time"

	"github.com/dukex/procflow/pkg/protocol"
	"github.com/google/uuid"
)

const (
	InitRegistration  = "init-registration"
	ChooseNextProcess = "choose-next-process"

	DefaultUserName  = "John Doe"
	DefaultUserEmail = "john.doe@example.com"
	NextProcess      = "onboarding-process"
)

// Registrar is satisfied by registry.Registry.
type Registrar interface {
	RegisterScript(name string, script protocol.Script)
}

// RegisterBuiltins registers every built-in routine.
func RegisterBuiltins(reg Registrar) {
	reg.RegisterScript(InitRegistration, protocol.ScriptFunc(initRegistration))
	reg.RegisterScript(ChooseNextProcess, protocol.ScriptFunc(chooseNextProcess))
}

// initRegistration seeds a new registration: a fresh userId and confirmationToken,
// the registration date and default contact details unless the caller supplied them.
func initRegistration(_ context.Context, scope protocol.ScriptScope, now time.Time) error {
	scope.Set("userId", uuid.NewString())
	scope.Set("registrationDate", now)
	scope.Set("confirmationToken", uuid.NewString())

	setDefault(scope, "userName", DefaultUserName)
	setDefault(scope, "userEmail", DefaultUserEmail)

	return nil
}

func chooseNextProcess(_ context.Context, scope protocol.ScriptScope, _ time.Time) error {
	scope.Set("nextProcess", NextProcess)
	scope.Set("processChosen", true)

	return nil
}

// setDefault writes value only when name is unset or null.
func setDefault(scope protocol.ScriptScope, name string, value any) {
	if current, ok := scope.Get(name); ok && current != nil {
		return
	}

	scope.Set(name, value)
}
