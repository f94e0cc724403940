// Package models defines the process definition and execution models shared by the engine,
// the definition loader and the HTTP API.
package models

import (
	"slices"
	"time"
)

// ActivityKind is the closed set of activity variants the engine knows how to drive.
type ActivityKind string

const (
	ActivityKindScriptInit     ActivityKind = "script_init"
	ActivityKindServiceCall    ActivityKind = "service_call"
	ActivityKindDelegateTask   ActivityKind = "delegate_task"
	ActivityKindReceiveMessage ActivityKind = "receive_message"
	ActivityKindCallSubprocess ActivityKind = "call_subprocess"
	ActivityKindEnd            ActivityKind = "end"
)

// ActivityKinds lists every supported kind in definition order.
func ActivityKinds() []ActivityKind {
	return []ActivityKind{
		ActivityKindScriptInit,
		ActivityKindServiceCall,
		ActivityKindDelegateTask,
		ActivityKindReceiveMessage,
		ActivityKindCallSubprocess,
		ActivityKindEnd,
	}
}

// ProcessDefinition is a directed graph of activities. It is never mutated once deployed.
type ProcessDefinition struct {
	ID          string      `json:"id"                    yaml:"id"          validate:"required,min=1"`
	Name        string      `json:"name"                  yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Version     int         `json:"version"               yaml:"version"     validate:"min=0"`
	Activities  []*Activity `json:"activities"            yaml:"activities"  validate:"required,min=1,dive,required"`
	DeployedAt  time.Time   `json:"deployed_at"           yaml:"-"`
}

// Activity returns the activity with the given id.
func (d *ProcessDefinition) Activity(id string) (*Activity, bool) {
	for _, activity := range d.Activities {
		if activity.ID == id {
			return activity, true
		}
	}

	return nil, false
}

// Activity is one step of a process definition. Next names the single outgoing
// transition and is empty only for end activities.
type Activity struct {
	ID   string       `json:"id"             yaml:"id"   validate:"required"`
	Name string       `json:"name,omitempty" yaml:"name"`
	Kind ActivityKind `json:"kind"           yaml:"kind" validate:"required,oneof=script_init service_call delegate_task receive_message call_subprocess end"`
	Next string       `json:"next,omitempty" yaml:"next"`

	// script_init
	Script string `json:"script,omitempty" yaml:"script" validate:"required_if=Kind script_init"`

	// service_call
	Endpoint string        `json:"endpoint,omitempty" yaml:"endpoint" validate:"required_if=Kind service_call"`
	Method   string        `json:"method,omitempty"   yaml:"method"   validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Payload  []string      `json:"payload,omitempty"  yaml:"payload"`
	Timeout  time.Duration `json:"timeout,omitempty"  yaml:"timeout"  validate:"min=0"`

	// delegate_task
	Delegate string `json:"delegate,omitempty" yaml:"delegate" validate:"required_if=Kind delegate_task"`

	// receive_message
	Message        string `json:"message,omitempty"         yaml:"message"         validate:"required_if=Kind receive_message"`
	CorrelationKey string `json:"correlation_key,omitempty" yaml:"correlation_key"`

	// call_subprocess
	Process string   `json:"process,omitempty" yaml:"process" validate:"required_if=Kind call_subprocess"`
	Inputs  *Mapping `json:"inputs,omitempty"  yaml:"inputs"`
	Outputs *Mapping `json:"outputs,omitempty" yaml:"outputs"`
}

// IsEnd reports whether the activity terminates an execution.
func (a *Activity) IsEnd() bool {
	return a.Kind == ActivityKindEnd
}

// Mapping copies variables across a call_subprocess boundary. All copies every
// visible variable; otherwise only the listed variables are copied.
type Mapping struct {
	All       bool              `json:"all,omitempty"       yaml:"all"`
	Variables []VariableMapping `json:"variables,omitempty" yaml:"variables" validate:"dive"`
}

// VariableMapping copies Source into Target. An empty Target keeps the source name.
type VariableMapping struct {
	Source string `json:"source"           yaml:"source" validate:"required"`
	Target string `json:"target,omitempty" yaml:"target"`
}

// TargetName returns the name the value is written under.
func (m VariableMapping) TargetName() string {
	if m.Target == "" {
		return m.Source
	}

	return m.Target
}

// Apply evaluates the mapping against the source variables. A nil mapping copies nothing.
// Listed variables that are absent from source are skipped.
func (m *Mapping) Apply(source map[string]any) map[string]any {
	out := make(map[string]any)

	if m == nil {
		return out
	}

	if m.All {
		for name, value := range source {
			out[name] = value
		}
	}

	for _, variable := range m.Variables {
		value, ok := source[variable.Source]
		if !ok {
			continue
		}

		out[variable.TargetName()] = value
	}

	return out
}

// Clone returns a deep copy of the definition and its activities.
func (d *ProcessDefinition) Clone() *ProcessDefinition {
	clone := *d
	clone.Activities = make([]*Activity, len(d.Activities))

	for i, activity := range d.Activities {
		clone.Activities[i] = activity.Clone()
	}

	return &clone
}

// Clone returns a deep copy of the activity. A nil activity clones to nil.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}

	clone := *a
	clone.Payload = slices.Clone(a.Payload)
	clone.Inputs = a.Inputs.clone()
	clone.Outputs = a.Outputs.clone()

	return &clone
}

func (m *Mapping) clone() *Mapping {
	if m == nil {
		return nil
	}

	return &Mapping{All: m.All, Variables: slices.Clone(m.Variables)}
}
