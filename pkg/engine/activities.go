package engine

import (
	"context"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/scope"
	"github.com/dukex/procflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

type outcome int

const (
	// outcomeNext moves the execution along its outgoing transition.
	outcomeNext outcome = iota
	// outcomeStop ends this advance: suspended, blocked, ended or cancelled.
	outcomeStop
)

type stepResult struct {
	outcome  outcome
	runnable []*Execution
}

func (e *Engine) execute(ctx context.Context, x *Execution, activity *models.Activity) (stepResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "activity."+string(activity.Kind),
		attribute.String(otelhelper.ExecutionIDKey, x.id),
		attribute.String(otelhelper.DefinitionIDKey, x.definition.ID),
		attribute.String(otelhelper.ActivityIDKey, activity.ID),
		attribute.String(otelhelper.ActivityKindKey, string(activity.Kind)))
	defer span.End()

	e.logger.DebugContext(ctx, "executing activity",
		"execution_id", x.id,
		"activity_id", activity.ID,
		"kind", activity.Kind)

	var (
		result stepResult
		err    error
	)

	switch activity.Kind {
	case models.ActivityKindScriptInit:
		err = e.runScript(ctx, x, activity)
	case models.ActivityKindServiceCall:
		err = e.callService(ctx, x, activity)
	case models.ActivityKindDelegateTask:
		err = e.runDelegate(ctx, x, activity)
	case models.ActivityKindReceiveMessage:
		result, err = e.receiveMessage(ctx, x, activity)
	case models.ActivityKindCallSubprocess:
		result, err = e.callSubprocess(ctx, x, activity)
	case models.ActivityKindEnd:
		result, err = e.end(ctx, x, activity)
	default:
		err = fmt.Errorf("%w: unsupported activity kind %q", ErrActivityFailed, activity.Kind)
	}

	if err != nil {
		otelhelper.SetError(span, err,
			attribute.String(otelhelper.ExecutionIDKey, x.id),
			attribute.String(otelhelper.ActivityIDKey, activity.ID))
	}

	return result, err
}

func (e *Engine) runScript(ctx context.Context, x *Execution, activity *models.Activity) error {
	script, err := e.registry.Script(activity.Script)
	if err != nil {
		return err
	}

	err = script.Run(ctx, x.scope, e.now())
	if err != nil {
		return fmt.Errorf("%w: script %s: %w", ErrActivityFailed, activity.Script, err)
	}

	return nil
}

// callService sends the listed payload variables, or every visible variable when
// none are listed, and merges the response variables into the execution scope.
func (e *Engine) callService(ctx context.Context, x *Execution, activity *models.Activity) error {
	if e.invoker == nil {
		return &CollaboratorError{Collaborator: "service", Err: fmt.Errorf("no service invoker configured")}
	}

	vars := x.scope.Map()

	endpoint, err := template.ResolveEndpoint(activity.Endpoint, vars, e.endpointVars)
	if err != nil {
		return fmt.Errorf("%w: endpoint: %w", ErrActivityFailed, err)
	}

	payload := vars
	if len(activity.Payload) > 0 {
		payload = make(map[string]any, len(activity.Payload))

		for _, name := range activity.Payload {
			if value, ok := vars[name]; ok {
				payload[name] = value
			}
		}
	}

	timeout := activity.Timeout
	if timeout == 0 {
		timeout = e.serviceTimeout
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	response, err := e.invoker.Invoke(ctx, protocol.ServiceRequest{
		Endpoint: endpoint,
		Method:   activity.Method,
		Payload:  payload,
	})
	if err != nil {
		return &CollaboratorError{Collaborator: "service " + endpoint, Err: err}
	}

	if !response.Success() {
		return &CollaboratorError{Collaborator: "service " + endpoint, StatusCode: response.StatusCode}
	}

	x.scope.Merge(response.Variables)

	return nil
}

func (e *Engine) runDelegate(ctx context.Context, x *Execution, activity *models.Activity) (err error) {
	delegate, err := e.registry.Delegate(activity.Delegate)
	if err != nil {
		return err
	}

	view := &delegateExecution{
		execution: x,
		activity:  activity,
		local:     x.scope.Child(),
	}

	logger := e.logger.With(
		"execution_id", x.id,
		"activity_id", activity.ID,
		"delegate", activity.Delegate)

	defer func() {
		if r := recover(); r != nil {
			err = &CollaboratorError{Collaborator: "delegate " + activity.Delegate, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	err = delegate.Execute(ctx, view, logger)
	if err != nil {
		return &CollaboratorError{Collaborator: "delegate " + activity.Delegate, Err: err}
	}

	return nil
}

// receiveMessage parks x in the correlation registry. Registration and the move
// to suspended happen under x.mu so a concurrent correlation sees the suspended
// state once it gets the entry.
func (e *Engine) receiveMessage(ctx context.Context, x *Execution, activity *models.Activity) (stepResult, error) {
	key := ""

	if activity.CorrelationKey != "" {
		value, ok := x.scope.Get(activity.CorrelationKey)
		if !ok || value == nil {
			return stepResult{}, fmt.Errorf("%w: correlation key %s", ErrVariableNotFound, activity.CorrelationKey)
		}

		key = template.Stringify(value)
	}

	x.mu.Lock()

	if x.status != models.ExecutionStatusRunning {
		x.mu.Unlock()

		return stepResult{outcome: outcomeStop}, nil
	}

	err := e.correlations.Register(activity.Message, key, x.id)
	if err != nil {
		x.mu.Unlock()

		return stepResult{}, err
	}

	_ = x.transition(models.ExecutionStatusSuspended)
	x.pendingMessage = activity.Message
	x.pendingKey = key
	x.mu.Unlock()

	e.logger.InfoContext(ctx, "execution suspended",
		"execution_id", x.id,
		"activity_id", activity.ID,
		"message", activity.Message,
		"key", key)

	e.publishSuspended(ctx, x, activity, key)

	return stepResult{outcome: outcomeStop}, nil
}

// callSubprocess starts a child with the mapped-in variables in a fresh scope
// and blocks x on it.
func (e *Engine) callSubprocess(ctx context.Context, x *Execution, activity *models.Activity) (stepResult, error) {
	def, err := e.definitions.Get(activity.Process)
	if err != nil {
		return stepResult{}, err
	}

	inputs := activity.Inputs.Apply(x.scope.Map())

	child, err := e.spawn(ctx, def, scope.FromMap(inputs), x.id)
	if err != nil {
		return stepResult{}, err
	}

	x.mu.Lock()

	if x.status != models.ExecutionStatusRunning {
		x.mu.Unlock()

		e.fail(ctx, child, child.activityID, &ExecutionError{
			Op:          "cancel",
			ExecutionID: child.id,
			Err:         ErrCancelled,
		})

		return stepResult{outcome: outcomeStop}, nil
	}

	x.childID = child.id
	x.mu.Unlock()

	return stepResult{outcome: outcomeStop, runnable: []*Execution{child}}, nil
}

// end finishes x. A child hands its mapped-out variables to the parent and
// makes it runnable again.
func (e *Engine) end(ctx context.Context, x *Execution, activity *models.Activity) (stepResult, error) {
	x.mu.Lock()

	if x.status != models.ExecutionStatusRunning {
		x.mu.Unlock()

		return stepResult{outcome: outcomeStop}, nil
	}

	_ = x.finish(models.ExecutionStatusEnded, e.now())
	parentID := x.parentID
	duration := x.finishedAt.Sub(x.startedAt)
	x.mu.Unlock()

	e.archive(ctx, x)

	e.logger.InfoContext(ctx, "execution ended",
		"execution_id", x.id,
		"definition_id", x.definition.ID,
		"activity_id", activity.ID)

	e.publishEnded(ctx, x, duration)

	if parentID == "" {
		return stepResult{outcome: outcomeStop}, nil
	}

	parent, err := e.lookup(parentID)
	if err != nil {
		return stepResult{outcome: outcomeStop}, nil
	}

	if e.completeChild(ctx, parent, x) {
		return stepResult{outcome: outcomeStop, runnable: []*Execution{parent}}, nil
	}

	return stepResult{outcome: outcomeStop}, nil
}

// completeChild applies the call activity's outputs to the parent and moves it
// past the call. Child values overwrite parent values of the same name.
func (e *Engine) completeChild(ctx context.Context, parent, child *Execution) bool {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	if parent.status != models.ExecutionStatusRunning || parent.childID != child.id {
		return false
	}

	activity, ok := parent.definition.Activity(parent.activityID)
	if !ok {
		return false
	}

	outputs := activity.Outputs.Apply(child.scope.Map())
	parent.scope.Merge(outputs)
	parent.childID = ""
	parent.activityID = activity.Next

	e.logger.DebugContext(ctx, "sub-process completed",
		"execution_id", parent.id,
		"child_id", child.id,
		"mapped_variables", len(outputs))

	return true
}

// delegateExecution exposes the execution to a delegate through a task-local
// child scope. Reads fall through to the execution scope.
type delegateExecution struct {
	execution *Execution
	activity  *models.Activity
	local     *scope.Scope
}

func (d *delegateExecution) ExecutionID() string {
	return d.execution.id
}

func (d *delegateExecution) DefinitionID() string {
	return d.execution.definition.ID
}

func (d *delegateExecution) ActivityID() string {
	return d.activity.ID
}

func (d *delegateExecution) Variable(name string) (any, bool) {
	return d.local.Get(name)
}

func (d *delegateExecution) Variables() map[string]any {
	return d.local.Map()
}

func (d *delegateExecution) SetVariable(name string, value any) {
	d.local.SetGlobal(name, value)
}

func (d *delegateExecution) SetVariableLocal(name string, value any) {
	d.local.Set(name, value)
}

var _ protocol.DelegateExecution = (*delegateExecution)(nil)
