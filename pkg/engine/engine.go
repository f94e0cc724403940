// Package engine drives process executions: it starts them, advances them
// activity by activity, suspends them on messages and resumes them on correlation.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/correlation"
	"github.com/dukex/procflow/pkg/definition"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/history"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/scope"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine owns every live execution. Start and Correlate drive a local work queue
// on the caller's goroutine until each execution they touched is suspended,
// blocked on a sub-process, ended or failed.
type Engine struct {
	logger         *slog.Logger
	definitions    *definition.Repository
	registry       *registry.Registry
	invoker        protocol.ServiceInvoker
	correlations   *correlation.Registry
	history        history.Store
	publisher      eventbus.EventPublisher
	tracer         trace.Tracer
	now            func() time.Time
	newID          func() string
	endpointVars   map[string]any
	serviceTimeout time.Duration

	mu         sync.RWMutex
	executions map[string]*Execution
}

func New(definitions *definition.Repository, reg *registry.Registry, invoker protocol.ServiceInvoker, opts ...Option) *Engine {
	e := &Engine{
		logger:       slog.Default(),
		definitions:  definitions,
		registry:     reg,
		invoker:      invoker,
		correlations: correlation.NewRegistry(),
		history:      history.NewMemoryStore(),
		tracer:       otelhelper.NoopTracer(),
		now:          time.Now,
		newID:        uuid.NewString,
		endpointVars: make(map[string]any),
		executions:   make(map[string]*Execution),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "engine")

	return e
}

func (e *Engine) Definitions() *definition.Repository {
	return e.definitions
}

// Start creates a root execution of definitionID seeded with vars and drives it
// to its first suspension point or to the end. The execution id is returned even
// when the execution failed; the error then describes the failure.
func (e *Engine) Start(ctx context.Context, definitionID string, vars map[string]any) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start",
		attribute.String(otelhelper.DefinitionIDKey, definitionID))
	defer span.End()

	def, err := e.definitions.Get(definitionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	x, err := e.spawn(ctx, def, scope.FromMap(vars), "")
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, x.id))

	err = e.run(ctx, x)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return x.id, err
}

// Correlate resumes the execution waiting on (message, key) after merging vars
// into its scope. An empty key matches the only execution waiting on message.
// Correlation errors leave every execution untouched.
func (e *Engine) Correlate(ctx context.Context, message, key string, vars map[string]any) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.correlate",
		attribute.String(otelhelper.MessageKey, message),
		attribute.String(otelhelper.CorrelationKey, key))
	defer span.End()

	executionID, err := e.correlations.Take(message, key)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, executionID))

	err = e.resume(ctx, executionID, message, vars)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// CorrelateExecution resumes executionID if it is waiting on message.
func (e *Engine) CorrelateExecution(ctx context.Context, message, executionID string, vars map[string]any) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.correlate_execution",
		attribute.String(otelhelper.MessageKey, message),
		attribute.String(otelhelper.ExecutionIDKey, executionID))
	defer span.End()

	x, err := e.lookup(executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	if status := x.Status(); status != models.ExecutionStatusSuspended {
		err = &TransitionError{ExecutionID: executionID, From: string(status), To: string(models.ExecutionStatusRunning)}
		otelhelper.SetError(span, err)

		return err
	}

	err = e.correlations.TakeExecution(message, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	err = e.resume(ctx, executionID, message, vars)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// Cancel fails executionID and its live descendants, drops their correlation
// entries and fails the parents blocked on them.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	x, err := e.lookup(executionID)
	if err != nil {
		return err
	}

	if status := x.Status(); status.IsTerminal() {
		return &TransitionError{ExecutionID: executionID, From: string(status), To: string(models.ExecutionStatusFailed)}
	}

	target := x

	for {
		target.mu.Lock()
		childID := target.childID
		target.mu.Unlock()

		child, err := e.lookup(childID)
		if childID == "" || err != nil {
			break
		}

		target = child
	}

	target.mu.Lock()
	activityID := target.activityID
	target.mu.Unlock()

	e.logger.InfoContext(ctx, "cancelling execution", "execution_id", executionID, "deepest_descendant", target.id)

	e.fail(ctx, target, activityID, &ExecutionError{
		Op:          "cancel",
		ExecutionID: target.id,
		ActivityID:  activityID,
		Err:         ErrCancelled,
	})

	return nil
}

// Execution returns a snapshot of a live or archived execution.
func (e *Engine) Execution(ctx context.Context, executionID string) (*models.ExecutionSnapshot, error) {
	x, err := e.lookup(executionID)
	if err == nil {
		return x.Snapshot(), nil
	}

	snapshot, err := e.history.Get(ctx, executionID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	return snapshot, err
}

// GetVariable resolves name through the execution's scope chain.
func (e *Engine) GetVariable(ctx context.Context, executionID, name string) (any, error) {
	if x, err := e.lookup(executionID); err == nil {
		value, ok := x.scope.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
		}

		return value, nil
	}

	snapshot, err := e.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	value, ok := snapshot.Variables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}

	return value, nil
}

// Variables returns the flattened variables of an execution.
func (e *Engine) Variables(ctx context.Context, executionID string) (map[string]any, error) {
	snapshot, err := e.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return snapshot.Variables, nil
}

// IsWaitingAt reports whether the execution is parked at activityID, suspended
// on a message or blocked on a sub-process.
func (e *Engine) IsWaitingAt(ctx context.Context, executionID, activityID string) bool {
	snapshot, err := e.Execution(ctx, executionID)
	if err != nil {
		return false
	}

	return snapshot.IsWaitingAt(activityID)
}

func (e *Engine) IsEnded(ctx context.Context, executionID string) bool {
	snapshot, err := e.Execution(ctx, executionID)
	if err != nil {
		return false
	}

	return snapshot.Status == models.ExecutionStatusEnded
}

// List returns snapshots of the live table ordered by start time.
func (e *Engine) List() []*models.ExecutionSnapshot {
	e.mu.RLock()
	live := make([]*Execution, 0, len(e.executions))

	for _, x := range e.executions {
		live = append(live, x)
	}
	e.mu.RUnlock()

	snapshots := make([]*models.ExecutionSnapshot, 0, len(live))
	for _, x := range live {
		snapshots = append(snapshots, x.Snapshot())
	}

	slices.SortFunc(snapshots, func(a, b *models.ExecutionSnapshot) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})

	return snapshots
}

// Pending lists the executions waiting on messages.
func (e *Engine) Pending() []correlation.Entry {
	return e.correlations.Pending()
}

// Prune drops finished executions from the live table. They stay answerable
// from history.
func (e *Engine) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pruned := 0

	for id, x := range e.executions {
		x.mu.Lock()
		finished := x.finishedAt != nil && x.finishedAt.Before(cutoff)
		x.mu.Unlock()

		if finished {
			delete(e.executions, id)

			pruned++
		}
	}

	if pruned > 0 {
		e.logger.DebugContext(ctx, "pruned live executions", "count", pruned)
	}

	return pruned, nil
}

func (e *Engine) lookup(executionID string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	x, ok := e.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	return x, nil
}

// spawn registers a new running execution positioned at the definition's start.
func (e *Engine) spawn(ctx context.Context, def *models.ProcessDefinition, vars *scope.Scope, parentID string) (*Execution, error) {
	start, err := definition.StartActivity(def)
	if err != nil {
		return nil, err
	}

	x := newExecution(e.newID(), def, vars, parentID, start.ID, e.now())

	x.mu.Lock()
	err = x.transition(models.ExecutionStatusRunning)
	x.mu.Unlock()

	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.executions[x.id] = x
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "execution started",
		"execution_id", x.id,
		"definition_id", def.ID,
		"parent_id", parentID)

	e.publishStarted(ctx, x)

	return x, nil
}

// resume re-enters a suspended execution after its correlation entry was taken.
func (e *Engine) resume(ctx context.Context, executionID, message string, vars map[string]any) error {
	x, err := e.lookup(executionID)
	if err != nil {
		return err
	}

	x.mu.Lock()

	if x.status != models.ExecutionStatusSuspended {
		from := x.status
		x.mu.Unlock()

		return &TransitionError{ExecutionID: executionID, From: string(from), To: string(models.ExecutionStatusRunning)}
	}

	activity, _ := x.definition.Activity(x.activityID)

	x.scope.Merge(vars)
	_ = x.transition(models.ExecutionStatusRunning)
	x.pendingMessage = ""
	x.pendingKey = ""
	x.activityID = activity.Next
	x.mu.Unlock()

	e.logger.InfoContext(ctx, "execution resumed",
		"execution_id", x.id,
		"activity_id", activity.ID,
		"message", message)

	e.publishResumed(ctx, x, activity.ID, message)

	return e.run(ctx, x)
}

// run drains the work queue seeded with first. The first failure met is returned.
func (e *Engine) run(ctx context.Context, first *Execution) error {
	queue := []*Execution{first}

	var firstErr error

	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]

		next, err := e.advance(ctx, x)
		if err != nil && firstErr == nil {
			firstErr = err
		}

		queue = append(queue, next...)
	}

	return firstErr
}

// advance executes activities of x until it stops running or blocks. It returns
// the executions that became runnable as a result.
func (e *Engine) advance(ctx context.Context, x *Execution) ([]*Execution, error) {
	x.drive.Lock()
	defer x.drive.Unlock()

	for {
		x.mu.Lock()
		if x.status != models.ExecutionStatusRunning || x.childID != "" {
			x.mu.Unlock()

			return nil, nil
		}

		activityID := x.activityID
		activity, ok := x.definition.Activity(activityID)
		x.mu.Unlock()

		if !ok {
			err := &ExecutionError{
				Op:          "advance",
				ExecutionID: x.id,
				ActivityID:  activityID,
				Err:         fmt.Errorf("%w: unknown activity", ErrActivityFailed),
			}
			e.fail(ctx, x, activityID, err)

			return nil, err
		}

		result, err := e.execute(ctx, x, activity)
		if err != nil {
			wrapped := &ExecutionError{
				Op:          string(activity.Kind),
				ExecutionID: x.id,
				ActivityID:  activity.ID,
				Err:         err,
			}
			e.fail(ctx, x, activity.ID, wrapped)

			return nil, wrapped
		}

		switch result.outcome {
		case outcomeNext:
			x.mu.Lock()
			if x.status != models.ExecutionStatusRunning {
				x.mu.Unlock()

				return nil, nil
			}

			x.activityID = activity.Next
			x.mu.Unlock()
		case outcomeStop:
			return result.runnable, nil
		}
	}
}

// fail moves x to failed, archives it and fails the parent blocked on it.
func (e *Engine) fail(ctx context.Context, x *Execution, activityID string, cause error) {
	x.mu.Lock()

	if x.status.IsTerminal() {
		x.mu.Unlock()

		return
	}

	_ = x.finish(models.ExecutionStatusFailed, e.now())
	x.failedActivityID = activityID
	x.err = cause
	parentID := x.parentID
	x.mu.Unlock()

	e.correlations.Remove(x.id)
	e.archive(ctx, x)

	e.logger.ErrorContext(ctx, "execution failed",
		"execution_id", x.id,
		"definition_id", x.definition.ID,
		"activity_id", activityID,
		"error", cause)

	e.publishFailed(ctx, x, activityID, cause)

	if parentID == "" {
		return
	}

	parent, err := e.lookup(parentID)
	if err != nil {
		return
	}

	parent.mu.Lock()
	parentActivity := parent.activityID
	blocked := parent.childID == x.id
	parent.mu.Unlock()

	if !blocked {
		return
	}

	e.fail(ctx, parent, parentActivity, &ExecutionError{
		Op:          string(models.ActivityKindCallSubprocess),
		ExecutionID: parent.id,
		ActivityID:  parentActivity,
		Err:         fmt.Errorf("sub-process %s failed: %w", x.id, cause),
	})
}

func (e *Engine) archive(ctx context.Context, x *Execution) {
	err := e.history.Save(ctx, x.Snapshot())
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to archive execution", "execution_id", x.id, "error", err)
	}
}
