package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/procflow/pkg/correlation"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
)

func (e *Engine) baseEvent(eventType events.EventType, x *Execution) events.BaseEvent {
	return events.BaseEvent{
		ID:           e.newID(),
		Type:         eventType,
		Timestamp:    e.now(),
		ExecutionID:  x.id,
		DefinitionID: x.definition.ID,
	}
}

// publish never fails the caller; lifecycle events are best effort.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(),
			"execution_id", key,
			"error", err)
	}
}

func (e *Engine) publishStarted(ctx context.Context, x *Execution) {
	e.publish(ctx, x.id, events.ExecutionStarted{
		BaseEvent: e.baseEvent(events.ExecutionStartedEvent, x),
		ParentID:  x.parentID,
		Variables: x.scope.Map(),
	})
}

func (e *Engine) publishSuspended(ctx context.Context, x *Execution, activity *models.Activity, key string) {
	e.publish(ctx, x.id, events.ExecutionSuspended{
		BaseEvent:      e.baseEvent(events.ExecutionSuspendedEvent, x),
		ActivityID:     activity.ID,
		Message:        activity.Message,
		CorrelationKey: key,
	})
}

func (e *Engine) publishResumed(ctx context.Context, x *Execution, activityID, message string) {
	e.publish(ctx, x.id, events.ExecutionResumed{
		BaseEvent:  e.baseEvent(events.ExecutionResumedEvent, x),
		ActivityID: activityID,
		Message:    message,
	})
}

func (e *Engine) publishEnded(ctx context.Context, x *Execution, duration time.Duration) {
	e.publish(ctx, x.id, events.ExecutionEnded{
		BaseEvent: e.baseEvent(events.ExecutionEndedEvent, x),
		ParentID:  x.parentID,
		Variables: x.scope.Map(),
		Duration:  duration,
	})
}

func (e *Engine) publishFailed(ctx context.Context, x *Execution, activityID string, cause error) {
	e.publish(ctx, x.id, events.ExecutionFailed{
		BaseEvent:  e.baseEvent(events.ExecutionFailedEvent, x),
		ActivityID: activityID,
		Error:      cause.Error(),
	})
}

// RegisterHandlers makes bus deliver message.received events to Correlate, or to
// CorrelateExecution when the event names an execution. Failures are discarded
// instead of redelivered: the correlation entry is already consumed or never existed.
func (e *Engine) RegisterHandlers(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.MessageReceivedEvent, func(ctx context.Context, event any) error {
		msg, ok := event.(*events.MessageReceived)
		if !ok {
			return eventbus.Discard(errors.New("unexpected message event payload"))
		}

		var err error

		if msg.ExecutionID != "" {
			err = e.CorrelateExecution(ctx, msg.Message, msg.ExecutionID, msg.Variables)
		} else {
			err = e.Correlate(ctx, msg.Message, msg.Key, msg.Variables)
		}

		if err == nil {
			return nil
		}

		if correlation.IsNoMatchingExecution(err) || correlation.IsAmbiguousCorrelation(err) {
			e.logger.WarnContext(ctx, "message not correlated",
				"message", msg.Message,
				"key", msg.Key,
				"error", err)
		}

		return eventbus.Discard(err)
	})
}
