// Package events defines the execution lifecycle and inbound message events.
package events

import (
	"time"
)

type EventType string

const Topic = "procflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionSuspendedEvent EventType = "execution.suspended"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionEndedEvent     EventType = "execution.ended"
	ExecutionFailedEvent    EventType = "execution.failed"

	// MessageReceivedEvent is consumed by the engine and correlated to a waiting execution.
	MessageReceivedEvent EventType = "message.received"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	DefinitionID string         `json:"definition_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ParentID  string         `json:"parent_id,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionSuspended struct {
	BaseEvent

	ActivityID     string `json:"activity_id"`
	Message        string `json:"message"`
	CorrelationKey string `json:"correlation_key,omitempty"`
}

func (e ExecutionSuspended) GetType() EventType {
	return ExecutionSuspendedEvent
}

type ExecutionResumed struct {
	BaseEvent

	ActivityID string `json:"activity_id"`
	Message    string `json:"message"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionEnded struct {
	BaseEvent

	ParentID  string         `json:"parent_id,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

func (e ExecutionEnded) GetType() EventType {
	return ExecutionEndedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ActivityID string `json:"activity_id"`
	Error      string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// MessageReceived asks the engine to correlate a message. ExecutionID, when set,
// addresses a specific execution instead of the (Message, Key) pair.
type MessageReceived struct {
	BaseEvent

	Message   string         `json:"message"`
	Key       string         `json:"key,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (e MessageReceived) GetType() EventType {
	return MessageReceivedEvent
}
