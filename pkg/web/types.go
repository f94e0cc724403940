// Package web provides HTTP request and response types for the process API.
package web

import (
	"time"

	"github.com/dukex/procflow/pkg/correlation"
	"github.com/dukex/procflow/pkg/models"
)

// StartProcessRequest represents the request body for starting a process.
type StartProcessRequest struct {
	Variables map[string]any `json:"variables"`
}

// CorrelateRequest represents the request body for delivering a message.
// ExecutionID addresses one execution directly and cannot be combined with Key.
type CorrelateRequest struct {
	Key         string         `json:"key,omitempty"          validate:"omitempty,max=256"`
	ExecutionID string         `json:"execution_id,omitempty" validate:"omitempty,max=128,excluded_with=Key"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// StartProcessResponse reports where a freshly started execution stopped.
type StartProcessResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	ActivityID  string                 `json:"activity_id"`
}

// DefinitionSummary represents a deployed definition in listings.
type DefinitionSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	Activities  int       `json:"activities"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// VariableResponse represents a single resolved variable.
type VariableResponse struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// PendingResponse represents an execution parked on a message.
type PendingResponse struct {
	Message     string `json:"message"`
	Key         string `json:"key"`
	ExecutionID string `json:"execution_id"`
}

// TransformDefinitionSummary reduces a definition to its listing form.
func TransformDefinitionSummary(definition *models.ProcessDefinition) DefinitionSummary {
	return DefinitionSummary{
		ID:          definition.ID,
		Name:        definition.Name,
		Description: definition.Description,
		Version:     definition.Version,
		Activities:  len(definition.Activities),
		DeployedAt:  definition.DeployedAt,
	}
}

func TransformPending(entries []correlation.Entry) []PendingResponse {
	pending := make([]PendingResponse, 0, len(entries))

	for _, entry := range entries {
		pending = append(pending, PendingResponse{
			Message:     entry.Message,
			Key:         entry.Key,
			ExecutionID: entry.ExecutionID,
		})
	}

	return pending
}
