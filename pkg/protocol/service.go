// Package protocol defines the contracts between the engine and its external collaborators.
package protocol

import (
	"context"
	"net/http"
)

// ServiceResponse is the outcome of a service invocation.
type ServiceResponse struct {
	// StatusCode follows HTTP semantics; 2xx is a success.
	StatusCode int
	// Variables are merged into the calling execution's scope on success.
	Variables map[string]any
	// Body is the raw response payload, kept for diagnostics.
	Body string
}

// Success reports whether the response carries a 2xx status.
func (r ServiceResponse) Success() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// ServiceInvoker calls an outbound service endpoint with a variable payload.
type ServiceInvoker interface {
	Invoke(ctx context.Context, request ServiceRequest) (ServiceResponse, error)
}

// ServiceRequest describes one outbound call.
type ServiceRequest struct {
	Endpoint string
	Method   string
	Payload  map[string]any
}
