// Package stub provides a ServiceInvoker that records calls and answers from a script.
package stub

import (
	"context"
	"maps"
	"net/http"
	"sync"

	"github.com/dukex/procflow/pkg/protocol"
)

// Call is one recorded invocation.
type Call struct {
	Endpoint string
	Method   string
	Payload  map[string]any
}

// Invoker answers with the response scripted for the endpoint, or the default
// response (200, no variables) when nothing is scripted.
type Invoker struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string]protocol.ServiceResponse
	errs      map[string]error
	fallback  protocol.ServiceResponse
}

func New() *Invoker {
	return &Invoker{
		responses: make(map[string]protocol.ServiceResponse),
		errs:      make(map[string]error),
		fallback:  protocol.ServiceResponse{StatusCode: http.StatusOK},
	}
}

// Respond scripts the response for endpoint.
func (i *Invoker) Respond(endpoint string, response protocol.ServiceResponse) *Invoker {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.responses[endpoint] = response

	return i
}

// Fail scripts a transport error for endpoint.
func (i *Invoker) Fail(endpoint string, err error) *Invoker {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.errs[endpoint] = err

	return i
}

// Default replaces the response used for endpoints without a script.
func (i *Invoker) Default(response protocol.ServiceResponse) *Invoker {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.fallback = response

	return i
}

func (i *Invoker) Invoke(ctx context.Context, request protocol.ServiceRequest) (protocol.ServiceResponse, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.calls = append(i.calls, Call{
		Endpoint: request.Endpoint,
		Method:   request.Method,
		Payload:  maps.Clone(request.Payload),
	})

	if err := ctx.Err(); err != nil {
		return protocol.ServiceResponse{}, err
	}

	if err, ok := i.errs[request.Endpoint]; ok {
		return protocol.ServiceResponse{}, err
	}

	response, ok := i.responses[request.Endpoint]
	if !ok {
		response = i.fallback
	}

	response.Variables = maps.Clone(response.Variables)

	return response, nil
}

// Calls returns a copy of the recorded invocations in order.
func (i *Invoker) Calls() []Call {
	i.mu.Lock()
	defer i.mu.Unlock()

	calls := make([]Call, len(i.calls))
	copy(calls, i.calls)

	return calls
}
