package stub

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dukex/procflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoker_ScriptedAndDefaultResponses(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")

	invoker := New().
		Respond("http://svc/a", protocol.ServiceResponse{StatusCode: http.StatusCreated, Variables: map[string]any{"id": "1"}}).
		Fail("http://svc/b", boom)

	ctx := context.Background()

	response, err := invoker.Invoke(ctx, protocol.ServiceRequest{Endpoint: "http://svc/a", Payload: map[string]any{"x": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, response.StatusCode)
	assert.Equal(t, map[string]any{"id": "1"}, response.Variables)

	_, err = invoker.Invoke(ctx, protocol.ServiceRequest{Endpoint: "http://svc/b"})
	require.ErrorIs(t, err, boom)

	response, err = invoker.Invoke(ctx, protocol.ServiceRequest{Endpoint: "http://svc/c"})
	require.NoError(t, err)
	assert.True(t, response.Success())

	calls := invoker.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "http://svc/a", calls[0].Endpoint)
	assert.Equal(t, map[string]any{"x": 1.0}, calls[0].Payload)
}

func TestInvoker_DefaultOverride(t *testing.T) {
	t.Parallel()

	invoker := New().Default(protocol.ServiceResponse{StatusCode: http.StatusInternalServerError})

	response, err := invoker.Invoke(context.Background(), protocol.ServiceRequest{Endpoint: "http://svc"})
	require.NoError(t, err)
	assert.False(t, response.Success())
}

func TestInvoker_RecordedPayloadIsCopied(t *testing.T) {
	t.Parallel()

	invoker := New()
	payload := map[string]any{"userId": "u-1"}

	_, err := invoker.Invoke(context.Background(), protocol.ServiceRequest{Endpoint: "e", Payload: payload})
	require.NoError(t, err)

	payload["userId"] = "changed"

	assert.Equal(t, "u-1", invoker.Calls()[0].Payload["userId"])
}
