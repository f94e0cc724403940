package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/procflow/pkg/channels/gochannel"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(log.Discard(), pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	received := make(chan *events.MessageReceived, 1)

	require.NoError(t, bus.Handle(events.MessageReceivedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.MessageReceived)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "u-1", events.MessageReceived{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.MessageReceivedEvent},
		Message:   "email_confirmed_message",
		Key:       "u-1",
		Variables: map[string]any{"confirmed": true},
	}))

	select {
	case event := <-received:
		assert.Equal(t, "email_confirmed_message", event.Message)
		assert.Equal(t, "u-1", event.Key)
		assert.Equal(t, map[string]any{"confirmed": true}, event.Variables)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreDropped(t *testing.T) {
	t.Parallel()

	bus := newBus(t)

	var ended atomic.Int32

	require.NoError(t, bus.Handle(events.ExecutionEndedEvent, func(context.Context, any) error {
		ended.Add(1)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "e1", events.ExecutionStarted{BaseEvent: events.BaseEvent{ExecutionID: "e1"}}))
	require.NoError(t, bus.Publish(ctx, "e1", events.ExecutionEnded{BaseEvent: events.BaseEvent{ExecutionID: "e1"}}))

	assert.Eventually(t, func() bool { return ended.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatermillEventBus_DiscardedFailureIsNotRedelivered(t *testing.T) {
	t.Parallel()

	bus := newBus(t)

	var calls atomic.Int32

	require.NoError(t, bus.Handle(events.MessageReceivedEvent, func(context.Context, any) error {
		calls.Add(1)

		return Discard(errors.New("no waiting execution"))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))
	require.NoError(t, bus.Publish(ctx, "k", events.MessageReceived{Message: "m"}))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 1 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	require.NoError(t, Discard(nil))
	assert.True(t, IsDiscard(Discard(base)))
	require.ErrorIs(t, Discard(base), base)
	assert.False(t, IsDiscard(base))
}
