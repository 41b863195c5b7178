package events

import (
	"context"
	"testing"

	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	resetMetricsForTesting()
	svc := NewService(NewStream())
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc
}

func TestService_RegisterHandler(t *testing.T) {
	svc := newTestService(t)
	handler := newMockHandler(types.EventTypeLocationUpdated)

	require.NoError(t, svc.RegisterHandler("test-handler", handler))
	assert.Contains(t, svc.GetHandlerNames(), "test-handler")

	got, ok := svc.GetHandler("test-handler")
	assert.True(t, ok)
	assert.Equal(t, handler, got)

	// Registering the same name twice is rejected
	err := svc.RegisterHandler("test-handler", newMockHandler(types.EventTypeLocationUpdated))
	assert.Error(t, err)
}

func TestService_UnregisterHandler(t *testing.T) {
	svc := newTestService(t)
	handler := newMockHandler(types.EventTypeLocationUpdated)

	require.NoError(t, svc.RegisterHandler("test-handler", handler))
	require.NoError(t, svc.UnregisterHandler("test-handler"))
	assert.Empty(t, svc.GetHandlerNames())

	err := svc.UnregisterHandler("test-handler")
	assert.Error(t, err)
}

func TestService_PublishRoutesToHandlersAndSubscribers(t *testing.T) {
	svc := newTestService(t)
	handler := newMockHandler(types.EventTypeLocationUpdated)
	require.NoError(t, svc.RegisterHandler("recorder", handler))

	ctx := context.Background()
	ch, err := svc.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)

	event := sampleEvent("device-1", types.EventTypeLocationUpdated)
	require.NoError(t, svc.Publish(ctx, "device-1", event))

	// Local handler saw the event
	handled := handler.GetEvents()
	require.Len(t, handled, 1)
	assert.Equal(t, event.ID, handled[0].ID)

	// Broker subscriber saw it too
	got := recvEvent(t, ch)
	assert.Equal(t, event.ID, got.ID)
}

func TestService_PublishContinuesOnHandlerError(t *testing.T) {
	svc := newTestService(t)
	handler := newMockHandler(types.EventTypeLocationUpdated)
	handler.shouldError = true
	require.NoError(t, svc.RegisterHandler("failing", handler))

	ctx := context.Background()
	ch, err := svc.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)

	event := sampleEvent("device-1", types.EventTypeLocationUpdated)
	// A failing local handler does not block publication to subscribers
	require.NoError(t, svc.Publish(ctx, "device-1", event))

	got := recvEvent(t, ch)
	assert.Equal(t, event.ID, got.ID)
}

func TestService_PublishBatch(t *testing.T) {
	svc := newTestService(t)
	handler := newMockHandler(types.EventTypeLocationUpdated)
	require.NoError(t, svc.RegisterHandler("recorder", handler))

	ctx := context.Background()
	events := []types.Event{
		sampleEvent("device-1", types.EventTypeLocationUpdated),
		sampleEvent("device-1", types.EventTypeLocationUpdated),
	}

	require.NoError(t, svc.PublishBatch(ctx, "device-1", events))
	assert.Len(t, handler.GetEvents(), 2)
}

func TestService_UnsubscribeDelegates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)

	require.NoError(t, svc.Unsubscribe(ctx, "device-1", "client-1"))
	require.NoError(t, svc.Unsubscribe(ctx, "device-1", "client-1"))
}

func TestService_Shutdown(t *testing.T) {
	resetMetricsForTesting()
	svc := NewService(NewStream())
	require.NoError(t, svc.RegisterHandler("recorder", newMockHandler(types.EventTypeLocationUpdated)))

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Empty(t, svc.GetHandlerNames())
}
