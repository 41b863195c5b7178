package events

import (
	"context"
	"testing"
	"time"

	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return types.Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan types.Event) {
	t.Helper()
	select {
	case event, ok := <-ch:
		if ok {
			t.Fatalf("received unexpected event: %v", event.Type)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStream_FanOut(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	ctx := context.Background()

	ch1, err := stream.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)
	ch2, err := stream.Subscribe(ctx, "device-1", "client-2")
	require.NoError(t, err)

	event := sampleEvent("device-1", types.EventTypeLocationUpdated)
	require.NoError(t, stream.Publish(ctx, "device-1", event))

	// Every subscriber attached before the publication receives it
	got1 := recvEvent(t, ch1)
	got2 := recvEvent(t, ch2)
	assert.Equal(t, event.ID, got1.ID)
	assert.Equal(t, event.ID, got2.ID)
	assert.Equal(t, got1.Payload, got2.Payload)
}

func TestStream_NoReplayForLateSubscriber(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	ctx := context.Background()

	require.NoError(t, stream.Publish(ctx, "device-1", sampleEvent("device-1", types.EventTypeLocationUpdated)))

	// A subscriber attached strictly after a publication does not receive it
	late, err := stream.Subscribe(ctx, "device-1", "late-client")
	require.NoError(t, err)
	assertNoEvent(t, late)
}

func TestStream_PublishWithoutSubscribers(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	err := stream.Publish(context.Background(), "device-1", sampleEvent("device-1", types.EventTypeLocationUpdated))
	assert.NoError(t, err)
}

func TestStream_FeedIsolation(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	ctx := context.Background()

	other, err := stream.Subscribe(ctx, "device-2", "client-1")
	require.NoError(t, err)

	require.NoError(t, stream.Publish(ctx, "device-1", sampleEvent("device-1", types.EventTypeLocationUpdated)))
	assertNoEvent(t, other)
}

func TestStream_FilteredSubscription(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	ctx := context.Background()

	ch, err := stream.Subscribe(ctx, "device-1", "client-1", types.EventTypeLocationUpdated)
	require.NoError(t, err)

	require.NoError(t, stream.Publish(ctx, "device-1", sampleEvent("device-1", types.EventTypeLocationPermissionChanged)))
	require.NoError(t, stream.Publish(ctx, "device-1", sampleEvent("device-1", types.EventTypeLocationUpdated)))

	got := recvEvent(t, ch)
	assert.Equal(t, types.EventTypeLocationUpdated, got.Type)
	assertNoEvent(t, ch)
}

func TestStream_DuplicateSubscription(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	ctx := context.Background()

	_, err := stream.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)

	_, err = stream.Subscribe(ctx, "device-1", "client-1")
	assert.Error(t, err)
}

func TestStream_UnsubscribeIdempotent(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	ctx := context.Background()

	ch1, err := stream.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)
	ch2, err := stream.Subscribe(ctx, "device-1", "client-2")
	require.NoError(t, err)

	require.NoError(t, stream.Unsubscribe(ctx, "device-1", "client-1"))
	// Detaching an already-detached subscriber is a no-op
	require.NoError(t, stream.Unsubscribe(ctx, "device-1", "client-1"))
	// Detaching a subscriber that never existed is also a no-op
	require.NoError(t, stream.Unsubscribe(ctx, "device-1", "never-attached"))

	// Remaining subscribers are unaffected
	event := sampleEvent("device-1", types.EventTypeLocationUpdated)
	require.NoError(t, stream.Publish(ctx, "device-1", event))
	got := recvEvent(t, ch2)
	assert.Equal(t, event.ID, got.ID)

	// Detached subscriber's channel is closed
	_, open := <-ch1
	assert.False(t, open)
}

func TestStream_ContextCancelDetaches(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := stream.Subscribe(subCtx, "device-1", "client-1")
	require.NoError(t, err)

	cancel()

	// The subscriber channel closes once the context watcher runs
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestStream_PublishSetsDefaults(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	ctx := context.Background()
	ch, err := stream.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)

	event := sampleEvent("device-1", types.EventTypeLocationUpdated)
	event.ID = ""
	event.Timestamp = time.Time{}
	event.Version = 0

	require.NoError(t, stream.Publish(ctx, "device-1", event))

	got := recvEvent(t, ch)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, 1, got.Version)
}

func TestStream_InvalidEvent(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()
	defer func() { _ = stream.Shutdown(context.Background()) }()

	event := sampleEvent("", types.EventTypeLocationUpdated)
	err := stream.Publish(context.Background(), "", event)
	assert.Error(t, err)
}

func TestStream_Shutdown(t *testing.T) {
	resetMetricsForTesting()
	stream := NewStream()

	ctx := context.Background()
	ch, err := stream.Subscribe(ctx, "device-1", "client-1")
	require.NoError(t, err)

	require.NoError(t, stream.Shutdown(ctx))

	_, open := <-ch
	assert.False(t, open)

	// New subscriptions still work after shutdown
	_, err = stream.Subscribe(ctx, "device-1", "client-1")
	assert.NoError(t, err)
}
