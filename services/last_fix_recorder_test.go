package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/GeoPulse/geopulse-backend/store/memstore"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func locationUpdatedEvent(t *testing.T, deviceID string, sample types.PositionSample) types.Event {
	t.Helper()
	payload, err := json.Marshal(sample)
	require.NoError(t, err)

	return types.Event{
		BaseEvent: types.BaseEvent{
			ID:        "evt-1",
			Type:      types.EventTypeLocationUpdated,
			DeviceID:  deviceID,
			Timestamp: time.Now(),
			Version:   1,
		},
		Metadata: types.EventMetadata{Source: "test"},
		Payload:  payload,
	}
}

func TestLastFixRecorder_SupportedEvents(t *testing.T) {
	recorder := NewLastFixRecorder(memstore.NewFixStore(0))
	assert.Equal(t, []types.EventType{types.EventTypeLocationUpdated}, recorder.SupportedEvents())
}

func TestLastFixRecorder_PersistsFix(t *testing.T) {
	fixes := memstore.NewFixStore(0)
	recorder := NewLastFixRecorder(fixes)
	ctx := context.Background()

	sample := types.PositionSample{
		DeviceID:  "device-1",
		Latitude:  52.3676,
		Longitude: 4.9041,
		Accuracy:  5,
		Timestamp: time.Now(),
	}

	require.NoError(t, recorder.HandleEvent(ctx, locationUpdatedEvent(t, "device-1", sample)))

	got, err := fixes.GetLatestFix(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, sample.Latitude, got.Latitude)
	assert.Equal(t, sample.Longitude, got.Longitude)
}

func TestLastFixRecorder_FillsDeviceIDFromEnvelope(t *testing.T) {
	fixes := memstore.NewFixStore(0)
	recorder := NewLastFixRecorder(fixes)
	ctx := context.Background()

	sample := types.PositionSample{Latitude: 1, Longitude: 2, Timestamp: time.Now()}
	require.NoError(t, recorder.HandleEvent(ctx, locationUpdatedEvent(t, "device-9", sample)))

	got, err := fixes.GetLatestFix(ctx, "device-9")
	require.NoError(t, err)
	assert.Equal(t, "device-9", got.DeviceID)
}

func TestLastFixRecorder_MalformedPayload(t *testing.T) {
	recorder := NewLastFixRecorder(memstore.NewFixStore(0))

	event := locationUpdatedEvent(t, "device-1", types.PositionSample{})
	event.Payload = []byte("{not json")

	err := recorder.HandleEvent(context.Background(), event)
	assert.Error(t, err)
}

func TestLastFixRecorder_LatestWins(t *testing.T) {
	fixes := memstore.NewFixStore(0)
	recorder := NewLastFixRecorder(fixes)
	ctx := context.Background()

	first := types.PositionSample{DeviceID: "device-1", Latitude: 1, Longitude: 1, Timestamp: time.Now()}
	second := types.PositionSample{DeviceID: "device-1", Latitude: 2, Longitude: 2, Timestamp: time.Now()}

	require.NoError(t, recorder.HandleEvent(ctx, locationUpdatedEvent(t, "device-1", first)))
	require.NoError(t, recorder.HandleEvent(ctx, locationUpdatedEvent(t, "device-1", second)))

	got, err := fixes.GetLatestFix(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Latitude)
}
