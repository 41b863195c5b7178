package memstore

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	apperrors "github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSample(deviceID string) types.PositionSample {
	return types.PositionSample{
		DeviceID:  deviceID,
		Latitude:  52.3676,
		Longitude: 4.9041,
		Accuracy:  5,
		Timestamp: time.Now(),
	}
}

func TestFixStore_SaveAndGet(t *testing.T) {
	store := NewFixStore(time.Hour)
	ctx := context.Background()

	sample := testSample("device-1")
	require.NoError(t, store.SaveFix(ctx, sample))

	got, err := store.GetLatestFix(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, sample, *got)
}

func TestFixStore_SaveReplaces(t *testing.T) {
	store := NewFixStore(0)
	ctx := context.Background()

	first := testSample("device-1")
	require.NoError(t, store.SaveFix(ctx, first))

	second := testSample("device-1")
	second.Latitude = 48.8566
	require.NoError(t, store.SaveFix(ctx, second))

	got, err := store.GetLatestFix(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, second.Latitude, got.Latitude)
}

func TestFixStore_MissingDeviceID(t *testing.T) {
	store := NewFixStore(time.Hour)

	err := store.SaveFix(context.Background(), types.PositionSample{Latitude: 1})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, apperrors.ValidationError, appErr.Type)
}

func TestFixStore_NotFound(t *testing.T) {
	store := NewFixStore(time.Hour)

	_, err := store.GetLatestFix(context.Background(), "unknown")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, apperrors.NotFoundError, appErr.Type)
}

func TestFixStore_Expiry(t *testing.T) {
	store := NewFixStore(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.SaveFix(ctx, testSample("device-1")))
	time.Sleep(20 * time.Millisecond)

	_, err := store.GetLatestFix(ctx, "device-1")
	assert.Error(t, err)
}

func TestFixStore_Delete(t *testing.T) {
	store := NewFixStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.SaveFix(ctx, testSample("device-1")))
	require.NoError(t, store.DeleteFix(ctx, "device-1"))
	// Deleting an absent fix is a no-op
	require.NoError(t, store.DeleteFix(ctx, "device-1"))

	_, err := store.GetLatestFix(ctx, "device-1")
	assert.Error(t, err)
}
