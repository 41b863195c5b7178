package services

import (
	"context"
	"encoding/json"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/store"
	"github.com/GeoPulse/geopulse-backend/types"
	"go.uber.org/zap"
)

// LastFixRecorder is an event handler that persists the most recent
// published position per device to a fix store, so the latest known
// location survives between subscriber attachments.
type LastFixRecorder struct {
	log   *zap.SugaredLogger
	fixes store.FixStore
}

// NewLastFixRecorder creates a recorder backed by the given store.
func NewLastFixRecorder(fixes store.FixStore) *LastFixRecorder {
	return &LastFixRecorder{
		log:   logger.GetLogger().Named("last_fix_recorder"),
		fixes: fixes,
	}
}

// SupportedEvents implements types.EventHandler.
func (r *LastFixRecorder) SupportedEvents() []types.EventType {
	return []types.EventType{types.EventTypeLocationUpdated}
}

// HandleEvent implements types.EventHandler.
func (r *LastFixRecorder) HandleEvent(ctx context.Context, event types.Event) error {
	var sample types.PositionSample
	if err := json.Unmarshal(event.Payload, &sample); err != nil {
		return errors.Wrap(err, errors.ServerError, "Failed to decode position sample")
	}

	if sample.DeviceID == "" {
		sample.DeviceID = event.DeviceID
	}

	if err := r.fixes.SaveFix(ctx, sample); err != nil {
		r.log.Errorw("Failed to persist fix", "deviceID", sample.DeviceID, "error", err)
		return err
	}
	return nil
}
