package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/internal/utils"
	"github.com/GeoPulse/geopulse-backend/types"
)

// PublishWithContext is a helper function to publish events with consistent
// structure. It constructs a standard types.Event and publishes it using the
// provided publisher.
func PublishWithContext(publisher types.EventPublisher, ctx context.Context, eventType types.EventType, deviceID string, payload interface{}, source string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ServerError, "Failed to marshal event payload")
	}

	event := types.Event{
		BaseEvent: types.BaseEvent{
			ID:        utils.GenerateEventID(),
			Type:      eventType,
			DeviceID:  deviceID,
			Timestamp: time.Now(),
			Version:   1,
		},
		Metadata: types.EventMetadata{
			Source: source,
		},
		Payload: data,
	}

	if err := publisher.Publish(ctx, deviceID, event); err != nil {
		return errors.Wrap(err, errors.ServerError, "Failed to publish event")
	}

	return nil
}
