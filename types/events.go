package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GeoPulse/geopulse-backend/errors"
)

type EventType string

const (
	CategoryLocation = "LOCATION"
)

const (
	// Location events
	EventTypeLocationUpdated           EventType = CategoryLocation + "_UPDATED"
	EventTypeLocationPermissionChanged EventType = CategoryLocation + "_PERMISSION_CHANGED"
	EventTypeLocationServiceError      EventType = CategoryLocation + "_SERVICE_ERROR"
	EventTypeLocationUpdatesStarted    EventType = CategoryLocation + "_UPDATES_STARTED"
	EventTypeLocationUpdatesStopped    EventType = CategoryLocation + "_UPDATES_STOPPED"
)

// Base event interface
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// EventMetadata for tracking and debugging
type EventMetadata struct {
	CorrelationID string            `json:"correlationId,omitempty"`
	Source        string            `json:"source"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Event is the envelope published on a device feed.
type Event struct {
	BaseEvent
	Metadata EventMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Validation method for events
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.ValidationFailed("invalid event", "event ID is required")
	}
	if e.Type == "" {
		return errors.ValidationFailed("invalid event", "event type is required")
	}
	if e.DeviceID == "" {
		return errors.ValidationFailed("invalid event", "device ID is required")
	}
	if e.Timestamp.IsZero() {
		return errors.ValidationFailed("invalid event", "timestamp is required")
	}
	return nil
}

// EventPublisher is the broadcast contract: published events reach only
// currently attached subscribers, with no buffering of past values for late
// subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, deviceID string, event Event) error
	PublishBatch(ctx context.Context, deviceID string, events []Event) error
	Subscribe(ctx context.Context, deviceID string, clientID string, filters ...EventType) (<-chan Event, error)
	Unsubscribe(ctx context.Context, deviceID string, clientID string) error
}

// EventHandler for processing events
type EventHandler interface {
	HandleEvent(ctx context.Context, event Event) error
	SupportedEvents() []EventType
}

// PermissionChangedEvent is the payload of EventTypeLocationPermissionChanged.
type PermissionChangedEvent struct {
	State    PermissionState `json:"state"`
	Previous PermissionState `json:"previous,omitempty"`
}

// ServiceErrorEvent is the payload of EventTypeLocationServiceError.
type ServiceErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
