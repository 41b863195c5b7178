package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/GeoPulse/geopulse-backend/types"
)

// MockPublisher implements types.EventPublisher for testing. It records every
// published event per device and delivers live events to subscribers; like
// the real brokers it keeps no history for late subscribers.
type MockPublisher struct {
	mu            sync.RWMutex
	events        map[string][]types.Event // key: deviceID
	subscriptions map[string]chan types.Event
	closed        bool
}

// NewMockPublisher creates a new mock publisher for testing
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		events:        make(map[string][]types.Event),
		subscriptions: make(map[string]chan types.Event),
	}
}

// Publish records an event and notifies live subscribers
func (m *MockPublisher) Publish(ctx context.Context, deviceID string, event types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("publisher is closed")
	}

	m.events[deviceID] = append(m.events[deviceID], event)

	if ch, ok := m.subscriptions[deviceID]; ok {
		select {
		case ch <- event:
		default:
			// Channel is full, skip
		}
	}

	return nil
}

// PublishBatch records multiple events
func (m *MockPublisher) PublishBatch(ctx context.Context, deviceID string, events []types.Event) error {
	for _, event := range events {
		if err := m.Publish(ctx, deviceID, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe creates a subscription for testing
func (m *MockPublisher) Subscribe(ctx context.Context, deviceID string, clientID string, filters ...types.EventType) (<-chan types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("publisher is closed")
	}

	if _, exists := m.subscriptions[deviceID]; exists {
		return nil, fmt.Errorf("subscription already exists")
	}

	ch := make(chan types.Event, 100)
	m.subscriptions[deviceID] = ch
	return ch, nil
}

// Unsubscribe removes a subscription; absent subscriptions are a no-op
func (m *MockPublisher) Unsubscribe(ctx context.Context, deviceID string, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, exists := m.subscriptions[deviceID]
	if !exists {
		return nil
	}

	close(ch)
	delete(m.subscriptions, deviceID)
	return nil
}

// GetEvents returns all events for a device (for testing assertions)
func (m *MockPublisher) GetEvents(deviceID string) []types.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[deviceID]
}

// EventsOfType returns recorded events of a given type for a device.
func (m *MockPublisher) EventsOfType(deviceID string, eventType types.EventType) []types.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]types.Event, 0)
	for _, event := range m.events[deviceID] {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// Reset clears all events and subscriptions (for test cleanup)
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subscriptions {
		close(ch)
	}

	m.events = make(map[string][]types.Event)
	m.subscriptions = make(map[string]chan types.Event)
	m.closed = false
}

// Close marks the publisher as closed (for testing cleanup)
func (m *MockPublisher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subscriptions {
		close(ch)
	}

	m.closed = true
}
