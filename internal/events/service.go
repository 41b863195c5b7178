package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"go.uber.org/zap"
)

// Broker is the publisher contract the service coordinates: the broadcast
// interface plus graceful shutdown. Both Stream and RedisPublisher satisfy it.
type Broker interface {
	types.EventPublisher
	Shutdown(ctx context.Context) error
}

// Service coordinates event publishing and handling
type Service struct {
	log       *zap.SugaredLogger
	publisher Broker
	router    *Router
	mu        sync.RWMutex
	handlers  map[string]types.EventHandler // key: handler name
}

// NewService creates a new event service on top of a broker.
func NewService(publisher Broker) *Service {
	return &Service{
		log:       logger.GetLogger().Named("event_service"),
		publisher: publisher,
		router:    NewRouter(),
		handlers:  make(map[string]types.EventHandler),
	}
}

// RegisterHandler registers an event handler with both the router and service
func (s *Service) RegisterHandler(name string, handler types.EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[name]; exists {
		return fmt.Errorf("handler with name %s already registered", name)
	}

	s.handlers[name] = handler
	s.router.RegisterHandler(handler)

	s.log.Infow("Registered event handler",
		"name", name,
		"type", fmt.Sprintf("%T", handler),
		"supportedEvents", handler.SupportedEvents(),
	)

	return nil
}

// UnregisterHandler removes a handler by name
func (s *Service) UnregisterHandler(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler, exists := s.handlers[name]
	if !exists {
		return fmt.Errorf("handler %s not found", name)
	}

	s.router.UnregisterHandler(handler)
	delete(s.handlers, name)

	s.log.Infow("Unregistered event handler", "name", name)
	return nil
}

// Publish publishes an event and routes it to handlers
func (s *Service) Publish(ctx context.Context, deviceID string, event types.Event) error {
	// First route to local handlers
	if err := s.router.HandleEvent(ctx, event); err != nil {
		s.log.Errorw("Error handling event locally",
			"error", err,
			"deviceID", deviceID,
			"eventType", event.Type,
		)
		// Continue with publishing even if local handling fails
	}

	// Then publish to the broker for subscribers
	return s.publisher.Publish(ctx, deviceID, event)
}

// PublishBatch publishes multiple events
func (s *Service) PublishBatch(ctx context.Context, deviceID string, events []types.Event) error {
	// First route all events to local handlers
	for _, event := range events {
		if err := s.router.HandleEvent(ctx, event); err != nil {
			s.log.Errorw("Error handling event locally in batch",
				"error", err,
				"deviceID", deviceID,
				"eventType", event.Type,
			)
			// Continue with other events even if one fails
		}
	}

	// Then publish the batch to the broker
	return s.publisher.PublishBatch(ctx, deviceID, events)
}

// Subscribe subscribes to events for a specific device feed
func (s *Service) Subscribe(ctx context.Context, deviceID string, clientID string, filters ...types.EventType) (<-chan types.Event, error) {
	return s.publisher.Subscribe(ctx, deviceID, clientID, filters...)
}

// Unsubscribe removes a subscription
func (s *Service) Unsubscribe(ctx context.Context, deviceID string, clientID string) error {
	return s.publisher.Unsubscribe(ctx, deviceID, clientID)
}

// Shutdown gracefully shuts down the service
func (s *Service) Shutdown(ctx context.Context) error {
	// First, shutdown the publisher to stop processing new events/subscriptions
	if err := s.publisher.Shutdown(ctx); err != nil {
		s.log.Errorw("Error shutting down publisher", "error", err)
		// Continue to unregister handlers even if publisher shutdown fails
	}

	// Collect handler names to unregister
	handlersToUnregister := make([]string, 0)
	s.mu.RLock()
	for name := range s.handlers {
		handlersToUnregister = append(handlersToUnregister, name)
	}
	s.mu.RUnlock()

	for _, name := range handlersToUnregister {
		if unregErr := s.UnregisterHandler(name); unregErr != nil {
			s.log.Errorw("Error unregistering handler during shutdown",
				"error", unregErr,
				"handler", name,
			)
			// Log the error but continue trying to unregister others
		}
	}

	// Clear the map completely as a final step (under write lock)
	s.mu.Lock()
	s.handlers = make(map[string]types.EventHandler)
	s.mu.Unlock()

	s.log.Info("Event service shutdown complete")
	return nil
}

// GetHandlerNames returns a list of registered handler names
func (s *Service) GetHandlerNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

// GetHandler returns a handler by name
func (s *Service) GetHandler(name string) (types.EventHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handler, exists := s.handlers[name]
	return handler, exists
}
