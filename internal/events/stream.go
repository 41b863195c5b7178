package events

import (
	"context"
	"sync"
	"time"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds configuration for the broadcast publishers.
type Config struct {
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
	EventBufferSize  int
}

// DefaultConfig returns default configuration values
func DefaultConfig() Config {
	return Config{
		PublishTimeout:   5 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		EventBufferSize:  100,
	}
}

// Stream implements types.EventPublisher as an in-process broadcast channel.
// Published events are delivered to every subscriber attached to the device
// feed at publish time; there is no history, so a subscriber attached after
// a publication never sees it.
type Stream struct {
	log     *zap.SugaredLogger
	metrics *metrics
	config  Config
	mu      sync.RWMutex
	subs    map[string]map[string]*streamSub // deviceID -> clientID -> sub
}

type streamSub struct {
	clientID  string
	ch        chan types.Event
	filters   []types.EventType
	done      chan struct{}
	closeOnce sync.Once // Ensures channels are closed exactly once
}

func (sub *streamSub) close() {
	sub.closeOnce.Do(func() {
		close(sub.done)
		close(sub.ch)
	})
}

// NewStream creates a new in-memory broadcast stream.
func NewStream(cfg ...Config) *Stream {
	config := DefaultConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}

	return &Stream{
		log:     logger.GetLogger().Named("event_stream"),
		metrics: newMetrics(),
		config:  config,
		subs:    make(map[string]map[string]*streamSub),
	}
}

// Publish delivers an event to all current subscribers of the device feed.
func (s *Stream) Publish(ctx context.Context, deviceID string, event types.Event) error {
	start := time.Now()
	defer func() {
		s.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}()

	// Set defaults if needed
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Version == 0 {
		event.Version = 1
	}

	if err := event.Validate(); err != nil {
		s.metrics.errorCount.WithLabelValues("publish", "validation").Inc()
		return err
	}

	s.mu.RLock()
	feedSubs := make([]*streamSub, 0, len(s.subs[deviceID]))
	for _, sub := range s.subs[deviceID] {
		feedSubs = append(feedSubs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range feedSubs {
		if !matchesFilters(event, sub.filters) {
			continue
		}

		// Try to send event, drop if subscriber buffer is full
		select {
		case <-sub.done:
		case sub.ch <- event:
			s.metrics.eventCount.WithLabelValues("receive", string(event.Type)).Inc()
		default:
			s.metrics.errorCount.WithLabelValues("publish", "channel_full").Inc()
			s.log.Warnw("Dropped event due to full subscriber buffer",
				"deviceID", deviceID,
				"clientID", sub.clientID,
				"eventType", event.Type,
			)
		}
	}

	s.metrics.eventCount.WithLabelValues("publish", string(event.Type)).Inc()
	return nil
}

// PublishBatch delivers multiple events in order.
func (s *Stream) PublishBatch(ctx context.Context, deviceID string, events []types.Event) error {
	for _, event := range events {
		if err := s.Publish(ctx, deviceID, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe attaches a subscriber to a device feed. The returned channel
// receives events published after this call; it is closed when the context
// is cancelled, Unsubscribe is called, or the stream shuts down.
func (s *Stream) Subscribe(ctx context.Context, deviceID string, clientID string, filters ...types.EventType) (<-chan types.Event, error) {
	start := time.Now()
	defer func() {
		s.metrics.subscribeLatency.Observe(time.Since(start).Seconds())
	}()

	sub := &streamSub{
		clientID: clientID,
		ch:       make(chan types.Event, s.config.EventBufferSize),
		filters:  filters,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.subs[deviceID][clientID]; exists {
		s.mu.Unlock()
		s.metrics.errorCount.WithLabelValues("subscribe", "duplicate").Inc()
		return nil, errors.NewConflictError(
			"Subscription already exists",
			"device "+deviceID+", client "+clientID,
		)
	}
	if s.subs[deviceID] == nil {
		s.subs[deviceID] = make(map[string]*streamSub)
	}
	s.subs[deviceID][clientID] = sub
	s.mu.Unlock()

	s.metrics.activeSubscribers.Inc()

	// Detach when the subscriber's context ends.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe(context.Background(), deviceID, clientID)
		case <-sub.done:
		}
	}()

	return sub.ch, nil
}

// Unsubscribe detaches a subscriber from a device feed. Detaching an
// already-detached subscriber is a no-op.
func (s *Stream) Unsubscribe(ctx context.Context, deviceID string, clientID string) error {
	s.mu.Lock()
	sub, exists := s.subs[deviceID][clientID]
	if exists {
		delete(s.subs[deviceID], clientID)
		if len(s.subs[deviceID]) == 0 {
			delete(s.subs, deviceID)
		}
	}
	s.mu.Unlock()

	if !exists {
		return nil
	}

	sub.close()
	s.metrics.activeSubscribers.Dec()
	s.log.Debugw("Subscription closed", "deviceID", deviceID, "clientID", clientID)
	return nil
}

// Shutdown detaches all subscribers.
func (s *Stream) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	localSubs := s.subs
	s.subs = make(map[string]map[string]*streamSub)
	s.mu.Unlock()

	count := 0
	for _, feedSubs := range localSubs {
		for _, sub := range feedSubs {
			sub.close()
			s.metrics.activeSubscribers.Dec()
			count++
		}
	}

	s.log.Infow("Event stream shutdown complete", "subscribers", count)
	return nil
}

// matchesFilters reports whether an event passes the subscriber's type filters.
// An empty filter list matches everything.
func matchesFilters(event types.Event, filters []types.EventType) bool {
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		if event.Type == filter {
			return true
		}
	}
	return false
}
