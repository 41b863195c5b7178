package services

import (
	"context"
	"sync"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/internal/location"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"go.uber.org/zap"
)

// FeedManager owns one location adapter per device feed. Adapters are
// created lazily on the first start request for a device, with a provider
// built by the injected factory.
type FeedManager struct {
	log        *zap.SugaredLogger
	factory    location.ProviderFactory
	publisher  types.EventPublisher
	policy     types.BatchPolicy
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	adapters map[string]*location.Adapter
}

// NewFeedManager creates a feed manager. The batch policy applies to every
// adapter it creates.
func NewFeedManager(factory location.ProviderFactory, publisher types.EventPublisher, policy types.BatchPolicy) *FeedManager {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &FeedManager{
		log:        logger.GetLogger().Named("feed_manager"),
		factory:    factory,
		publisher:  publisher,
		policy:     policy,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		adapters:   make(map[string]*location.Adapter),
	}
}

// adapterFor returns the adapter for a device, creating it on first use.
func (m *FeedManager) adapterFor(deviceID string) *location.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if adapter, ok := m.adapters[deviceID]; ok {
		return adapter
	}

	provider := m.factory(deviceID)
	adapter := location.NewAdapter(deviceID, provider, m.publisher,
		location.WithBatchPolicy(m.policy),
		location.WithBaseContext(m.baseCtx),
	)
	m.adapters[deviceID] = adapter

	m.log.Infow("Created feed adapter", "deviceID", deviceID)
	return adapter
}

// StartUpdates begins the update cycle for a device feed, creating its
// adapter if needed.
func (m *FeedManager) StartUpdates(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.ValidationFailed("invalid device", "device ID is required")
	}
	return m.adapterFor(deviceID).Start(ctx)
}

// StopUpdates halts the update cycle for a device feed. A device with no
// adapter or no running cycle reports NoUpdateInProgress.
func (m *FeedManager) StopUpdates(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	adapter, ok := m.adapters[deviceID]
	m.mu.Unlock()

	if !ok {
		return errors.NoUpdateInProgress(deviceID)
	}
	return adapter.Stop(ctx)
}

// PermissionState returns the authorization state of a device feed.
// A device never started reports not-determined.
func (m *FeedManager) PermissionState(deviceID string) types.PermissionState {
	m.mu.Lock()
	adapter, ok := m.adapters[deviceID]
	m.mu.Unlock()

	if !ok {
		return types.PermissionNotDetermined
	}
	return adapter.PermissionState()
}

// Updating reports whether a device feed has a running update cycle.
func (m *FeedManager) Updating(deviceID string) bool {
	m.mu.Lock()
	adapter, ok := m.adapters[deviceID]
	m.mu.Unlock()

	return ok && adapter.Updating()
}

// ActiveFeeds returns the device IDs with a created adapter.
func (m *FeedManager) ActiveFeeds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	feeds := make([]string, 0, len(m.adapters))
	for deviceID := range m.adapters {
		feeds = append(feeds, deviceID)
	}
	return feeds
}

// Shutdown closes every adapter and cancels the shared delivery context.
func (m *FeedManager) Shutdown() {
	m.mu.Lock()
	adapters := make([]*location.Adapter, 0, len(m.adapters))
	for _, adapter := range m.adapters {
		adapters = append(adapters, adapter)
	}
	m.adapters = make(map[string]*location.Adapter)
	m.mu.Unlock()

	for _, adapter := range adapters {
		adapter.Close()
	}
	m.cancelBase()

	m.log.Infow("Feed manager shutdown complete", "closedFeeds", len(adapters))
}
