package location

import (
	"context"
	"sync"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/internal/events"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/pkg/valueobjects"
	"github.com/GeoPulse/geopulse-backend/types"
	"go.uber.org/zap"
)

const eventSource = "location_adapter"

// Adapter bridges a Provider's delegate callbacks into the broadcast event
// stream for one device feed and manages the permission-request handshake.
// It registers itself as the provider's delegate on construction.
type Adapter struct {
	log       *zap.SugaredLogger
	deviceID  string
	provider  Provider
	publisher types.EventPublisher
	policy    types.BatchPolicy

	// baseCtx is the delivery context used when publishing from provider
	// callbacks, which carry no context of their own.
	baseCtx context.Context

	mu        sync.Mutex
	updating  bool
	lastState types.PermissionState
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBatchPolicy selects which samples of a provider batch are forwarded.
func WithBatchPolicy(policy types.BatchPolicy) Option {
	return func(a *Adapter) {
		a.policy = policy
	}
}

// WithBaseContext sets the context used for publications triggered by
// provider callbacks. Cancelling it stops deliveries originating from
// callbacks without tearing down the adapter.
func WithBaseContext(ctx context.Context) Option {
	return func(a *Adapter) {
		a.baseCtx = ctx
	}
}

// NewAdapter creates an adapter for one device feed and attaches it to the
// provider as its delegate.
func NewAdapter(deviceID string, provider Provider, publisher types.EventPublisher, opts ...Option) *Adapter {
	a := &Adapter{
		log:       logger.GetLogger().Named("location_adapter").With("deviceID", deviceID),
		deviceID:  deviceID,
		provider:  provider,
		publisher: publisher,
		policy:    types.BatchPolicyFirst,
		baseCtx:   context.Background(),
		lastState: provider.AuthorizationStatus(),
	}

	for _, opt := range opts {
		opt(a)
	}

	provider.SetDelegate(a)
	return a
}

// Start requests continuous position updates. If the device is authorized
// for foreground use it commands the provider to begin delivery immediately;
// in every other state it issues a single permission request instead. A
// denied or restricted state additionally returns a PermissionDenied error,
// since no updates will ever flow without user intervention.
func (a *Adapter) Start(ctx context.Context) error {
	state := a.provider.AuthorizationStatus()

	if state == types.PermissionAuthorizedWhenInUse {
		a.mu.Lock()
		a.updating = true
		a.mu.Unlock()

		a.provider.StartUpdates()
		a.log.Infow("Started position updates", "state", state)
		a.publishStarted(ctx)
		return nil
	}

	a.provider.RequestAuthorization()
	a.log.Infow("Requested location authorization", "state", state)

	if state.IsDenial() {
		return errors.PermissionDenied(a.deviceID, string(state))
	}
	return nil
}

// Stop halts position updates. Returns NoUpdateInProgress when no update
// cycle is running.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.updating {
		a.mu.Unlock()
		return errors.NoUpdateInProgress(a.deviceID)
	}
	a.updating = false
	a.mu.Unlock()

	a.provider.StopUpdates()
	a.log.Infow("Stopped position updates")

	if err := events.PublishWithContext(a.publisher, ctx, types.EventTypeLocationUpdatesStopped, a.deviceID, nil, eventSource); err != nil {
		a.log.Errorw("Failed to publish updates-stopped event", "error", err)
	}
	return nil
}

// Updating reports whether an update cycle is currently running.
func (a *Adapter) Updating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updating
}

// PermissionState returns the provider's current authorization state.
func (a *Adapter) PermissionState() types.PermissionState {
	return a.provider.AuthorizationStatus()
}

// Close detaches the adapter from its provider and stops a running update
// cycle, if any.
func (a *Adapter) Close() {
	a.mu.Lock()
	updating := a.updating
	a.updating = false
	a.mu.Unlock()

	if updating {
		a.provider.StopUpdates()
	}
	a.provider.SetDelegate(nil)
}

// AuthorizationDidChange implements Delegate. Every transition is published
// as a permission-changed event; a transition into foreground authorization
// starts position delivery.
func (a *Adapter) AuthorizationDidChange(state types.PermissionState) {
	a.mu.Lock()
	previous := a.lastState
	a.lastState = state
	a.mu.Unlock()

	a.log.Infow("Authorization changed", "previous", previous, "state", state)

	payload := types.PermissionChangedEvent{State: state, Previous: previous}
	if err := events.PublishWithContext(a.publisher, a.baseCtx, types.EventTypeLocationPermissionChanged, a.deviceID, payload, eventSource); err != nil {
		a.log.Errorw("Failed to publish permission-changed event", "error", err)
	}

	if state == types.PermissionAuthorizedWhenInUse {
		a.mu.Lock()
		a.updating = true
		a.mu.Unlock()

		a.provider.StartUpdates()
		a.publishStarted(a.baseCtx)
		return
	}

	if state.IsDenial() {
		appErr := errors.PermissionDenied(a.deviceID, string(state))
		a.publishServiceError(appErr)
	}
}

// LocationsDidUpdate implements Delegate. Samples are selected from the
// batch per the configured policy and published on the device feed. An
// empty batch publishes nothing.
func (a *Adapter) LocationsDidUpdate(samples []types.PositionSample) {
	if len(samples) == 0 {
		return
	}

	for _, sample := range a.selectSamples(samples) {
		sample.DeviceID = a.deviceID

		if _, err := valueobjects.NewGeoPointFromSample(sample); err != nil {
			a.log.Warnw("Discarding sample with invalid coordinates",
				"latitude", sample.Latitude,
				"longitude", sample.Longitude,
				"error", err,
			)
			continue
		}

		if err := events.PublishWithContext(a.publisher, a.baseCtx, types.EventTypeLocationUpdated, a.deviceID, sample, eventSource); err != nil {
			a.log.Errorw("Failed to publish location update", "error", err)
		}
	}
}

// UpdatesDidFail implements Delegate. Provider faults surface as
// service-error events instead of silence.
func (a *Adapter) UpdatesDidFail(err error) {
	a.publishServiceError(errors.ServiceUnavailable(err))
}

func (a *Adapter) selectSamples(samples []types.PositionSample) []types.PositionSample {
	switch a.policy {
	case types.BatchPolicyLast:
		return samples[len(samples)-1:]
	case types.BatchPolicyAll:
		return samples
	default:
		return samples[:1]
	}
}

func (a *Adapter) publishStarted(ctx context.Context) {
	if err := events.PublishWithContext(a.publisher, ctx, types.EventTypeLocationUpdatesStarted, a.deviceID, nil, eventSource); err != nil {
		a.log.Errorw("Failed to publish updates-started event", "error", err)
	}
}

func (a *Adapter) publishServiceError(appErr *errors.AppError) {
	payload := types.ServiceErrorEvent{
		Code:    string(appErr.Type),
		Message: appErr.Message,
	}
	if err := events.PublishWithContext(a.publisher, a.baseCtx, types.EventTypeLocationServiceError, a.deviceID, payload, eventSource); err != nil {
		a.log.Errorw("Failed to publish service-error event", "error", err)
	}
}
