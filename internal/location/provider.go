// Package location bridges a callback-style position provider into the
// device feed event stream. A Provider reports authorization changes and
// batches of position samples through its Delegate; the Adapter republishes
// them as broadcast events and drives the permission-request handshake.
package location

import (
	"github.com/GeoPulse/geopulse-backend/types"
)

// Provider is the consumed location capability. Implementations deliver
// delegate callbacks serialized: no two callbacks run concurrently.
type Provider interface {
	// AuthorizationStatus returns the current permission state.
	AuthorizationStatus() types.PermissionState
	// RequestAuthorization issues a one-time permission prompt. The outcome
	// arrives via Delegate.AuthorizationDidChange.
	RequestAuthorization()
	// StartUpdates commands continuous position delivery.
	StartUpdates()
	// StopUpdates halts position delivery.
	StopUpdates()
	// SetDelegate registers the callback sink. Passing nil detaches it.
	SetDelegate(d Delegate)
}

// Delegate receives provider callbacks.
type Delegate interface {
	// AuthorizationDidChange fires whenever the permission state transitions.
	AuthorizationDidChange(state types.PermissionState)
	// LocationsDidUpdate fires with an ordered batch of one or more new
	// samples. Implementations must tolerate an empty batch.
	LocationsDidUpdate(samples []types.PositionSample)
	// UpdatesDidFail fires on a provider fault (signal lost, hardware
	// unavailable).
	UpdatesDidFail(err error)
}

// ProviderFactory builds a provider for a device feed. Injected into the
// feed manager so tests and the simulator can supply their own providers.
type ProviderFactory func(deviceID string) Provider
