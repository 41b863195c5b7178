// Package store defines the persistence interfaces for device feed data.
package store

import (
	"context"

	"github.com/GeoPulse/geopulse-backend/types"
)

// FixStore retains the most recent published position fix per device. It is
// a cache, not a history: writing a fix replaces the previous one.
type FixStore interface {
	// SaveFix records the latest fix for the sample's device.
	SaveFix(ctx context.Context, sample types.PositionSample) error

	// GetLatestFix returns the most recent fix for a device, or a NotFound
	// error when none is retained.
	GetLatestFix(ctx context.Context, deviceID string) (*types.PositionSample, error)

	// DeleteFix removes the retained fix for a device. Deleting an absent
	// fix is a no-op.
	DeleteFix(ctx context.Context, deviceID string) error
}
