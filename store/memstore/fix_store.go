// Package memstore implements the fix store in memory, for single-instance
// deployments without Redis and for tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/types"
)

type entry struct {
	sample    types.PositionSample
	expiresAt time.Time
}

// FixStore retains the last fix per device in a map. A non-positive TTL
// retains fixes indefinitely.
type FixStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	fixes map[string]entry
}

// NewFixStore creates an in-memory fix store.
func NewFixStore(ttl time.Duration) *FixStore {
	return &FixStore{
		ttl:   ttl,
		fixes: make(map[string]entry),
	}
}

// SaveFix implements store.FixStore.
func (s *FixStore) SaveFix(ctx context.Context, sample types.PositionSample) error {
	if sample.DeviceID == "" {
		return errors.ValidationFailed("invalid fix", "device ID is required")
	}

	e := entry{sample: sample}
	if s.ttl > 0 {
		e.expiresAt = time.Now().Add(s.ttl)
	}

	s.mu.Lock()
	s.fixes[sample.DeviceID] = e
	s.mu.Unlock()
	return nil
}

// GetLatestFix implements store.FixStore.
func (s *FixStore) GetLatestFix(ctx context.Context, deviceID string) (*types.PositionSample, error) {
	s.mu.RLock()
	e, ok := s.fixes[deviceID]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("Fix", deviceID)
	}

	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.fixes, deviceID)
		s.mu.Unlock()
		return nil, errors.NotFound("Fix", deviceID)
	}

	sample := e.sample
	return &sample, nil
}

// DeleteFix implements store.FixStore.
func (s *FixStore) DeleteFix(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	delete(s.fixes, deviceID)
	s.mu.Unlock()
	return nil
}
