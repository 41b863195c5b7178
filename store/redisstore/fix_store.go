// Package redisstore implements the fix store on Redis, holding one JSON
// value per device with a configurable TTL.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FixStore persists the last published fix per device in Redis.
type FixStore struct {
	rdb *redis.Client
	log *zap.SugaredLogger
	ttl time.Duration
}

// NewFixStore creates a Redis-backed fix store. A non-positive TTL retains
// fixes indefinitely.
func NewFixStore(rdb *redis.Client, ttl time.Duration) *FixStore {
	return &FixStore{
		rdb: rdb,
		log: logger.GetLogger().Named("fix_store"),
		ttl: ttl,
	}
}

func fixKey(deviceID string) string {
	return fmt.Sprintf("fix:%s", deviceID)
}

// SaveFix implements store.FixStore.
func (s *FixStore) SaveFix(ctx context.Context, sample types.PositionSample) error {
	if sample.DeviceID == "" {
		return errors.ValidationFailed("invalid fix", "device ID is required")
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return errors.Wrap(err, errors.ServerError, "Failed to marshal fix")
	}

	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}

	if err := s.rdb.Set(ctx, fixKey(sample.DeviceID), data, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ServerError, "Failed to save fix")
	}
	return nil
}

// GetLatestFix implements store.FixStore.
func (s *FixStore) GetLatestFix(ctx context.Context, deviceID string) (*types.PositionSample, error) {
	data, err := s.rdb.Get(ctx, fixKey(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFound("Fix", deviceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ServerError, "Failed to read fix")
	}

	var sample types.PositionSample
	if err := json.Unmarshal(data, &sample); err != nil {
		s.log.Errorw("Corrupt fix payload", "deviceID", deviceID, "error", err)
		return nil, errors.Wrap(err, errors.ServerError, "Failed to decode fix")
	}
	return &sample, nil
}

// DeleteFix implements store.FixStore.
func (s *FixStore) DeleteFix(ctx context.Context, deviceID string) error {
	if err := s.rdb.Del(ctx, fixKey(deviceID)).Err(); err != nil {
		return errors.Wrap(err, errors.ServerError, "Failed to delete fix")
	}
	return nil
}
