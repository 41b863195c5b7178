package services

import (
	"context"
	"fmt"
	"time"

	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HealthService aggregates dependency health for the probe endpoints.
// The Redis client is nil when the in-memory event backend is configured.
type HealthService struct {
	redisClient *redis.Client
	feedManager *FeedManager
	version     string
	log         *zap.SugaredLogger
}

func NewHealthService(redisClient *redis.Client, feedManager *FeedManager, version string) *HealthService {
	return &HealthService{
		redisClient: redisClient,
		feedManager: feedManager,
		version:     version,
		log:         logger.GetLogger(),
	}
}

func (h *HealthService) CheckHealth(ctx context.Context) types.HealthCheck {
	components := make(map[string]types.HealthComponent)
	overallStatus := types.HealthStatusUp

	if h.redisClient != nil {
		redisStatus := h.checkRedis(ctx)
		components["redis"] = redisStatus
		if redisStatus.Status == types.HealthStatusDown {
			overallStatus = types.HealthStatusDown
		} else if redisStatus.Status == types.HealthStatusDegraded {
			overallStatus = types.HealthStatusDegraded
		}
	}

	components["feeds"] = types.HealthComponent{
		Status:  types.HealthStatusUp,
		Details: fmt.Sprintf("%d active feeds", len(h.feedManager.ActiveFeeds())),
	}

	return types.HealthCheck{
		Status:     overallStatus,
		Components: components,
		Version:    h.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

func (h *HealthService) checkRedis(ctx context.Context) types.HealthComponent {
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		h.log.Errorw("Redis health check failed", "error", err)
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Redis connection failed",
		}
	}

	return types.HealthComponent{
		Status: types.HealthStatusUp,
	}
}
