package router

import (
	"github.com/GeoPulse/geopulse-backend/config"
	"github.com/GeoPulse/geopulse-backend/handlers"
	"github.com/GeoPulse/geopulse-backend/internal/websocket"
	"github.com/GeoPulse/geopulse-backend/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies struct holds all dependencies required for setting up routes.
type Dependencies struct {
	Config          *config.Config
	HealthHandler   *handlers.HealthHandler
	LocationHandler *handlers.LocationHandler
	WSHandler       *websocket.Handler
	Logger          *zap.SugaredLogger
}

// SetupRouter configures and returns the main Gin engine with all routes defined.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))

	// Health and Metrics Routes
	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler())) // Prometheus metrics endpoint

	// Versioned API Group (v1)
	v1 := r.Group("/v1")
	{
		// WebSocket stream of device feed events
		v1.GET("/ws", deps.WSHandler.HandleWebSocket)

		// Device feed routes
		devices := v1.Group("/devices")
		{
			devices.GET("", deps.LocationHandler.ListFeeds)
			devices.POST("/:deviceID/updates/start", deps.LocationHandler.StartUpdates)
			devices.POST("/:deviceID/updates/stop", deps.LocationHandler.StopUpdates)
			devices.GET("/:deviceID/permission", deps.LocationHandler.GetPermission)
			devices.GET("/:deviceID/location/latest", deps.LocationHandler.GetLatestFix)
		}
	}

	return r
}
