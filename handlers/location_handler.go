package handlers

import (
	"net/http"

	"github.com/GeoPulse/geopulse-backend/errors"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/services"
	"github.com/GeoPulse/geopulse-backend/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LocationHandler exposes the device feed lifecycle over HTTP.
type LocationHandler struct {
	feedManager *services.FeedManager
	fixes       store.FixStore
	log         *zap.SugaredLogger
}

func NewLocationHandler(feedManager *services.FeedManager, fixes store.FixStore) *LocationHandler {
	return &LocationHandler{
		feedManager: feedManager,
		fixes:       fixes,
		log:         logger.GetLogger().Named("location_handler"),
	}
}

// StartUpdates handles POST /devices/:deviceID/updates/start.
// Depending on the device's permission state this either begins position
// delivery immediately or triggers the permission prompt; in the latter
// case delivery begins once the grant arrives.
func (h *LocationHandler) StartUpdates(c *gin.Context) {
	deviceID := c.Param("deviceID")

	if err := h.feedManager.StartUpdates(c.Request.Context(), deviceID); err != nil {
		if err := c.Error(err); err != nil {
			h.log.Errorw("Failed to attach error to context", "error", err)
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"deviceId":   deviceID,
		"updating":   h.feedManager.Updating(deviceID),
		"permission": h.feedManager.PermissionState(deviceID),
	})
}

// StopUpdates handles POST /devices/:deviceID/updates/stop.
func (h *LocationHandler) StopUpdates(c *gin.Context) {
	deviceID := c.Param("deviceID")

	if err := h.feedManager.StopUpdates(c.Request.Context(), deviceID); err != nil {
		if err := c.Error(err); err != nil {
			h.log.Errorw("Failed to attach error to context", "error", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deviceId": deviceID,
		"updating": false,
	})
}

// GetPermission handles GET /devices/:deviceID/permission.
func (h *LocationHandler) GetPermission(c *gin.Context) {
	deviceID := c.Param("deviceID")
	if deviceID == "" {
		_ = c.Error(errors.ValidationFailed("invalid device", "device ID is required"))
		return
	}

	state := h.feedManager.PermissionState(deviceID)
	c.JSON(http.StatusOK, gin.H{
		"deviceId":   deviceID,
		"permission": state,
		"authorized": state.IsAuthorized(),
	})
}

// GetLatestFix handles GET /devices/:deviceID/location/latest. It serves the
// last recorded fix from the store; a device with no recorded fix is a 404.
func (h *LocationHandler) GetLatestFix(c *gin.Context) {
	deviceID := c.Param("deviceID")

	fix, err := h.fixes.GetLatestFix(c.Request.Context(), deviceID)
	if err != nil {
		if err := c.Error(err); err != nil {
			h.log.Errorw("Failed to attach error to context", "error", err)
		}
		return
	}

	c.JSON(http.StatusOK, fix)
}

// ListFeeds handles GET /devices. It lists device feeds with a created
// adapter and their current state.
func (h *LocationHandler) ListFeeds(c *gin.Context) {
	feeds := h.feedManager.ActiveFeeds()

	out := make([]gin.H, 0, len(feeds))
	for _, deviceID := range feeds {
		out = append(out, gin.H{
			"deviceId":   deviceID,
			"updating":   h.feedManager.Updating(deviceID),
			"permission": h.feedManager.PermissionState(deviceID),
		})
	}

	c.JSON(http.StatusOK, gin.H{"feeds": out})
}
