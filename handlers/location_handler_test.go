package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GeoPulse/geopulse-backend/internal/events"
	"github.com/GeoPulse/geopulse-backend/internal/location"
	"github.com/GeoPulse/geopulse-backend/middleware"
	"github.com/GeoPulse/geopulse-backend/services"
	"github.com/GeoPulse/geopulse-backend/store/memstore"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grantedProvider is a provider that is always authorized for foreground use.
type grantedProvider struct {
	delegate location.Delegate
}

func (p *grantedProvider) AuthorizationStatus() types.PermissionState {
	return types.PermissionAuthorizedWhenInUse
}
func (p *grantedProvider) RequestAuthorization()           {}
func (p *grantedProvider) StartUpdates()                   {}
func (p *grantedProvider) StopUpdates()                    {}
func (p *grantedProvider) SetDelegate(d location.Delegate) { p.delegate = d }

func setupTestRouter(t *testing.T) (*gin.Engine, *services.FeedManager, *memstore.FixStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	factory := func(deviceID string) location.Provider { return &grantedProvider{} }
	manager := services.NewFeedManager(factory, events.NewMockPublisher(), types.BatchPolicyFirst)
	t.Cleanup(manager.Shutdown)

	fixes := memstore.NewFixStore(0)
	handler := NewLocationHandler(manager, fixes)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	v1 := r.Group("/v1")
	{
		v1.GET("/devices", handler.ListFeeds)
		v1.POST("/devices/:deviceID/updates/start", handler.StartUpdates)
		v1.POST("/devices/:deviceID/updates/stop", handler.StopUpdates)
		v1.GET("/devices/:deviceID/permission", handler.GetPermission)
		v1.GET("/devices/:deviceID/location/latest", handler.GetLatestFix)
	}
	return r, manager, fixes
}

func perform(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestLocationHandler_StartUpdates(t *testing.T) {
	r, manager, _ := setupTestRouter(t)

	w := perform(r, http.MethodPost, "/v1/devices/device-1/updates/start")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, manager.Updating("device-1"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "device-1", body["deviceId"])
	assert.Equal(t, true, body["updating"])
}

func TestLocationHandler_StopUpdates(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	require.Equal(t, http.StatusAccepted, perform(r, http.MethodPost, "/v1/devices/device-1/updates/start").Code)

	w := perform(r, http.MethodPost, "/v1/devices/device-1/updates/stop")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLocationHandler_StopWithoutStart(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w := perform(r, http.MethodPost, "/v1/devices/device-1/updates/stop")
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NO_UPDATE_IN_PROGRESS", body["type"])
}

func TestLocationHandler_GetPermission(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	// A device never started reports not-determined
	w := perform(r, http.MethodGet, "/v1/devices/device-1/permission")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(types.PermissionNotDetermined), body["permission"])
	assert.Equal(t, false, body["authorized"])

	// After a start the provider state shows through
	perform(r, http.MethodPost, "/v1/devices/device-1/updates/start")
	w = perform(r, http.MethodGet, "/v1/devices/device-1/permission")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(types.PermissionAuthorizedWhenInUse), body["permission"])
	assert.Equal(t, true, body["authorized"])
}

func TestLocationHandler_GetLatestFix(t *testing.T) {
	r, _, fixes := setupTestRouter(t)

	sample := types.PositionSample{
		DeviceID:  "device-1",
		Latitude:  52.3676,
		Longitude: 4.9041,
		Accuracy:  5,
		Timestamp: time.Now(),
	}
	require.NoError(t, fixes.SaveFix(context.Background(), sample))

	w := perform(r, http.MethodGet, "/v1/devices/device-1/location/latest")
	assert.Equal(t, http.StatusOK, w.Code)

	var got types.PositionSample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, sample.Latitude, got.Latitude)
}

func TestLocationHandler_GetLatestFixNotFound(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w := perform(r, http.MethodGet, "/v1/devices/unknown/location/latest")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLocationHandler_ListFeeds(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	perform(r, http.MethodPost, "/v1/devices/device-1/updates/start")
	perform(r, http.MethodPost, "/v1/devices/device-2/updates/start")

	w := perform(r, http.MethodGet, "/v1/devices")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Feeds []map[string]interface{} `json:"feeds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Feeds, 2)
}
