package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/GeoPulse/geopulse-backend/config"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Handler handles WebSocket connections.
type Handler struct {
	log            *zap.SugaredLogger
	hub            *Hub
	pingInterval   time.Duration
	writeTimeout   time.Duration
	allowedOrigins []string
	isDevelopment  bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, serverCfg *config.ServerConfig) *Handler {
	hubCfg := DefaultHubConfig()
	return &Handler{
		log:            logger.GetLogger().Named("websocket_handler"),
		hub:            hub,
		pingInterval:   hubCfg.PingInterval,
		writeTimeout:   hubCfg.WriteTimeout,
		allowedOrigins: serverCfg.AllowedOrigins,
		isDevelopment:  serverCfg.Environment == config.EnvDevelopment,
	}
}

// getAcceptOptions returns WebSocket accept options based on configuration.
// In development, all origins are allowed. In production, only configured origins are allowed.
func (h *Handler) getAcceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}

	if h.isDevelopment {
		// Allow all origins in development
		opts.InsecureSkipVerify = true
	} else {
		// In production, validate origins
		opts.OriginPatterns = h.allowedOrigins
	}

	return opts
}

// ClientMessage represents a message from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// parseFeeds extracts the requested device feeds from the `feeds` query
// parameter (comma-separated).
func parseFeeds(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	feeds := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			feeds = append(feeds, p)
		}
	}
	return feeds
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle. The
// initial feed set comes from the `feeds` query parameter; the client can
// adjust it afterwards with subscribe/unsubscribe messages.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}
	feeds := parseFeeds(c.Query("feeds"))

	// Accept WebSocket connection with origin validation
	conn, err := websocket.Accept(c.Writer, c.Request, h.getAcceptOptions())
	if err != nil {
		h.log.Errorw("Failed to accept WebSocket connection",
			"clientID", clientID,
			"error", err)
		return
	}

	// Create a context that cancels when the connection closes
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Register connection with the hub
	connection, err := h.hub.Register(ctx, clientID, conn, feeds)
	if err != nil {
		h.log.Errorw("Failed to register WebSocket connection",
			"clientID", clientID,
			"error", err)
		_ = conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	// Ensure cleanup on exit
	defer h.hub.Unregister(clientID)

	// Send initial connected message
	if err := h.sendMessage(ctx, conn, ServerMessage{
		Type: MessageTypeConnected,
		Payload: map[string]interface{}{
			"clientId":  clientID,
			"feedCount": len(connection.Feeds()),
			"feeds":     connection.Feeds(),
		},
	}); err != nil {
		h.log.Errorw("Failed to send connected message",
			"clientID", clientID,
			"error", err)
		return
	}

	h.log.Infow("WebSocket connection established",
		"clientID", clientID,
		"feedCount", len(connection.Feeds()))

	// Start goroutines for reading, writing, and pinging
	errCh := make(chan error, 3)

	// Read goroutine - handles incoming messages from client
	go func() {
		errCh <- h.readLoop(ctx, conn, clientID)
	}()

	// Write goroutine - sends events to client
	go func() {
		errCh <- h.writeLoop(ctx, conn, connection)
	}()

	// Ping goroutine - keeps connection alive
	go func() {
		errCh <- h.pingLoop(ctx, conn)
	}()

	// Wait for any goroutine to finish (usually due to error or close)
	err = <-errCh
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		h.log.Warnw("WebSocket connection error",
			"clientID", clientID,
			"error", err)
	}
}

// readLoop handles incoming messages from the client.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, clientID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg ClientMessage
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			return err
		}

		h.handleClientMessage(ctx, conn, clientID, msg)
	}
}

// writeLoop sends events from the hub to the client.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, connection *Connection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-connection.SendChannel():
			if !ok {
				return nil // Channel closed
			}

			msg := ServerMessage{
				Type:    MessageTypeEvent,
				Payload: event,
			}

			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()

			if err != nil {
				return err
			}
		}
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// handleClientMessage processes messages from the client.
func (h *Handler) handleClientMessage(ctx context.Context, conn *websocket.Conn, clientID string, msg ClientMessage) {
	switch msg.Type {
	case MessageTypePing:
		// Client ping - respond with pong
		_ = h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypePong})

	case MessageTypeSubscribe:
		// Request to follow an additional device feed
		var payload struct {
			DeviceID string `json:"deviceId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.DeviceID == "" {
			_ = h.sendMessage(ctx, conn, ServerMessage{
				Type:  MessageTypeError,
				Error: "Invalid subscribe request: deviceId required",
			})
			return
		}

		if err := h.hub.AddFeedSubscription(ctx, clientID, payload.DeviceID); err != nil {
			_ = h.sendMessage(ctx, conn, ServerMessage{
				Type:  MessageTypeError,
				Error: "Failed to subscribe to feed",
			})
			return
		}

		_ = h.sendMessage(ctx, conn, ServerMessage{
			Type:    MessageTypeSubscribed,
			Payload: map[string]string{"deviceId": payload.DeviceID},
		})

	case MessageTypeUnsubscribe:
		// Request to stop following a device feed
		var payload struct {
			DeviceID string `json:"deviceId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.DeviceID == "" {
			_ = h.sendMessage(ctx, conn, ServerMessage{
				Type:  MessageTypeError,
				Error: "Invalid unsubscribe request: deviceId required",
			})
			return
		}

		if err := h.hub.RemoveFeedSubscription(ctx, clientID, payload.DeviceID); err != nil {
			_ = h.sendMessage(ctx, conn, ServerMessage{
				Type:  MessageTypeError,
				Error: "Failed to unsubscribe from feed",
			})
			return
		}

		_ = h.sendMessage(ctx, conn, ServerMessage{
			Type:    MessageTypeUnsubscribed,
			Payload: map[string]string{"deviceId": payload.DeviceID},
		})

	default:
		h.log.Debugw("Unknown message type from client",
			"clientID", clientID,
			"type", msg.Type)
	}
}

// sendMessage sends a message to the client.
func (h *Handler) sendMessage(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}

// GetHub returns the hub for testing or advanced usage.
func (h *Handler) GetHub() *Hub {
	return h.hub
}

// Message type constants for the client protocol
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeEvent        = "event"
	MessageTypeConnected    = "connected"
	MessageTypeError        = "error"
)
