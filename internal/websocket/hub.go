package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Hub manages WebSocket connections. Each client has a single connection
// through which it receives events for every device feed it follows.
type Hub struct {
	log          *zap.SugaredLogger
	eventService EventSubscriber
	connections  map[string]*Connection // clientID -> connection
	mu           sync.RWMutex
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
	readTimeout  time.Duration
	sendBuffer   int
}

// EventSubscriber is the interface for subscribing to device feed events.
// This allows decoupling from the concrete events.Service.
type EventSubscriber interface {
	Subscribe(ctx context.Context, deviceID string, clientID string, filters ...types.EventType) (<-chan types.Event, error)
	Unsubscribe(ctx context.Context, deviceID string, clientID string) error
}

// Connection represents a single WebSocket connection for a client.
type Connection struct {
	ClientID    string
	Conn        *websocket.Conn
	FeedIDs     []string                      // device feeds this client follows
	cancelFuncs map[string]context.CancelFunc // deviceID -> cancel func for subscription
	sendCh      chan types.Event              // buffered channel for outbound events
	mu          sync.Mutex
	closed      bool
}

// HubConfig contains configuration options for the Hub.
type HubConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	SendBuffer   int
}

// DefaultHubConfig returns sensible defaults for Hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		SendBuffer:   256,
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(eventService EventSubscriber, cfg ...HubConfig) *Hub {
	config := DefaultHubConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}

	return &Hub{
		log:          logger.GetLogger().Named("websocket_hub"),
		eventService: eventService,
		connections:  make(map[string]*Connection),
		shutdownCh:   make(chan struct{}),
		pingInterval: config.PingInterval,
		writeTimeout: config.WriteTimeout,
		readTimeout:  config.ReadTimeout,
		sendBuffer:   config.SendBuffer,
	}
}

// Register adds a new WebSocket connection for a client, subscribed to the
// given device feeds. If the client already has a connection, it is closed
// and replaced.
func (h *Hub) Register(ctx context.Context, clientID string, conn *websocket.Conn, feedIDs []string) (*Connection, error) {
	h.mu.Lock()
	// Capture existing connection for cleanup after unlock
	existing := h.connections[clientID]

	connection := &Connection{
		ClientID:    clientID,
		Conn:        conn,
		FeedIDs:     make([]string, 0, len(feedIDs)),
		cancelFuncs: make(map[string]context.CancelFunc),
		sendCh:      make(chan types.Event, h.sendBuffer),
		closed:      false,
	}

	h.connections[clientID] = connection
	h.mu.Unlock()

	// Close existing connection outside of lock (if any)
	if existing != nil {
		h.closeConnection(existing, "replaced by new connection")
	}

	// Subscribe to events for each requested feed
	for _, deviceID := range feedIDs {
		if err := h.subscribeToFeed(ctx, connection, deviceID); err != nil {
			h.log.Warnw("Failed to subscribe to feed events",
				"clientID", clientID,
				"deviceID", deviceID,
				"error", err)
			// Continue with other feeds even if one fails
			continue
		}
		connection.mu.Lock()
		connection.FeedIDs = append(connection.FeedIDs, deviceID)
		connection.mu.Unlock()
	}

	h.log.Infow("WebSocket connection registered",
		"clientID", clientID,
		"feedCount", len(connection.FeedIDs))

	return connection, nil
}

// subscribeToFeed subscribes a connection to events for a specific device feed.
func (h *Hub) subscribeToFeed(ctx context.Context, conn *Connection, deviceID string) error {
	subCtx, cancel := context.WithCancel(ctx)

	conn.mu.Lock()
	conn.cancelFuncs[deviceID] = cancel
	conn.mu.Unlock()

	eventCh, err := h.eventService.Subscribe(subCtx, deviceID, conn.ClientID)
	if err != nil {
		cancel()
		conn.mu.Lock()
		delete(conn.cancelFuncs, deviceID)
		conn.mu.Unlock()
		return err
	}

	// Forward events from this feed to the connection's send channel
	go func() {
		defer cancel()
		for {
			select {
			case <-subCtx.Done():
				return
			case event, ok := <-eventCh:
				if !ok {
					return
				}
				select {
				case conn.sendCh <- event:
				default:
					h.log.Warnw("Connection send buffer full, dropping event",
						"clientID", conn.ClientID,
						"deviceID", deviceID,
						"eventType", event.Type)
				}
			}
		}
	}()

	return nil
}

// Unregister removes a client's WebSocket connection.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	conn, ok := h.connections[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, clientID)
	h.mu.Unlock()

	h.closeConnection(conn, "unregistered")
}

// closeConnection closes a connection and cleans up resources.
func (h *Hub) closeConnection(conn *Connection, reason string) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true

	// Cancel all feed subscriptions
	for deviceID, cancel := range conn.cancelFuncs {
		cancel()
		_ = h.eventService.Unsubscribe(context.Background(), deviceID, conn.ClientID)
	}
	conn.cancelFuncs = nil
	conn.mu.Unlock()

	// Close the WebSocket connection
	_ = conn.Conn.Close(websocket.StatusNormalClosure, reason)

	// Close the send channel
	close(conn.sendCh)

	h.log.Infow("WebSocket connection closed",
		"clientID", conn.ClientID,
		"reason", reason)
}

// AddFeedSubscription adds a device feed subscription for a connected client.
func (h *Hub) AddFeedSubscription(ctx context.Context, clientID string, deviceID string) error {
	h.mu.RLock()
	conn, ok := h.connections[clientID]
	h.mu.RUnlock()

	if !ok {
		// Client not connected, nothing to do
		return nil
	}

	conn.mu.Lock()
	// Check if already subscribed
	for _, id := range conn.FeedIDs {
		if id == deviceID {
			conn.mu.Unlock()
			return nil
		}
	}
	conn.FeedIDs = append(conn.FeedIDs, deviceID)
	conn.mu.Unlock()

	return h.subscribeToFeed(ctx, conn, deviceID)
}

// RemoveFeedSubscription removes a device feed subscription for a connected
// client. Removing a feed the client does not follow is a no-op.
func (h *Hub) RemoveFeedSubscription(ctx context.Context, clientID string, deviceID string) error {
	h.mu.RLock()
	conn, ok := h.connections[clientID]
	h.mu.RUnlock()

	if !ok {
		return nil
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	// Remove from feed list
	for i, id := range conn.FeedIDs {
		if id == deviceID {
			conn.FeedIDs = append(conn.FeedIDs[:i], conn.FeedIDs[i+1:]...)
			break
		}
	}

	// Cancel subscription
	if cancel, ok := conn.cancelFuncs[deviceID]; ok {
		cancel()
		delete(conn.cancelFuncs, deviceID)
	}

	return h.eventService.Unsubscribe(ctx, deviceID, clientID)
}

// BroadcastToClient sends an event directly to a client's connection,
// bypassing feed subscriptions.
func (h *Hub) BroadcastToClient(clientID string, event types.Event) error {
	h.mu.RLock()
	conn, ok := h.connections[clientID]
	h.mu.RUnlock()

	if !ok {
		return nil // Client not connected
	}

	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return nil
	}
	conn.mu.Unlock()

	select {
	case conn.sendCh <- event:
		return nil
	default:
		h.log.Warnw("Failed to broadcast to client, buffer full",
			"clientID", clientID,
			"eventType", event.Type)
		return nil
	}
}

// GetConnection returns the connection for a client, if connected.
func (h *Hub) GetConnection(clientID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[clientID]
	return conn, ok
}

// GetConnectedClients returns a list of connected client IDs.
func (h *Hub) GetConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]string, 0, len(h.connections))
	for clientID := range h.connections {
		clients = append(clients, clientID)
	}
	return clients
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown gracefully shuts down the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		close(h.shutdownCh)

		h.mu.Lock()
		connections := make([]*Connection, 0, len(h.connections))
		for _, conn := range h.connections {
			connections = append(connections, conn)
		}
		h.connections = make(map[string]*Connection)
		h.mu.Unlock()

		for _, conn := range connections {
			h.closeConnection(conn, "server shutdown")
		}
	})

	h.log.Info("WebSocket hub shutdown complete")
	return nil
}

// SendChannel returns the send channel for a connection.
// This is used by the handler to write events to the WebSocket.
func (c *Connection) SendChannel() <-chan types.Event {
	return c.sendCh
}

// IsClosed returns whether the connection is closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Feeds returns a copy of the feeds the connection follows.
func (c *Connection) Feeds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	feeds := make([]string, len(c.FeedIDs))
	copy(feeds, c.FeedIDs)
	return feeds
}
