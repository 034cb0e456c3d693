package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/logging"
	"github.com/lectern/classroom-server/internal/v1/metrics"
	"github.com/lectern/classroom-server/internal/v1/types"
)

const (
	// Socket.IO-compatible keepalive: ping every 5s, drop after 10s silence.
	pingInterval = 5 * time.Second
	pongTimeout  = 10 * time.Second
	writeWait    = 10 * time.Second

	sendBufferSize = 256
)

// wsConnection defines the WebSocket operations the client needs. Tests swap
// in an in-memory implementation.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Client represents a single user's connection. One client maps to one socket
// id; the bound user arrives with the first join_room payload.
type Client struct {
	conn     wsConnection
	hub      *Hub
	socketID string

	mu     sync.RWMutex
	user   *types.User     // bound at join_room; nil until then
	rooms  map[string]bool // rooms this socket has joined
	closed bool

	closeOnce sync.Once
	send      chan []byte
}

func newClient(hub *Hub, conn wsConnection, socketID string) *Client {
	return &Client{
		conn:     conn,
		hub:      hub,
		socketID: socketID,
		rooms:    make(map[string]bool),
		send:     make(chan []byte, sendBufferSize),
	}
}

// SocketID returns the connection's stable socket id.
func (c *Client) SocketID() string {
	return c.socketID
}

// User returns the bound user, or nil before the first join.
func (c *Client) User() *types.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Client) bindUser(user types.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = &user
}

func (c *Client) trackRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = true
}

func (c *Client) untrackRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *Client) joinedRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Disconnect forcefully closes the connection. Closing the send channel lets
// the writePump drain buffered messages, send a close frame, and shut the
// socket, so a kicked client still receives its notification first.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// Send marshals an event envelope onto the outbound queue.
func (c *Client) Send(event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode outbound event",
			zap.String("event", event), zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw enqueues pre-serialized wire bytes.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed client", zap.String("socketId", c.socketID))
		return
	}
	c.mu.RUnlock()

	// The closed flag and channel close are not atomic together; recover
	// covers the narrow race where Disconnect lands between them.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closed client",
				zap.String("socketId", c.socketID), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full, dropping message",
			zap.String("socketId", c.socketID))
	}
}

// sendError reports a handler fault to this socket only.
func (c *Client) sendError(message string) {
	c.Send(EventError, ErrorPayload{Message: message})
}

// readPump continuously processes incoming WebSocket messages.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Warn(context.Background(), "Failed to decode wire envelope",
				zap.String("socketId", c.socketID), zap.Error(err))
			c.sendError("malformed message")
			continue
		}

		c.hub.route(context.Background(), c, &env)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
