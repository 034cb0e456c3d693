package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/logging"
	"github.com/lectern/classroom-server/internal/v1/metrics"
	"github.com/lectern/classroom-server/internal/v1/ratelimit"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// RoomDirectory resolves persisted room records; the store satisfies it. Only
// the capacity check consults it, so a nil directory disables that check.
type RoomDirectory interface {
	RoomByID(id string) (types.Room, bool)
}

// Hub is the central coordinator of the real-time core: it owns the room
// runtimes, the lecture lookup admission gate, and the WebSocket entry point.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	lookup *LectureLookup

	directory   RoomDirectory
	rateLimiter *ratelimit.RateLimiter
	upgrader    websocket.Upgrader
}

// NewHub creates a Hub. allowedOrigins gates the WebSocket upgrade; the rate
// limiter and directory may be nil (checks are skipped).
func NewHub(directory RoomDirectory, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		rooms:       make(map[string]*Room),
		lookup:      NewLectureLookup(),
		directory:   directory,
		rateLimiter: rateLimiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin header.
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Lookup exposes the admission gate for the lecture engine's mirror calls.
func (h *Hub) Lookup() *LectureLookup {
	return h.lookup
}

// --- Lecture admission gates ---

// RegisterLecture binds a lecture to its room in the lookup.
func (h *Hub) RegisterLecture(lectureID, roomID string, status types.LectureStatus) {
	h.lookup.Register(lectureID, roomID, status)
}

// UpdateLectureStatus updates the registered lecture's status.
func (h *Hub) UpdateLectureStatus(lectureID string, status types.LectureStatus) {
	h.lookup.UpdateStatus(lectureID, status)
}

// UnregisterLecture removes the lecture from the lookup.
func (h *Hub) UnregisterLecture(lectureID string) {
	h.lookup.Unregister(lectureID)
}

// IsRoomAvailable reports whether a room currently admits joiners.
func (h *Hub) IsRoomAvailable(roomID string) bool {
	return h.lookup.RoomAvailable(roomID)
}

// --- Room runtime accounting ---

// getOrCreateRoom returns the runtime for roomID, creating it if absent.
func (h *Hub) getOrCreateRoom(roomID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		return r
	}
	logging.Info(context.Background(), "Creating room runtime", zap.String("roomId", roomID))
	r := newRoom(roomID)
	h.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	return r
}

// room returns the runtime for roomID without creating it.
func (h *Hub) room(roomID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// SetupForRoom prepares runtime state for a room. Idempotent: an existing
// runtime, participants included, is never clobbered.
func (h *Hub) SetupForRoom(roomID string) {
	h.getOrCreateRoom(roomID)
}

// ClearRoom purges a single room's runtime state and notifies attached
// connections. Rooms with no runtime are a no-op.
func (h *Hub) ClearRoom(roomID string) {
	r, ok := h.room(roomID)
	if !ok {
		return
	}
	r.Clear("Lecture ended")
}

// AllocateResources is a no-op marker kept for lifecycle symmetry.
func (h *Hub) AllocateResources(eventID string) {
	logging.Info(context.Background(), "Resources allocated", zap.String("eventId", eventID))
}

// DeallocateResources removes all runtime state for the room identified by id.
// Callers pass either a room id or a lecture id; the latter is resolved
// through the lookup.
func (h *Hub) DeallocateResources(id string) error {
	roomID := id
	_, hasRuntime := h.room(roomID)
	_, hasRegistration := h.lookup.LectureForRoom(roomID)
	if !hasRuntime && !hasRegistration {
		resolved, ok := h.lookup.RoomForLecture(id)
		if !ok {
			return faults.Newf(faults.CodeResourceDeallocFailed, "no room or lecture with id %s", id)
		}
		roomID = resolved
	}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if ok {
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Dec()
	}
	h.mu.Unlock()

	// Deallocation also purges the room's lookup registration, which the
	// lecture engine leaves in place after terminal transitions so late
	// joiners see the terminal status.
	if lectureID, registered := h.lookup.LectureForRoom(roomID); registered {
		h.lookup.Unregister(lectureID)
	}

	if ok {
		r.Clear("Lecture ended")
	}
	return nil
}

// GetRoomParticipants returns a snapshot list from memory, never from the store.
func (h *Hub) GetRoomParticipants(roomID string) []Participant {
	r, ok := h.room(roomID)
	if !ok {
		return nil
	}
	return r.Participants()
}

// --- WebSocket entry ---

// ServeWs rate-limits, validates origin, and upgrades to a WebSocket
// connection. The user identity arrives with the first join_room payload;
// identity is established upstream.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // response already written
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade writes the HTTP error itself; origin failures land here too.
		logging.Warn(c.Request.Context(), "WebSocket upgrade rejected", zap.Error(err))
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection takes an established WebSocket connection and starts its
// message pumps. Exported for tests that bypass the HTTP upgrade.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	client := newClient(h, conn, uuid.NewString())
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()

	return client
}

// handleDisconnect cleans up all room membership for a closed socket.
func (h *Hub) handleDisconnect(c *Client) {
	for _, roomID := range c.joinedRooms() {
		if r, ok := h.room(roomID); ok {
			r.handleSocketGone(c.socketID)
		}
	}
	c.Disconnect()
	logging.Info(context.Background(), "Client disconnected", zap.String("socketId", c.socketID))
}

// --- Inbound dispatch ---

// route decodes and dispatches one inbound envelope. Handler faults are
// reported to the offending socket; the process never crashes on bad input.
func (h *Hub) route(ctx context.Context, c *Client, env *Envelope) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.WebsocketEvents.WithLabelValues(env.Event, status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())
	}()

	var err error
	switch env.Event {
	case EventJoinRoom:
		err = h.handleJoinRoom(ctx, c, env.Payload)
	case EventLeaveRoom:
		err = h.handleLeaveRoom(ctx, c, env.Payload)
	case EventSendMessage:
		err = h.handleSendMessage(ctx, c, env.Payload)
	case EventStartStream:
		err = h.handleStartStream(ctx, c, env.Payload)
	case EventStopStream:
		err = h.handleStopStream(ctx, c, env.Payload)
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCCandidate:
		err = h.handleSignal(ctx, c, env.Event, env.Payload)
	case EventRecordingStarted:
		err = h.handleRecordingStarted(ctx, c, env.Payload)
	case EventRecordingStopped:
		err = h.handleRecordingStopped(ctx, c, env.Payload)
	case EventRaiseHand:
		err = h.handleHand(ctx, c, env.Payload, true)
	case EventLowerHand:
		err = h.handleHand(ctx, c, env.Payload, false)
	default:
		logging.Warn(ctx, "Unknown event received",
			zap.String("socketId", c.socketID), zap.String("event", env.Event))
		c.sendError("unknown event: " + env.Event)
		status = "unknown"
		return
	}

	if err != nil {
		status = "error"
		logging.Warn(ctx, "Event handler fault",
			zap.String("socketId", c.socketID), zap.String("event", env.Event), zap.Error(err))
		c.sendError(err.Error())
	}
}

func decodePayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, faults.New(faults.CodeEventValidationFailed, "missing payload")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, faults.Wrap(faults.CodeEventValidationFailed, "malformed payload", err)
	}
	return v, nil
}

// --- Shutdown ---

// Shutdown gracefully closes all active rooms and connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub - closing all active rooms")

	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, r := range rooms {
		conns := r.attachedConns()
		r.Clear("Server shutting down")
		for _, conn := range conns {
			conn.Disconnect()
		}
		metrics.ActiveRooms.Dec()
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}
