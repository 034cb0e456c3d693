package rtc

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/logging"
	"github.com/lectern/classroom-server/internal/v1/metrics"
)

const (
	// maxMessageHistory bounds the in-memory chat window per room.
	maxMessageHistory = 100

	// chatLogPreviewLen is the truncation point for chat previews in logs.
	chatLogPreviewLen = 50
)

// clientConn is the behavior a room needs from a connection. The concrete
// *Client satisfies it; tests use in-memory fakes.
type clientConn interface {
	SocketID() string
	Send(event string, payload any)
	SendRaw(data []byte)
	Disconnect()
}

// Room is the per-room runtime: participants, bounded chat history, the single
// active stream, and the broadcast group. Every mutation happens under the
// room mutex, and broadcasts are issued under the same lock so all surviving
// clients observe one serialization of the room's events.
type Room struct {
	ID string

	mu           sync.RWMutex
	participants map[string]*Participant // keyed by socket id
	conns        map[string]clientConn   // broadcast group, keyed by socket id
	messages     *list.List              // of ChatMessage, FIFO, bounded
	messageSeq   int64
	stream       *StreamState
	lastActivity time.Time
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		participants: make(map[string]*Participant),
		conns:        make(map[string]clientConn),
		messages:     list.New(),
		lastActivity: time.Now().UTC(),
	}
}

// touchLocked stamps lastActivity. Caller must hold r.mu.
func (r *Room) touchLocked() {
	r.lastActivity = time.Now().UTC()
}

// broadcastLocked encodes once and fans out to every attached connection.
// Caller must hold r.mu.
func (r *Room) broadcastLocked(event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode broadcast",
			zap.String("room", r.ID), zap.String("event", event), zap.Error(err))
		return
	}
	for _, conn := range r.conns {
		conn.SendRaw(data)
	}
}

// broadcastExceptLocked fans out to every connection except the named socket.
func (r *Room) broadcastExceptLocked(exceptSocketID, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode broadcast",
			zap.String("room", r.ID), zap.String("event", event), zap.Error(err))
		return
	}
	for socketID, conn := range r.conns {
		if socketID != exceptSocketID {
			conn.SendRaw(data)
		}
	}
}

// Broadcast sends an event to every attached connection.
func (r *Room) Broadcast(event string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.broadcastLocked(event, payload)
}

// stateLocked snapshots the room for a room_state payload.
func (r *Room) stateLocked() RoomStatePayload {
	participants := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, *p)
	}
	messages := make([]ChatMessage, 0, r.messages.Len())
	for e := r.messages.Front(); e != nil; e = e.Next() {
		messages = append(messages, e.Value.(ChatMessage))
	}
	var stream *StreamState
	if r.stream != nil {
		s := *r.stream
		stream = &s
	}
	return RoomStatePayload{Stream: stream, Participants: participants, Messages: messages}
}

// Join attaches a connection as a participant. The joiner receives welcome and
// a room_state reflecting the state after its own insertion; existing members
// receive user_joined. The joiner is never echoed its own user_joined.
func (r *Room) Join(conn clientConn, participant *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants[participant.SocketID] = participant
	r.conns[participant.SocketID] = conn
	r.touchLocked()

	conn.Send(EventWelcome, WelcomePayload{
		Message:   "Welcome to " + r.ID,
		Timestamp: time.Now().UnixMilli(),
	})
	conn.Send(EventRoomState, r.stateLocked())

	r.broadcastExceptLocked(participant.SocketID, EventUserJoined, participant.joinedInfo())

	metrics.RoomParticipants.WithLabelValues(r.ID).Set(float64(len(r.participants)))
}

// Leave detaches a socket and announces user_left to the remaining members.
func (r *Room) Leave(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeSocketLocked(socketID)
}

// removeSocketLocked drops a socket from the room, announces user_left, and
// stops the stream if the leaver was the streamer. Caller must hold r.mu.
func (r *Room) removeSocketLocked(socketID string) {
	p, ok := r.participants[socketID]
	if !ok {
		// Connection may be attached without a participant entry (already
		// kicked); still detach it.
		delete(r.conns, socketID)
		return
	}
	delete(r.participants, socketID)
	delete(r.conns, socketID)
	r.touchLocked()

	r.broadcastLocked(EventUserLeft, UserLeftPayload{SocketID: socketID, UserID: p.ID})

	if r.stream != nil && r.stream.StreamerID == p.ID {
		r.stream = nil
		r.broadcastLocked(EventStreamStopped, nil)
	}

	if len(r.participants) > 0 {
		metrics.RoomParticipants.WithLabelValues(r.ID).Set(float64(len(r.participants)))
	} else {
		metrics.RoomParticipants.DeleteLabelValues(r.ID)
	}
}

// ContainsSocket reports whether the socket is attached to this room.
func (r *Room) ContainsSocket(socketID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[socketID]
	return ok
}

// AddMessage stamps, stores, and broadcasts a chat message. The history is a
// bounded FIFO: the oldest entry is dropped once the window exceeds its cap.
func (r *Room) AddMessage(ctx context.Context, in InboundMessage) ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messageSeq++
	msg := ChatMessage{
		UserID:    in.UserID,
		Username:  in.Username,
		Content:   in.Content,
		Timestamp: time.Now().UnixMilli(),
		Seq:       r.messageSeq,
	}
	r.messages.PushBack(msg)
	for r.messages.Len() > maxMessageHistory {
		r.messages.Remove(r.messages.Front())
	}
	r.touchLocked()

	logging.Info(ctx, "Chat message",
		zap.String("room", r.ID),
		zap.String("userId", in.UserID),
		zap.String("preview", logging.TruncateForLog(in.Content, chatLogPreviewLen)))

	r.broadcastLocked(EventNewMessage, msg)
	return msg
}

// StartStream overwrites the room's stream state and announces it.
func (r *Room) StartStream(userID, quality string) StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream := StreamState{
		StreamerID: userID,
		Quality:    quality,
		StartedAt:  time.Now().UnixMilli(),
	}
	r.stream = &stream
	r.touchLocked()
	r.broadcastLocked(EventStreamStarted, stream)
	return stream
}

// StopStream clears the stream state and announces it.
func (r *Room) StopStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = nil
	r.touchLocked()
	r.broadcastLocked(EventStreamStopped, nil)
}

// Relay forwards a WebRTC signal to the socket addressed by peerID,
// readdressed with the sender's socket id. The server never parses SDP.
func (r *Room) Relay(fromSocketID string, event string, signal SignalPayload) error {
	r.mu.RLock()
	target, ok := r.conns[signal.PeerID]
	r.mu.RUnlock()
	if !ok {
		return faults.Newf(faults.CodeParticipantNotFound, "peer %s not in room %s", signal.PeerID, r.ID)
	}

	target.Send(event, SignalForward{
		FromPeerID: fromSocketID,
		Offer:      signal.Offer,
		Answer:     signal.Answer,
		Candidate:  signal.Candidate,
	})
	return nil
}

// SetHandRaised toggles a participant's hand by user id and announces it.
func (r *Room) SetHandRaised(userID string, raised bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findParticipantLocked(userID)
	if p == nil {
		return faults.Newf(faults.CodeParticipantNotFound, "user %s not in room %s", userID, r.ID)
	}

	p.HandRaised = raised
	now := time.Now()
	if raised {
		p.HandRaisedAt = &now
		r.broadcastLocked(EventHandRaised, HandRaisedPayload{
			UserID:    p.ID,
			Username:  p.Username,
			Timestamp: now.UnixMilli(),
		})
	} else {
		p.HandRaisedAt = nil
		r.broadcastLocked(EventHandLowered, HandLoweredPayload{
			UserID:    p.ID,
			Timestamp: now.UnixMilli(),
		})
	}
	r.touchLocked()
	return nil
}

// findParticipantLocked scans for a participant by user id. Caller holds r.mu.
func (r *Room) findParticipantLocked(userID string) *Participant {
	for _, p := range r.participants {
		if p.ID == userID {
			return p
		}
	}
	return nil
}

// Participants returns a snapshot list from memory, never from the store.
func (r *Room) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

// ParticipantCount returns the number of attached participants.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Messages returns a snapshot of the bounded chat history.
func (r *Room) Messages() []ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChatMessage, 0, r.messages.Len())
	for e := r.messages.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(ChatMessage))
	}
	return out
}

// Stream returns a copy of the current stream state, or nil.
func (r *Room) Stream() *StreamState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stream == nil {
		return nil
	}
	s := *r.stream
	return &s
}

// LastActivity returns the time of the room's most recent mutation.
func (r *Room) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

// Clear purges all runtime state and notifies still-attached connections with
// room_cleared. Clients are expected to drop the room on receipt.
func (r *Room) Clear(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcastLocked(EventRoomCleared, RoomClearedPayload{
		RoomID:    r.ID,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	})

	r.participants = make(map[string]*Participant)
	r.conns = make(map[string]clientConn)
	r.messages.Init()
	r.messageSeq = 0
	r.stream = nil
	r.lastActivity = time.Now().UTC()

	metrics.RoomParticipants.DeleteLabelValues(r.ID)
}

// attachedConns snapshots the broadcast group for shutdown sequencing.
func (r *Room) attachedConns() []clientConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]clientConn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// handleSocketGone cleans up after an abrupt disconnect of the given socket.
func (r *Room) handleSocketGone(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeSocketLocked(socketID)
}
