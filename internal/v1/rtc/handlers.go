package rtc

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/logging"
)

// streamQualities is the accepted set for start_stream.
var streamQualities = map[string]bool{"low": true, "medium": true, "high": true}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, payload json.RawMessage) error {
	p, err := decodePayload[JoinRoomPayload](payload)
	if err != nil {
		return err
	}
	if p.RoomID == "" || p.User.ID == "" {
		return faults.New(faults.CodeEventValidationFailed, "join_room requires roomId and user")
	}

	// Admission gate: a registered, non-admissible lecture denies the join.
	// Unregistered rooms stay admissible for backward compatibility.
	if status, registered := h.lookup.StatusForRoom(p.RoomID); registered && !status.Admissible() {
		logging.Info(ctx, "Join denied",
			zap.String("roomId", p.RoomID),
			zap.String("userId", p.User.ID),
			zap.String("lectureStatus", string(status)))
		c.Send(EventJoinRoomError, JoinRoomErrorPayload{
			Code:          CodeRoomUnavailable,
			Message:       admissionDenialMessage(status),
			LectureStatus: status,
			RoomID:        p.RoomID,
		})
		return nil
	}

	r := h.getOrCreateRoom(p.RoomID)

	if h.directory != nil {
		if record, ok := h.directory.RoomByID(p.RoomID); ok && record.Capacity > 0 && r.ParticipantCount() >= record.Capacity {
			return faults.Newf(faults.CodeRoomFull, "room %s is at capacity (%d)", p.RoomID, record.Capacity)
		}
	}

	c.bindUser(p.User)
	r.Join(c, newParticipant(p.User, c.socketID))
	c.trackRoom(p.RoomID)

	logging.Info(ctx, "User joined room",
		zap.String("roomId", p.RoomID),
		zap.String("userId", p.User.ID),
		zap.String("socketId", c.socketID),
		zap.String("role", string(p.User.Role)))
	return nil
}

func (h *Hub) handleLeaveRoom(_ context.Context, c *Client, payload json.RawMessage) error {
	p, err := decodePayload[LeaveRoomPayload](payload)
	if err != nil {
		return err
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	r.Leave(c.socketID)
	c.untrackRoom(p.RoomID)
	return nil
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, payload json.RawMessage) error {
	p, err := decodePayload[SendMessagePayload](payload)
	if err != nil {
		return err
	}
	if p.Message.Content == "" {
		return faults.New(faults.CodeEventValidationFailed, "message content cannot be empty")
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	if !r.ContainsSocket(c.socketID) {
		return faults.Newf(faults.CodeParticipantNotFound, "socket not in room %s", p.RoomID)
	}
	r.AddMessage(ctx, p.Message)
	return nil
}

func (h *Hub) handleStartStream(_ context.Context, c *Client, payload json.RawMessage) error {
	p, err := decodePayload[StartStreamPayload](payload)
	if err != nil {
		return err
	}
	if !streamQualities[p.Quality] {
		return faults.Newf(faults.CodeEventValidationFailed, "invalid stream quality %q", p.Quality)
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	r.StartStream(p.UserID, p.Quality)
	return nil
}

func (h *Hub) handleStopStream(_ context.Context, c *Client, payload json.RawMessage) error {
	p, err := decodePayload[StopStreamPayload](payload)
	if err != nil {
		return err
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	r.StopStream()
	return nil
}

func (h *Hub) handleSignal(_ context.Context, c *Client, event string, payload json.RawMessage) error {
	p, err := decodePayload[SignalPayload](payload)
	if err != nil {
		return err
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	return r.Relay(c.socketID, event, p)
}

func (h *Hub) handleRecordingStarted(_ context.Context, c *Client, payload json.RawMessage) error {
	p, err := decodePayload[RecordingStartedPayload](payload)
	if err != nil {
		return err
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	// Authorization trusted from the payload: the caller is the teacher.
	r.Broadcast(EventLectureRecStarted, RecordingStartedEvent{
		TeacherID: p.TeacherID,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

func (h *Hub) handleRecordingStopped(_ context.Context, c *Client, payload json.RawMessage) error {
	p, err := decodePayload[RecordingStoppedPayload](payload)
	if err != nil {
		return err
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	r.Broadcast(EventLectureRecStopped, RecordingStoppedEvent{
		TeacherID: p.TeacherID,
		Duration:  p.Duration,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

func (h *Hub) handleHand(_ context.Context, c *Client, payload json.RawMessage, raised bool) error {
	p, err := decodePayload[HandPayload](payload)
	if err != nil {
		return err
	}
	r, ok := h.room(p.RoomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", p.RoomID)
	}
	return r.SetHandRaised(p.UserID, raised)
}
