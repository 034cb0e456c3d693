package rtc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/logging"
)

// Teacher controls. These are server-issued API methods, not wire events:
// callers are programmatic (the gateway or operator tooling), so unauthorized
// calls return Unauthorized instead of being silently ignored.

// kickCloseGrace is how long a kicked client gets to self-disconnect before
// the server closes the socket unilaterally. The contract is two seconds.
const kickCloseGrace = 1 * time.Second

// authorizeModerator checks that requesterID belongs to a participant in the
// room whose role permits teacher controls. Caller must hold r.mu.
func (r *Room) authorizeModeratorLocked(requesterID string) error {
	requester := r.findParticipantLocked(requesterID)
	if requester == nil {
		return faults.Newf(faults.CodeParticipantNotFound, "requester %s not in room %s", requesterID, r.ID)
	}
	if !requester.Role.CanModerate() {
		return faults.Newf(faults.CodeUnauthorized, "user %s may not use teacher controls", requesterID)
	}
	return nil
}

// MuteAllParticipants broadcasts mute_all to the room.
func (h *Hub) MuteAllParticipants(roomID, requesterID string) error {
	r, ok := h.room(roomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorizeModeratorLocked(requesterID); err != nil {
		return err
	}

	r.broadcastLocked(EventMuteAll, MuteAllPayload{
		RequestedBy: requesterID,
		Timestamp:   time.Now().UnixMilli(),
	})
	return nil
}

// MuteParticipant emits muted_by_teacher to the target socket only.
func (h *Hub) MuteParticipant(roomID, targetUserID, requesterID string) error {
	r, ok := h.room(roomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorizeModeratorLocked(requesterID); err != nil {
		return err
	}

	target := r.findParticipantLocked(targetUserID)
	if target == nil {
		return faults.Newf(faults.CodeParticipantNotFound, "user %s not in room %s", targetUserID, roomID)
	}
	conn, ok := r.conns[target.SocketID]
	if !ok {
		return faults.Newf(faults.CodeParticipantNotFound, "user %s has no attached socket", targetUserID)
	}

	conn.Send(EventMutedByTeacher, MutedByTeacherPayload{
		RequestedBy: requesterID,
		Reason:      "You have been muted by the teacher",
		Timestamp:   time.Now().UnixMilli(),
	})
	return nil
}

// KickParticipant removes the target from the room, notifies it, announces
// the removal, and force-closes the underlying connection within the grace
// window. The client-side contract is to self-disconnect on receipt, but the
// server closes the socket regardless to defeat misbehaving clients.
func (h *Hub) KickParticipant(roomID, targetUserID, requesterID, reason string) error {
	r, ok := h.room(roomID)
	if !ok {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}
	if reason == "" {
		reason = "Removed by the teacher"
	}

	r.mu.Lock()

	if err := r.authorizeModeratorLocked(requesterID); err != nil {
		r.mu.Unlock()
		return err
	}

	target := r.findParticipantLocked(targetUserID)
	if target == nil {
		r.mu.Unlock()
		return faults.Newf(faults.CodeParticipantNotFound, "user %s not in room %s", targetUserID, roomID)
	}
	conn, hasConn := r.conns[target.SocketID]

	if hasConn {
		conn.Send(EventKickedFromRoom, KickedFromRoomPayload{
			RoomID:    roomID,
			Reason:    reason,
			KickedBy:  requesterID,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	delete(r.participants, target.SocketID)
	delete(r.conns, target.SocketID)
	r.touchLocked()

	r.broadcastLocked(EventParticipantKicked, ParticipantKickedPayload{
		UserID: targetUserID,
		Reason: reason,
	})
	r.mu.Unlock()

	if hasConn {
		time.AfterFunc(kickCloseGrace, conn.Disconnect)
	}

	logging.Info(context.Background(), "Participant kicked",
		zap.String("roomId", roomID),
		zap.String("userId", targetUserID),
		zap.String("kickedBy", requesterID),
		zap.String("reason", reason))
	return nil
}
