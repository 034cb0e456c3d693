// Package gateway is the façade over the lecture engine, the room registry,
// and the RTC core. It enforces the teacher/admin authorization predicate and
// ownership rules, and translates unexpected lower-layer failures into the
// lifecycle error codes callers are documented against.
package gateway

import (
	"context"

	"github.com/lectern/classroom-server/internal/v1/events"
	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/registry"
	"github.com/lectern/classroom-server/internal/v1/rtc"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// Gateway wires the façade's collaborators.
type Gateway struct {
	engine   *events.Engine
	registry *registry.Registry
	hub      *rtc.Hub
}

// New builds the gateway. The hub may be nil when the real-time core is not
// wired; comms operations then fail with CommsNotInitialized.
func New(engine *events.Engine, reg *registry.Registry, hub *rtc.Hub) *Gateway {
	return &Gateway{engine: engine, registry: reg, hub: hub}
}

// authorize enforces the teacher/admin predicate.
func authorize(user types.User) error {
	if !user.Role.CanModerate() {
		return faults.Newf(faults.CodeUnauthorized, "role %s may not perform this operation", user.Role)
	}
	return nil
}

// authorizeOwner additionally requires non-admin teachers to own the lecture.
func authorizeOwner(user types.User, lecture types.Lecture) error {
	if err := authorize(user); err != nil {
		return err
	}
	if user.Role != types.RoleAdmin && lecture.TeacherID != user.ID {
		return faults.Newf(faults.CodeForbidden, "lecture %s belongs to another teacher", lecture.ID)
	}
	return nil
}

// wrapLifecycle rewraps storage failures under a lifecycle code. Validation,
// transition, and not-found faults surface to the caller unchanged.
func wrapLifecycle(code faults.Code, message string, err error) error {
	if err == nil {
		return nil
	}
	switch faults.CodeOf(err) {
	case faults.CodeDatabaseRead, faults.CodeDatabaseWrite:
		return faults.Wrap(code, message, err)
	default:
		return err
	}
}

// --- Lectures ---

// ScheduleLecture creates a lecture on behalf of a teacher or admin.
func (g *Gateway) ScheduleLecture(ctx context.Context, user types.User, req events.CreateEventRequest) (types.Lecture, error) {
	if err := authorize(user); err != nil {
		return types.Lecture{}, err
	}
	if user.Role != types.RoleAdmin && req.TeacherID != user.ID {
		return types.Lecture{}, faults.New(faults.CodeForbidden, "teachers may only schedule their own lectures")
	}
	lecture, err := g.engine.CreateEvent(ctx, req)
	return lecture, wrapLifecycle(faults.CodeLectureSchedulingFailed, "failed to schedule lecture", err)
}

// UpdateLecture patches a lecture the caller owns.
func (g *Gateway) UpdateLecture(ctx context.Context, user types.User, id string, patch events.EventPatch) (types.Lecture, error) {
	lecture, err := g.engine.GetEvent(id)
	if err != nil {
		return types.Lecture{}, err
	}
	if err := authorizeOwner(user, lecture); err != nil {
		return types.Lecture{}, err
	}
	updated, err := g.engine.UpdateEvent(ctx, id, patch)
	return updated, wrapLifecycle(faults.CodeLectureUpdateFailed, "failed to update lecture", err)
}

// CancelLecture cancels a lecture the caller owns.
func (g *Gateway) CancelLecture(ctx context.Context, user types.User, id string) (types.Lecture, error) {
	lecture, err := g.engine.GetEvent(id)
	if err != nil {
		return types.Lecture{}, err
	}
	if err := authorizeOwner(user, lecture); err != nil {
		return types.Lecture{}, err
	}
	cancelled, err := g.engine.CancelEvent(ctx, id)
	return cancelled, wrapLifecycle(faults.CodeLectureCancellationFailed, "failed to cancel lecture", err)
}

// TransitionLecture moves a lecture the caller owns to a new status.
func (g *Gateway) TransitionLecture(ctx context.Context, user types.User, id string, status types.LectureStatus) (types.Lecture, error) {
	lecture, err := g.engine.GetEvent(id)
	if err != nil {
		return types.Lecture{}, err
	}
	if err := authorizeOwner(user, lecture); err != nil {
		return types.Lecture{}, err
	}
	updated, err := g.engine.UpdateEventStatus(ctx, id, status)
	return updated, wrapLifecycle(faults.CodeLectureUpdateFailed, "failed to transition lecture", err)
}

// ListLectures returns lectures matching the filter. Open to any caller.
func (g *Gateway) ListLectures(filter events.ListFilter) []types.Lecture {
	return g.engine.ListEvents(filter)
}

// LectureDetails returns one lecture. Open to any caller.
func (g *Gateway) LectureDetails(id string) (types.Lecture, error) {
	lecture, err := g.engine.GetEvent(id)
	return lecture, wrapLifecycle(faults.CodeLectureDetailsFailed, "failed to load lecture", err)
}

// --- Rooms ---

// CreateRoom creates a room on behalf of a teacher or admin.
func (g *Gateway) CreateRoom(ctx context.Context, user types.User, req registry.CreateRoomRequest) (types.Room, error) {
	if err := authorize(user); err != nil {
		return types.Room{}, err
	}
	return g.registry.CreateRoom(ctx, req)
}

// GetRoom returns one room. Open to any caller.
func (g *Gateway) GetRoom(id string) (types.Room, error) {
	return g.registry.GetRoom(id)
}

// ListRooms returns rooms, optionally narrowed to one status. Open to any caller.
func (g *Gateway) ListRooms(status types.RoomStatus) []types.Room {
	return g.registry.ListRooms(status)
}

// --- Comms (real-time core) ---

func (g *Gateway) comms() (*rtc.Hub, error) {
	if g.hub == nil {
		return nil, faults.New(faults.CodeCommsNotInitialized, "real-time core is not initialized")
	}
	return g.hub, nil
}

// SetupCommunication prepares runtime state for a room.
func (g *Gateway) SetupCommunication(roomID string) error {
	hub, err := g.comms()
	if err != nil {
		return err
	}
	if _, err := g.registry.GetRoom(roomID); err != nil {
		return faults.Wrap(faults.CodeCommunicationSetupFailed, "cannot set up communication", err)
	}
	hub.SetupForRoom(roomID)
	return nil
}

// RoomParticipants returns the in-memory participant snapshot for a room.
func (g *Gateway) RoomParticipants(roomID string) ([]rtc.Participant, error) {
	hub, err := g.comms()
	if err != nil {
		return nil, faults.Wrap(faults.CodeResourceStatusFailed, "cannot query participants", err)
	}
	return hub.GetRoomParticipants(roomID), nil
}

// MuteAll broadcasts mute_all in a room on behalf of the requester.
func (g *Gateway) MuteAll(roomID string, requester types.User) error {
	hub, err := g.comms()
	if err != nil {
		return err
	}
	return hub.MuteAllParticipants(roomID, requester.ID)
}

// MuteParticipant mutes one participant on behalf of the requester.
func (g *Gateway) MuteParticipant(roomID, targetUserID string, requester types.User) error {
	hub, err := g.comms()
	if err != nil {
		return err
	}
	return hub.MuteParticipant(roomID, targetUserID, requester.ID)
}

// KickParticipant removes one participant on behalf of the requester.
func (g *Gateway) KickParticipant(roomID, targetUserID string, requester types.User, reason string) error {
	hub, err := g.comms()
	if err != nil {
		return err
	}
	return hub.KickParticipant(roomID, targetUserID, requester.ID, reason)
}
