// Package registry is the thin room service over the store: room creation
// with monotonic ids and default features, plus the convenience wrappers for
// binding lectures to rooms. The canonical path for lecture status changes is
// the lecture engine; the wrappers here use the manual registration path.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/logging"
	"github.com/lectern/classroom-server/internal/v1/store"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// Realtime is the slice of the RTC core the registry drives.
type Realtime interface {
	SetupForRoom(roomID string)
	RegisterLecture(lectureID, roomID string, status types.LectureStatus)
	UnregisterLecture(lectureID string)
	ClearRoom(roomID string)
}

// Registry manages persisted room records.
type Registry struct {
	store *store.Store
	rt    Realtime

	mu     sync.Mutex // guards nextID
	nextID int64
}

// NewRegistry builds a registry over the store. The id counter resumes past
// the highest persisted room id so restarts never reissue an id.
func NewRegistry(s *store.Store, rt Realtime) *Registry {
	r := &Registry{store: s, rt: rt}
	for _, room := range s.Rooms(nil) {
		if rest, ok := strings.CutPrefix(room.ID, "room_"); ok {
			if n, err := strconv.ParseInt(rest, 10, 64); err == nil && n > r.nextID {
				r.nextID = n
			}
		}
	}
	return r
}

func (r *Registry) newRoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return fmt.Sprintf("room_%d", r.nextID)
}

// CreateRoomRequest carries the caller-supplied room fields.
type CreateRoomRequest struct {
	Name     string              `json:"name"`
	Capacity int                 `json:"capacity"`
	Features *types.RoomFeatures `json:"features,omitempty"`
}

// CreateRoom persists a new available room and prepares its runtime state.
func (r *Registry) CreateRoom(ctx context.Context, req CreateRoomRequest) (types.Room, error) {
	if req.Name == "" {
		return types.Room{}, faults.New(faults.CodeEventValidationFailed, "room name is required")
	}
	if req.Capacity < 0 {
		return types.Room{}, faults.Newf(faults.CodeEventValidationFailed, "capacity cannot be negative (got %d)", req.Capacity)
	}

	features := types.DefaultRoomFeatures()
	if req.Features != nil {
		features = *req.Features
	}

	now := time.Now().UTC()
	room := types.Room{
		ID:        r.newRoomID(),
		Name:      req.Name,
		Capacity:  req.Capacity,
		Status:    types.RoomAvailable,
		Features:  features,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.InsertRoom(room); err != nil {
		return types.Room{}, err
	}

	if r.rt != nil {
		r.rt.SetupForRoom(room.ID)
	}

	logging.Info(ctx, "Room created",
		zap.String("roomId", room.ID), zap.String("name", room.Name), zap.Int("capacity", room.Capacity))
	return room, nil
}

// GetRoom returns the room with the given id.
func (r *Registry) GetRoom(id string) (types.Room, error) {
	room, ok := r.store.RoomByID(id)
	if !ok {
		return types.Room{}, faults.Newf(faults.CodeRoomNotFound, "room %s not found", id)
	}
	return room, nil
}

// ListRooms returns all rooms, optionally narrowed to one status.
func (r *Registry) ListRooms(status types.RoomStatus) []types.Room {
	if status == "" {
		return r.store.Rooms(nil)
	}
	return r.store.Rooms(func(room types.Room) bool { return room.Status == status })
}

// MarkOccupied sets the room occupied with the given lecture attached. The
// lecture engine calls this when a lecture enters in-progress.
func (r *Registry) MarkOccupied(roomID string, lecture types.LectureSummary) error {
	updated, err := r.store.UpdateRoom(
		func(room types.Room) bool { return room.ID == roomID },
		func(room *types.Room) {
			room.Status = types.RoomOccupied
			room.CurrentLecture = &lecture
		},
	)
	if err != nil {
		return err
	}
	if updated == nil {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}
	return nil
}

// MarkAvailable sets the room available and detaches the current lecture.
func (r *Registry) MarkAvailable(roomID string) error {
	updated, err := r.store.UpdateRoom(
		func(room types.Room) bool { return room.ID == roomID },
		func(room *types.Room) {
			room.Status = types.RoomAvailable
			room.CurrentLecture = nil
		},
	)
	if err != nil {
		return err
	}
	if updated == nil {
		return faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}
	return nil
}

// AssignLectureToRoom attaches a lecture summary to a room and marks it
// scheduled, without touching the admission gate.
func (r *Registry) AssignLectureToRoom(ctx context.Context, roomID string, lecture types.LectureSummary) (types.Room, error) {
	updated, err := r.store.UpdateRoom(
		func(room types.Room) bool { return room.ID == roomID },
		func(room *types.Room) {
			room.Status = types.RoomScheduled
			room.CurrentLecture = &lecture
		},
	)
	if err != nil {
		return types.Room{}, err
	}
	if updated == nil {
		return types.Room{}, faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}

	logging.Info(ctx, "Lecture assigned to room",
		zap.String("roomId", roomID), zap.String("lectureId", lecture.ID))
	return *updated, nil
}

// StartLecture is the manual path for making a room admissible without the
// lecture engine: it registers the room's current lecture as active and marks
// the room occupied.
func (r *Registry) StartLecture(ctx context.Context, roomID string) (types.Room, error) {
	room, ok := r.store.RoomByID(roomID)
	if !ok {
		return types.Room{}, faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}
	if room.CurrentLecture == nil {
		return types.Room{}, faults.Newf(faults.CodeNoLectureScheduled, "room %s has no lecture scheduled", roomID)
	}

	if r.rt != nil {
		r.rt.RegisterLecture(room.CurrentLecture.ID, roomID, types.LectureActive)
	}

	updated, err := r.store.UpdateRoom(
		func(room types.Room) bool { return room.ID == roomID },
		func(room *types.Room) {
			room.Status = types.RoomOccupied
			if room.CurrentLecture != nil {
				room.CurrentLecture.Status = types.LectureActive
			}
		},
	)
	if err != nil {
		return types.Room{}, err
	}
	if updated == nil {
		return types.Room{}, faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}

	logging.Info(ctx, "Lecture started on room",
		zap.String("roomId", roomID), zap.String("lectureId", room.CurrentLecture.ID))
	return *updated, nil
}

// EndLecture is the manual counterpart of StartLecture: it clears the room's
// runtime state, unregisters the lecture, and frees the room.
func (r *Registry) EndLecture(ctx context.Context, roomID string) (types.Room, error) {
	room, ok := r.store.RoomByID(roomID)
	if !ok {
		return types.Room{}, faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}
	if room.CurrentLecture == nil {
		return types.Room{}, faults.Newf(faults.CodeNoLectureActive, "room %s has no active lecture", roomID)
	}

	if r.rt != nil {
		r.rt.ClearRoom(roomID)
		r.rt.UnregisterLecture(room.CurrentLecture.ID)
	}

	updated, err := r.store.UpdateRoom(
		func(room types.Room) bool { return room.ID == roomID },
		func(room *types.Room) {
			room.Status = types.RoomAvailable
			room.CurrentLecture = nil
		},
	)
	if err != nil {
		return types.Room{}, err
	}
	if updated == nil {
		return types.Room{}, faults.Newf(faults.CodeRoomNotFound, "room %s not found", roomID)
	}

	logging.Info(ctx, "Lecture ended on room",
		zap.String("roomId", roomID), zap.String("lectureId", room.CurrentLecture.ID))
	return *updated, nil
}
