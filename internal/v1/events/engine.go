// Package events implements the lecture lifecycle engine: a validated status
// state machine over the store whose transitions are mirrored into the
// real-time core's admission gate and the room registry.
package events

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
	"github.com/lectern/classroom-server/internal/v1/metrics"
	"github.com/lectern/classroom-server/internal/v1/store"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// Realtime is the slice of the RTC core the engine mirrors transitions into.
type Realtime interface {
	RegisterLecture(lectureID, roomID string, status types.LectureStatus)
	UpdateLectureStatus(lectureID string, status types.LectureStatus)
	ClearRoom(roomID string)
}

// RoomMirror updates the persisted room record alongside lecture transitions.
type RoomMirror interface {
	MarkOccupied(roomID string, lecture types.LectureSummary) error
	MarkAvailable(roomID string) error
}

// transitions is the full state machine. Absent keys permit nothing, which
// covers the terminal states.
var transitions = map[types.LectureStatus][]types.LectureStatus{
	types.LectureScheduled:  {types.LectureInProgress, types.LectureCancelled, types.LectureDelayed},
	types.LectureDelayed:    {types.LectureInProgress, types.LectureCancelled},
	types.LectureInProgress: {types.LectureCompleted, types.LectureCancelled},
}

func transitionAllowed(from, to types.LectureStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Engine owns lecture records and the transition rules.
type Engine struct {
	store *store.Store
	rt    Realtime
	rooms RoomMirror

	mu     sync.Mutex // guards nextID
	nextID int64
}

// NewEngine builds an engine over the store. rt and rooms may be nil in tests
// that only exercise validation. The id counter resumes past the highest
// persisted lecture id so restarts never reissue an id.
func NewEngine(s *store.Store, rt Realtime, rooms RoomMirror) *Engine {
	e := &Engine{store: s, rt: rt, rooms: rooms}
	for _, l := range s.Lectures(nil) {
		if n, ok := parseMonotonicID(l.ID, "lecture_"); ok && n > e.nextID {
			e.nextID = n
		}
	}
	return e
}

// parseMonotonicID extracts N from "<prefix>N".
func parseMonotonicID(id, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (e *Engine) newLectureID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return fmt.Sprintf("lecture_%d", e.nextID)
}

// CreateEventRequest carries the caller-supplied lecture fields.
type CreateEventRequest struct {
	Name            string    `json:"name"`
	Date            time.Time `json:"date"`
	RoomID          string    `json:"roomId"`
	TeacherID       string    `json:"teacherId"`
	CreatedBy       string    `json:"createdBy"`
	Description     string    `json:"description,omitempty"`
	MaxParticipants int       `json:"maxParticipants,omitempty"`
}

// CreateEvent validates and persists a new lecture with status scheduled.
func (e *Engine) CreateEvent(ctx context.Context, req CreateEventRequest) (types.Lecture, error) {
	if err := validateName(req.Name); err != nil {
		return types.Lecture{}, err
	}
	if err := validateDescription(req.Description); err != nil {
		return types.Lecture{}, err
	}
	if err := validateMaxParticipants(req.MaxParticipants); err != nil {
		return types.Lecture{}, err
	}
	if req.Date.IsZero() {
		return types.Lecture{}, faults.New(faults.CodeEventValidationFailed, "date is required")
	}
	if req.RoomID == "" {
		return types.Lecture{}, faults.New(faults.CodeEventValidationFailed, "roomId is required")
	}
	if req.TeacherID == "" {
		return types.Lecture{}, faults.New(faults.CodeEventValidationFailed, "teacherId is required")
	}
	if _, ok := e.store.RoomByID(req.RoomID); !ok {
		return types.Lecture{}, faults.Newf(faults.CodeRoomNotFound, "room %s not found", req.RoomID)
	}

	lecture := types.Lecture{
		ID:              e.newLectureID(),
		Name:            req.Name,
		Date:            req.Date,
		RoomID:          req.RoomID,
		Type:            "lecture",
		Status:          types.LectureScheduled,
		TeacherID:       req.TeacherID,
		CreatedBy:       req.CreatedBy,
		Description:     req.Description,
		MaxParticipants: req.MaxParticipants,
	}

	if err := e.store.InsertLecture(lecture); err != nil {
		return types.Lecture{}, err
	}

	logging.Info(ctx, "Lecture scheduled",
		zap.String("lectureId", lecture.ID),
		zap.String("roomId", lecture.RoomID),
		zap.String("teacherId", lecture.TeacherID))
	return lecture, nil
}

// GetEvent returns the lecture with the given id.
func (e *Engine) GetEvent(id string) (types.Lecture, error) {
	lecture, ok := e.store.LectureByID(id)
	if !ok {
		return types.Lecture{}, faults.Newf(faults.CodeEventNotFound, "lecture %s not found", id)
	}
	return lecture, nil
}

// ListFilter narrows ListEvents. All set fields apply conjunctively.
type ListFilter struct {
	RoomID    string
	TeacherID string
	Status    types.LectureStatus
}

// ListEvents returns all lectures matching the filter.
func (e *Engine) ListEvents(filter ListFilter) []types.Lecture {
	return e.store.Lectures(func(l types.Lecture) bool {
		if filter.RoomID != "" && l.RoomID != filter.RoomID {
			return false
		}
		if filter.TeacherID != "" && l.TeacherID != filter.TeacherID {
			return false
		}
		if filter.Status != "" && l.Status != filter.Status {
			return false
		}
		return true
	})
}

// EventPatch is a shallow merge of the mutable lecture fields. Nil fields are
// left untouched; set fields are validated by the create rules.
type EventPatch struct {
	Name            *string    `json:"name,omitempty"`
	Date            *time.Time `json:"date,omitempty"`
	Description     *string    `json:"description,omitempty"`
	MaxParticipants *int       `json:"maxParticipants,omitempty"`
}

// UpdateEvent validates the patch and shallow-merges it into the lecture.
func (e *Engine) UpdateEvent(ctx context.Context, id string, patch EventPatch) (types.Lecture, error) {
	current, ok := e.store.LectureByID(id)
	if !ok {
		return types.Lecture{}, faults.Newf(faults.CodeEventNotFound, "lecture %s not found", id)
	}
	if current.Status.Terminal() {
		return types.Lecture{}, faults.Newf(faults.CodeLectureUpdateFailed, "lecture %s is %s", id, current.Status)
	}

	var rejectedAs types.LectureStatus

	if patch.Name != nil {
		if err := validateName(*patch.Name); err != nil {
			return types.Lecture{}, err
		}
	}
	if patch.Description != nil {
		if err := validateDescription(*patch.Description); err != nil {
			return types.Lecture{}, err
		}
	}
	if patch.MaxParticipants != nil {
		if err := validateMaxParticipants(*patch.MaxParticipants); err != nil {
			return types.Lecture{}, err
		}
	}
	if patch.Date != nil && patch.Date.IsZero() {
		return types.Lecture{}, faults.New(faults.CodeEventValidationFailed, "date cannot be empty")
	}

	updated, err := e.store.UpdateLecture(
		func(l types.Lecture) bool { return l.ID == id },
		func(l *types.Lecture) {
			// Re-checked under the store's write lock: a concurrent transition
			// may have terminated the lecture since the read above.
			if l.Status.Terminal() {
				rejectedAs = l.Status
				return
			}
			if patch.Name != nil {
				l.Name = *patch.Name
			}
			if patch.Date != nil {
				l.Date = *patch.Date
			}
			if patch.Description != nil {
				l.Description = *patch.Description
			}
			if patch.MaxParticipants != nil {
				l.MaxParticipants = *patch.MaxParticipants
			}
		},
	)
	if err != nil {
		return types.Lecture{}, err
	}
	if updated == nil {
		return types.Lecture{}, faults.Newf(faults.CodeEventNotFound, "lecture %s not found", id)
	}
	if rejectedAs != "" {
		return types.Lecture{}, faults.Newf(faults.CodeLectureUpdateFailed, "lecture %s is %s", id, rejectedAs)
	}

	logging.Info(ctx, "Lecture updated", zap.String("lectureId", id))
	return *updated, nil
}

// CancelEvent is shorthand for the transition to cancelled.
func (e *Engine) CancelEvent(ctx context.Context, id string) (types.Lecture, error) {
	return e.UpdateEventStatus(ctx, id, types.LectureCancelled)
}

// UpdateEventStatus performs the core transition: validate against the state
// machine, commit to the store, then mirror into the RTC core and the room
// registry. The mirror calls are ordered and run after the store commit so no
// room lock is ever held across a file write. A mirror failure leaves the
// committed transition in place; the lookup is reconstructible from the store.
func (e *Engine) UpdateEventStatus(ctx context.Context, id string, next types.LectureStatus) (types.Lecture, error) {
	now := time.Now().UTC()
	var from types.LectureStatus
	var rejected bool
	updated, err := e.store.UpdateLecture(
		func(l types.Lecture) bool { return l.ID == id },
		func(l *types.Lecture) {
			// The state-machine check runs inside the store's write lock so
			// concurrent transitions serialize: the loser sees the winner's
			// committed status and is rejected, never a stale read.
			from = l.Status
			if !transitionAllowed(l.Status, next) {
				rejected = true
				return
			}
			l.Status = next
			// Timing fields are write-once and never cleared.
			if next == types.LectureInProgress && l.StartTime == nil {
				start := now
				l.StartTime = &start
			}
			if next == types.LectureCompleted && l.EndTime == nil {
				end := now
				l.EndTime = &end
			}
		},
	)
	if err != nil {
		metrics.LectureTransitions.WithLabelValues(string(from), string(next), "error").Inc()
		return types.Lecture{}, err
	}
	if updated == nil {
		return types.Lecture{}, faults.Newf(faults.CodeEventNotFound, "lecture %s not found", id)
	}
	if rejected {
		metrics.LectureTransitions.WithLabelValues(string(from), string(next), "rejected").Inc()
		return types.Lecture{}, faults.Newf(faults.CodeInvalidStatusTransition,
			"cannot transition lecture %s from %s to %s", id, from, next)
	}

	metrics.LectureTransitions.WithLabelValues(string(from), string(next), "ok").Inc()
	logging.Info(ctx, "Lecture transitioned",
		zap.String("lectureId", id),
		zap.String("from", string(from)),
		zap.String("to", string(next)))

	if err := e.mirror(ctx, *updated, next); err != nil {
		return *updated, err
	}
	return *updated, nil
}

// mirror propagates a committed transition into the admission gate and the
// room record.
func (e *Engine) mirror(ctx context.Context, lecture types.Lecture, next types.LectureStatus) error {
	switch next {
	case types.LectureInProgress:
		if e.rt != nil {
			e.rt.RegisterLecture(lecture.ID, lecture.RoomID, next)
		}
		if e.rooms != nil {
			if err := e.rooms.MarkOccupied(lecture.RoomID, lecture.Summary()); err != nil {
				return err
			}
		}
	case types.LectureDelayed:
		if e.rt != nil {
			e.rt.UpdateLectureStatus(lecture.ID, next)
		}
	case types.LectureCompleted, types.LectureCancelled:
		if e.rt != nil {
			e.rt.ClearRoom(lecture.RoomID)
			// The room stays registered under the terminal status so a late
			// join is denied with that status rather than admitted. The
			// registration is purged when the room's resources are deallocated.
			e.rt.RegisterLecture(lecture.ID, lecture.RoomID, next)
		}
		if e.rooms != nil {
			if err := e.rooms.MarkAvailable(lecture.RoomID); err != nil {
				return err
			}
		}
	}

	logging.Info(ctx, "Lecture transition mirrored",
		zap.String("lectureId", lecture.ID),
		zap.String("roomId", lecture.RoomID),
		zap.String("status", string(next)))
	return nil
}

// --- Field validation ---

func validateName(name string) error {
	if n := len(name); n < 3 || n > 100 {
		return faults.Newf(faults.CodeEventValidationFailed, "name must be 3-100 characters (got %d)", len(name))
	}
	return nil
}

func validateDescription(description string) error {
	if description == "" {
		return nil
	}
	if n := len(description); n < 10 || n > 500 {
		return faults.Newf(faults.CodeEventValidationFailed, "description must be 10-500 characters (got %d)", n)
	}
	return nil
}

func validateMaxParticipants(max int) error {
	if max == 0 {
		return nil
	}
	if max < 1 || max > 100 {
		return faults.Newf(faults.CodeEventValidationFailed, "maxParticipants must be 1-100 (got %d)", max)
	}
	return nil
}
