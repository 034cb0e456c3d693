package rtc

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lectern/classroom-server/internal/v1/logging"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// lectureRecord is the lookup's view of a registered lecture.
type lectureRecord struct {
	ID     string
	Status types.LectureStatus
	RoomID string
}

// LectureLookup is the pair of mutually-consistent maps gating join_room:
// roomId -> lectureId and lectureId -> record. Both are mutated under a single
// mutex with point-writes. The lookup is reconstructible from the store on
// restart, so mirror failures are recoverable by replay.
type LectureLookup struct {
	mu        sync.Mutex
	byRoom    map[string]string
	byLecture map[string]lectureRecord
}

// NewLectureLookup creates an empty lookup.
func NewLectureLookup() *LectureLookup {
	return &LectureLookup{
		byRoom:    make(map[string]string),
		byLecture: make(map[string]lectureRecord),
	}
}

// Register binds a lecture to its room with the given status.
func (l *LectureLookup) Register(lectureID, roomID string, status types.LectureStatus) {
	logActiveDrift(lectureID, status)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.byRoom[roomID] = lectureID
	l.byLecture[lectureID] = lectureRecord{ID: lectureID, Status: status, RoomID: roomID}
}

// UpdateStatus changes the status of a registered lecture. Unknown lectures
// are ignored; the canonical state lives in the store.
func (l *LectureLookup) UpdateStatus(lectureID string, status types.LectureStatus) {
	logActiveDrift(lectureID, status)

	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byLecture[lectureID]
	if !ok {
		return
	}
	rec.Status = status
	l.byLecture[lectureID] = rec
}

// Unregister removes a lecture from both maps.
func (l *LectureLookup) Unregister(lectureID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byLecture[lectureID]
	if !ok {
		return
	}
	delete(l.byLecture, lectureID)
	if l.byRoom[rec.RoomID] == lectureID {
		delete(l.byRoom, rec.RoomID)
	}
}

// RoomAvailable reports whether a room is admissible: true iff a registered
// lecture exists for it with an admissible status. An unregistered room is
// admissible for backward compatibility.
func (l *LectureLookup) RoomAvailable(roomID string) bool {
	status, registered := l.StatusForRoom(roomID)
	if !registered {
		return true
	}
	return status.Admissible()
}

// StatusForRoom returns the status of the lecture registered for roomID.
func (l *LectureLookup) StatusForRoom(roomID string) (types.LectureStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lectureID, ok := l.byRoom[roomID]
	if !ok {
		return "", false
	}
	rec, ok := l.byLecture[lectureID]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// LectureForRoom resolves a room id to its registered lecture id.
func (l *LectureLookup) LectureForRoom(roomID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lectureID, ok := l.byRoom[roomID]
	return lectureID, ok
}

// RoomForLecture resolves a lecture id to its registered room id.
func (l *LectureLookup) RoomForLecture(lectureID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byLecture[lectureID]
	if !ok {
		return "", false
	}
	return rec.RoomID, true
}

// Len returns the number of registered lectures.
func (l *LectureLookup) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byLecture)
}

// logActiveDrift flags use of the legacy "active" status so operators can
// detect callers that have not moved to in-progress. Do not normalize it.
func logActiveDrift(lectureID string, status types.LectureStatus) {
	if status == types.LectureActive {
		logging.Warn(context.Background(), "Lecture registered with legacy 'active' status",
			zap.String("lectureId", lectureID))
	}
}
