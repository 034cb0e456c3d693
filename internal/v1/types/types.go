// Package types holds the core domain model shared by the store, the lecture
// engine, and the real-time core.
package types

import "time"

// --- Users ---

// Role defines the permission level a user carries into a room.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// CanModerate reports whether the role may use teacher controls and streaming.
func (r Role) CanModerate() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// PresenceStatus is the user's self-reported presence.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// User is the identity carrier on each connection. Identity is established
// upstream; the server treats Role from the join payload as ground truth.
type User struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	Role        Role           `json:"role"`
	Status      PresenceStatus `json:"status,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	Email       string         `json:"email,omitempty"`
}

// --- Rooms ---

// RoomStatus is the persisted availability state of a room.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "available"
	RoomOccupied    RoomStatus = "occupied"
	RoomScheduled   RoomStatus = "scheduled"
	RoomMaintenance RoomStatus = "maintenance"
)

// RoomFeatures flags the capabilities a room offers.
type RoomFeatures struct {
	Video       bool `json:"video"`
	Audio       bool `json:"audio"`
	Chat        bool `json:"chat"`
	Whiteboard  bool `json:"whiteboard"`
	ScreenShare bool `json:"screenShare"`
}

// DefaultRoomFeatures are applied when a room is created without explicit features.
func DefaultRoomFeatures() RoomFeatures {
	return RoomFeatures{
		Video:       true,
		Audio:       true,
		Chat:        true,
		Whiteboard:  false,
		ScreenShare: true,
	}
}

// LectureSummary is the denormalized lecture reference stored on a room.
type LectureSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	TeacherID string        `json:"teacherId"`
	Status    LectureStatus `json:"status"`
}

// Room is the persistent slot in which a lecture may be held. Participants are
// never persisted; they live only in the real-time core's memory.
type Room struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Capacity       int             `json:"capacity"`
	Status         RoomStatus      `json:"status"`
	Features       RoomFeatures    `json:"features"`
	CurrentLecture *LectureSummary `json:"currentLecture"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// --- Lectures ---

// LectureStatus is a lecture's lifecycle state.
type LectureStatus string

const (
	LectureScheduled  LectureStatus = "scheduled"
	LectureDelayed    LectureStatus = "delayed"
	LectureInProgress LectureStatus = "in-progress"
	LectureCompleted  LectureStatus = "completed"
	LectureCancelled  LectureStatus = "cancelled"

	// LectureActive is an internal synonym used by manual registration paths.
	// It is admissible like in-progress but never written by the lecture engine.
	LectureActive LectureStatus = "active"
)

// Admissible reports whether a lecture in this status admits joiners.
func (s LectureStatus) Admissible() bool {
	return s == LectureInProgress || s == LectureActive
}

// Terminal reports whether the status permits no further transitions.
func (s LectureStatus) Terminal() bool {
	return s == LectureCompleted || s == LectureCancelled
}

// Lecture is a scheduled teaching event bound to one room.
//
// StartTime is set exactly once, on the transition into in-progress; EndTime is
// set exactly once, on the transition into completed. Neither is ever cleared.
type Lecture struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Date            time.Time     `json:"date"`
	RoomID          string        `json:"roomId"`
	Type            string        `json:"type"`
	Status          LectureStatus `json:"status"`
	TeacherID       string        `json:"teacherId"`
	CreatedBy       string        `json:"createdBy"`
	Description     string        `json:"description,omitempty"`
	MaxParticipants int           `json:"maxParticipants,omitempty"`
	StartTime       *time.Time    `json:"startTime,omitempty"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
}

// Summary returns the denormalized reference stored on the lecture's room.
func (l Lecture) Summary() LectureSummary {
	return LectureSummary{
		ID:        l.ID,
		Name:      l.Name,
		TeacherID: l.TeacherID,
		Status:    l.Status,
	}
}
