package rtc

import (
	"encoding/json"

	"github.com/lectern/classroom-server/internal/v1/types"
)

// Event names for client -> server
const (
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventStartStream      = "start_stream"
	EventStopStream       = "stop_stream"
	EventWebRTCOffer      = "webrtc_offer"
	EventWebRTCAnswer     = "webrtc_answer"
	EventWebRTCCandidate  = "webrtc_ice_candidate"
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
	EventRaiseHand        = "raise_hand"
	EventLowerHand        = "lower_hand"
)

// Event names for server -> client
const (
	EventWelcome             = "welcome"
	EventRoomState           = "room_state"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventNewMessage          = "new_message"
	EventStreamStarted       = "stream_started"
	EventStreamStopped       = "stream_stopped"
	EventLectureRecStarted   = "lecture_recording_started"
	EventLectureRecStopped   = "lecture_recording_stopped"
	EventMuteAll             = "mute_all"
	EventMutedByTeacher      = "muted_by_teacher"
	EventKickedFromRoom      = "kicked_from_room"
	EventParticipantKicked   = "participant_kicked"
	EventHandRaised          = "hand_raised"
	EventHandLowered         = "hand_lowered"
	EventRoomCleared         = "room_cleared"
	EventJoinRoomError       = "join_room_error"
	EventError               = "error"
)

// CodeRoomUnavailable is the single admission-denial code.
const CodeRoomUnavailable = "ROOM_UNAVAILABLE"

// Envelope is the wire frame: an event name plus a JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// encodeEnvelope serializes an event with its payload to wire bytes.
func encodeEnvelope(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// ============================================================================
// Client -> Server payloads
// ============================================================================

type JoinRoomPayload struct {
	RoomID string     `json:"roomId"`
	User   types.User `json:"user"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// InboundMessage is the sender-supplied part of a chat message.
type InboundMessage struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

type SendMessagePayload struct {
	RoomID  string         `json:"roomId"`
	Message InboundMessage `json:"message"`
}

type StartStreamPayload struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	Quality string `json:"quality"`
}

type StopStreamPayload struct {
	RoomID string `json:"roomId"`
}

// SignalPayload carries WebRTC offers, answers, and ICE candidates. The server
// relays the raw SDP/candidate blobs without inspecting them.
type SignalPayload struct {
	RoomID    string          `json:"roomId"`
	PeerID    string          `json:"peerId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type RecordingStartedPayload struct {
	RoomID    string `json:"roomId"`
	TeacherID string `json:"teacherId"`
}

type RecordingStoppedPayload struct {
	RoomID    string  `json:"roomId"`
	TeacherID string  `json:"teacherId"`
	Duration  float64 `json:"duration"`
}

type HandPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ============================================================================
// Server -> Client payloads
// ============================================================================

type WelcomePayload struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ChatMessage is a server-stamped chat entry.
type ChatMessage struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Seq       int64  `json:"seq"`
}

// StreamState describes the single teacher-originated media stream of a room.
type StreamState struct {
	StreamerID string `json:"streamerId"`
	Quality    string `json:"quality"`
	StartedAt  int64  `json:"startedAt"`
}

type RoomStatePayload struct {
	Stream       *StreamState  `json:"stream"`
	Participants []Participant `json:"participants"`
	Messages     []ChatMessage `json:"messages"`
}

type UserJoinedPayload struct {
	UserID      string               `json:"userId"`
	Username    string               `json:"username"`
	SocketID    string               `json:"socketId"`
	Role        types.Role           `json:"role"`
	DisplayName string               `json:"displayName,omitempty"`
	Status      types.PresenceStatus `json:"status"`
}

type UserLeftPayload struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId,omitempty"`
}

// SignalForward is the relayed form of an offer/answer/candidate, readdressed
// with the sender's socket id.
type SignalForward struct {
	FromPeerID string          `json:"fromPeerId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

type RecordingStartedEvent struct {
	TeacherID string `json:"teacherId"`
	Timestamp int64  `json:"timestamp"`
}

type RecordingStoppedEvent struct {
	TeacherID string  `json:"teacherId"`
	Duration  float64 `json:"duration"`
	Timestamp int64   `json:"timestamp"`
}

type MuteAllPayload struct {
	RequestedBy string `json:"requestedBy"`
	Timestamp   int64  `json:"timestamp"`
}

type MutedByTeacherPayload struct {
	RequestedBy string `json:"requestedBy"`
	Reason      string `json:"reason"`
	Timestamp   int64  `json:"timestamp"`
}

type KickedFromRoomPayload struct {
	RoomID    string `json:"roomId"`
	Reason    string `json:"reason"`
	KickedBy  string `json:"kickedBy"`
	Timestamp int64  `json:"timestamp"`
}

type ParticipantKickedPayload struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

type HandRaisedPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

type HandLoweredPayload struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type RoomClearedPayload struct {
	RoomID    string `json:"roomId"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type JoinRoomErrorPayload struct {
	Code          string              `json:"code"`
	Message       string              `json:"message"`
	LectureStatus types.LectureStatus `json:"lectureStatus"`
	RoomID        string              `json:"roomId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// admissionDenialMessage maps a non-admissible lecture status to the
// user-facing denial text.
func admissionDenialMessage(status types.LectureStatus) string {
	switch status {
	case types.LectureScheduled:
		return "This lecture has not started yet"
	case types.LectureCompleted:
		return "This lecture has ended"
	case types.LectureCancelled:
		return "This lecture has been cancelled"
	case types.LectureDelayed:
		return "This lecture is delayed"
	default:
		return "This room is not available"
	}
}
