package rtc

import (
	"time"

	"github.com/lectern/classroom-server/internal/v1/types"
)

// Participant is a connected user within a room runtime. It is ephemeral:
// participants are never persisted and exist only while the socket is attached.
type Participant struct {
	types.User
	SocketID string    `json:"socketId"`
	JoinedAt time.Time `json:"joinedAt"`

	// Capability flags, derived from role at join time.
	CanStream      bool `json:"canStream"`
	CanChat        bool `json:"canChat"`
	CanScreenShare bool `json:"canScreenShare"`

	// State flags.
	IsStreaming  bool       `json:"isStreaming"`
	HandRaised   bool       `json:"handRaised"`
	HandRaisedAt *time.Time `json:"handRaisedAt,omitempty"`
}

// newParticipant builds a Participant for a connection. Streaming and screen
// share are reserved for teachers and admins; chat is on for everyone.
func newParticipant(user types.User, socketID string) *Participant {
	if user.Status == "" {
		user.Status = types.PresenceOnline
	}
	moderator := user.Role.CanModerate()
	return &Participant{
		User:           user,
		SocketID:       socketID,
		JoinedAt:       time.Now().UTC(),
		CanStream:      moderator,
		CanChat:        true,
		CanScreenShare: moderator,
	}
}

// joinedInfo is the announcement sent to existing members, never to the joiner.
func (p *Participant) joinedInfo() UserJoinedPayload {
	return UserJoinedPayload{
		UserID:      p.ID,
		Username:    p.Username,
		SocketID:    p.SocketID,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		Status:      p.Status,
	}
}
