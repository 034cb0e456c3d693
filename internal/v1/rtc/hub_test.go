package rtc

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// fakeWs satisfies wsConnection for clients whose pumps are never started.
type fakeWs struct{}

func (fakeWs) ReadMessage() (int, []byte, error)    { return 0, nil, io.EOF }
func (fakeWs) WriteMessage(int, []byte) error       { return nil }
func (fakeWs) Close() error                         { return nil }
func (fakeWs) SetWriteDeadline(time.Time) error     { return nil }
func (fakeWs) SetReadDeadline(time.Time) error      { return nil }
func (fakeWs) SetPongHandler(func(string) error)    {}

func newTestClient(h *Hub, socketID string) *Client {
	return newClient(h, fakeWs{}, socketID)
}

// drainClient empties the client's outbound queue into decoded envelopes.
func drainClient(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func lastEvent(envs []Envelope, event string) (Envelope, bool) {
	var found Envelope
	ok := false
	for _, env := range envs {
		if env.Event == event {
			found = env
			ok = true
		}
	}
	return found, ok
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHub_JoinDuringAdmissibleLecture(t *testing.T) {
	h := NewHub(nil, nil, nil)
	h.RegisterLecture("lecture_1", "R1", types.LectureInProgress)
	require.True(t, h.IsRoomAvailable("R1"))

	c := newTestClient(h, "sock-u2")
	err := h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
		RoomID: "R1",
		User:   types.User{ID: "U2", Username: "U2", Role: types.RoleStudent},
	}))
	require.NoError(t, err)

	envs := drainClient(t, c)
	_, gotWelcome := lastEvent(envs, EventWelcome)
	assert.True(t, gotWelcome)

	stateEnv, gotState := lastEvent(envs, EventRoomState)
	require.True(t, gotState)
	state := decodeAs[RoomStatePayload](t, stateEnv)
	require.Len(t, state.Participants, 1)
	assert.Equal(t, "U2", state.Participants[0].ID)

	// The sole joiner receives no user_joined for itself.
	_, echoed := lastEvent(envs, EventUserJoined)
	assert.False(t, echoed)
}

func TestHub_JoinDeniedAfterLectureEnds(t *testing.T) {
	h := NewHub(nil, nil, nil)
	h.RegisterLecture("lecture_1", "R1", types.LectureInProgress)
	h.UpdateLectureStatus("lecture_1", types.LectureCompleted)

	c := newTestClient(h, "sock-u3")
	err := h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
		RoomID: "R1",
		User:   types.User{ID: "U3", Username: "U3", Role: types.RoleStudent},
	}))
	require.NoError(t, err)

	envs := drainClient(t, c)
	errEnv, ok := lastEvent(envs, EventJoinRoomError)
	require.True(t, ok)
	denial := decodeAs[JoinRoomErrorPayload](t, errEnv)
	assert.Equal(t, CodeRoomUnavailable, denial.Code)
	assert.Equal(t, "This lecture has ended", denial.Message)
	assert.Equal(t, types.LectureCompleted, denial.LectureStatus)
	assert.Equal(t, "R1", denial.RoomID)

	assert.Empty(t, h.GetRoomParticipants("R1"))
}

func TestHub_JoinDenialMessages(t *testing.T) {
	cases := []struct {
		status  types.LectureStatus
		message string
	}{
		{types.LectureScheduled, "This lecture has not started yet"},
		{types.LectureDelayed, "This lecture is delayed"},
		{types.LectureCancelled, "This lecture has been cancelled"},
		{types.LectureCompleted, "This lecture has ended"},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			h := NewHub(nil, nil, nil)
			h.RegisterLecture("lecture_1", "R1", tc.status)

			c := newTestClient(h, "sock-1")
			require.NoError(t, h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
				RoomID: "R1",
				User:   types.User{ID: "U1", Role: types.RoleStudent},
			})))

			envs := drainClient(t, c)
			errEnv, ok := lastEvent(envs, EventJoinRoomError)
			require.True(t, ok)
			assert.Equal(t, tc.message, decodeAs[JoinRoomErrorPayload](t, errEnv).Message)
		})
	}
}

func TestHub_JoinUnregisteredRoomSucceeds(t *testing.T) {
	h := NewHub(nil, nil, nil)

	c := newTestClient(h, "sock-1")
	err := h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
		RoomID: "unlisted",
		User:   types.User{ID: "U1", Role: types.RoleStudent},
	}))
	require.NoError(t, err)
	assert.Len(t, h.GetRoomParticipants("unlisted"), 1)
}

// fixedDirectory is a RoomDirectory over a static room set.
type fixedDirectory map[string]types.Room

func (d fixedDirectory) RoomByID(id string) (types.Room, bool) {
	room, ok := d[id]
	return room, ok
}

func TestHub_JoinRejectedAtCapacity(t *testing.T) {
	h := NewHub(fixedDirectory{"R1": {ID: "R1", Capacity: 1}}, nil, nil)

	first := newTestClient(h, "sock-1")
	require.NoError(t, h.handleJoinRoom(context.Background(), first, mustPayload(t, JoinRoomPayload{
		RoomID: "R1", User: types.User{ID: "U1", Role: types.RoleStudent},
	})))

	second := newTestClient(h, "sock-2")
	err := h.handleJoinRoom(context.Background(), second, mustPayload(t, JoinRoomPayload{
		RoomID: "R1", User: types.User{ID: "U2", Role: types.RoleStudent},
	}))
	require.Error(t, err)
	assert.Equal(t, faults.CodeRoomFull, faults.CodeOf(err))
	assert.Len(t, h.GetRoomParticipants("R1"), 1)
}

func TestHub_SetupForRoomIsIdempotent(t *testing.T) {
	h := NewHub(nil, nil, nil)
	h.SetupForRoom("R1")

	c := newTestClient(h, "sock-1")
	require.NoError(t, h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
		RoomID: "R1", User: types.User{ID: "U1", Role: types.RoleStudent},
	})))
	require.Len(t, h.GetRoomParticipants("R1"), 1)

	// A repeated setup must never clobber existing participants.
	h.SetupForRoom("R1")
	assert.Len(t, h.GetRoomParticipants("R1"), 1)
}

func TestHub_DeallocateResourcesByRoomID(t *testing.T) {
	h := NewHub(nil, nil, nil)
	h.SetupForRoom("R1")

	require.NoError(t, h.DeallocateResources("R1"))
	assert.Empty(t, h.GetRoomParticipants("R1"))
}

func TestHub_DeallocateResourcesByLectureID(t *testing.T) {
	h := NewHub(nil, nil, nil)
	h.RegisterLecture("lecture_1", "R1", types.LectureInProgress)
	h.SetupForRoom("R1")

	require.NoError(t, h.DeallocateResources("lecture_1"))

	c := newTestClient(h, "sock-1")
	require.NoError(t, h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
		RoomID: "R1", User: types.User{ID: "U1", Role: types.RoleStudent},
	})))
	assert.Len(t, h.GetRoomParticipants("R1"), 1)
}

func TestHub_DeallocateResourcesPurgesRegistration(t *testing.T) {
	h := NewHub(nil, nil, nil)
	h.RegisterLecture("lecture_1", "R1", types.LectureCompleted)
	h.SetupForRoom("R1")
	require.False(t, h.IsRoomAvailable("R1"))

	require.NoError(t, h.DeallocateResources("R1"))
	assert.True(t, h.IsRoomAvailable("R1"))
}

func TestHub_DeallocateResourcesUnknownIDFails(t *testing.T) {
	h := NewHub(nil, nil, nil)
	err := h.DeallocateResources("nothing")
	require.Error(t, err)
	assert.Equal(t, faults.CodeResourceDeallocFailed, faults.CodeOf(err))
}

func TestHub_RouteUnknownEventReportsError(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")

	h.route(context.Background(), c, &Envelope{Event: "teleport"})

	envs := drainClient(t, c)
	errEnv, ok := lastEvent(envs, EventError)
	require.True(t, ok)
	assert.Contains(t, decodeAs[ErrorPayload](t, errEnv).Message, "unknown event")
}

func TestHub_RouteMalformedPayloadReportsError(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")

	h.route(context.Background(), c, &Envelope{Event: EventJoinRoom, Payload: json.RawMessage(`"not an object"`)})

	envs := drainClient(t, c)
	_, ok := lastEvent(envs, EventError)
	assert.True(t, ok)
}

func TestHub_SendMessageRequiresMembership(t *testing.T) {
	h := NewHub(nil, nil, nil)

	member := newTestClient(h, "sock-member")
	require.NoError(t, h.handleJoinRoom(context.Background(), member, mustPayload(t, JoinRoomPayload{
		RoomID: "R1", User: types.User{ID: "U1", Username: "U1", Role: types.RoleStudent},
	})))

	outsider := newTestClient(h, "sock-outsider")
	err := h.handleSendMessage(context.Background(), outsider, mustPayload(t, SendMessagePayload{
		RoomID:  "R1",
		Message: InboundMessage{UserID: "U9", Username: "U9", Content: "hi"},
	}))
	require.Error(t, err)
	assert.Equal(t, faults.CodeParticipantNotFound, faults.CodeOf(err))
}

func TestHub_StartStreamValidatesQuality(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")
	require.NoError(t, h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
		RoomID: "R1", User: types.User{ID: "T1", Role: types.RoleTeacher},
	})))

	err := h.handleStartStream(context.Background(), c, mustPayload(t, StartStreamPayload{
		RoomID: "R1", UserID: "T1", Quality: "ultra",
	}))
	require.Error(t, err)
	assert.Equal(t, faults.CodeEventValidationFailed, faults.CodeOf(err))

	require.NoError(t, h.handleStartStream(context.Background(), c, mustPayload(t, StartStreamPayload{
		RoomID: "R1", UserID: "T1", Quality: "medium",
	})))
}

func TestHub_Shutdown(t *testing.T) {
	h := NewHub(nil, nil, nil)

	c := newTestClient(h, "sock-1")
	require.NoError(t, h.handleJoinRoom(context.Background(), c, mustPayload(t, JoinRoomPayload{
		RoomID: "R1", User: types.User{ID: "U1", Role: types.RoleStudent},
	})))

	require.NoError(t, h.Shutdown(context.Background()))

	envs := drainClient(t, c)
	clearedEnv, ok := lastEvent(envs, EventRoomCleared)
	require.True(t, ok)
	assert.Equal(t, "Server shutting down", decodeAs[RoomClearedPayload](t, clearedEnv).Reason)

	// The send channel is closed after shutdown.
	_, open := <-c.send
	assert.False(t, open)
	assert.Empty(t, h.GetRoomParticipants("R1"))
}
