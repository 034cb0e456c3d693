package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// fakeConn is an in-memory clientConn that records everything sent to it.
type fakeConn struct {
	id string

	mu           sync.Mutex
	sent         []Envelope
	disconnected bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) SocketID() string { return f.id }

func (f *fakeConn) Send(event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	f.SendRaw(data)
}

func (f *fakeConn) SendRaw(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeConn) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeConn) events() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) eventNames() []string {
	var names []string
	for _, env := range f.events() {
		names = append(names, env.Event)
	}
	return names
}

func (f *fakeConn) lastOf(event string) (Envelope, bool) {
	var found Envelope
	ok := false
	for _, env := range f.events() {
		if env.Event == event {
			found = env
			ok = true
		}
	}
	return found, ok
}

func decodeAs[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func joinUser(r *Room, conn *fakeConn, id string, role types.Role) {
	r.Join(conn, newParticipant(types.User{ID: id, Username: id, Role: role}, conn.id))
}

func TestRoom_JoinSendsWelcomeAndStateToJoinerOnly(t *testing.T) {
	r := newRoom("R1")
	c1 := newFakeConn("sock-1")

	joinUser(r, c1, "U1", types.RoleStudent)

	names := c1.eventNames()
	require.Equal(t, []string{EventWelcome, EventRoomState}, names)

	stateEnv, ok := c1.lastOf(EventRoomState)
	require.True(t, ok)
	state := decodeAs[RoomStatePayload](t, stateEnv)
	require.Len(t, state.Participants, 1)
	assert.Equal(t, "U1", state.Participants[0].ID)
	assert.Empty(t, state.Messages)
	assert.Nil(t, state.Stream)
}

func TestRoom_ThirdJoinerSeesBothPredecessors(t *testing.T) {
	r := newRoom("R1")
	teacher := newFakeConn("sock-t")
	s1 := newFakeConn("sock-s1")
	s2 := newFakeConn("sock-s2")

	joinUser(r, teacher, "T1", types.RoleTeacher)
	joinUser(r, s1, "S1", types.RoleStudent)
	joinUser(r, s2, "S2", types.RoleStudent)

	stateEnv, ok := s2.lastOf(EventRoomState)
	require.True(t, ok)
	state := decodeAs[RoomStatePayload](t, stateEnv)
	ids := make([]string, 0, len(state.Participants))
	for _, p := range state.Participants {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"T1", "S1", "S2"}, ids)

	// Predecessors each see S2's arrival; S2 is never echoed its own join.
	for _, conn := range []*fakeConn{teacher, s1} {
		joinedEnv, ok := conn.lastOf(EventUserJoined)
		require.True(t, ok)
		joined := decodeAs[UserJoinedPayload](t, joinedEnv)
		assert.Equal(t, "S2", joined.UserID)
	}
	_, sawOwnJoin := s2.lastOf(EventUserJoined)
	assert.False(t, sawOwnJoin)
}

func TestRoom_CapabilitiesByRole(t *testing.T) {
	r := newRoom("R1")
	teacher := newFakeConn("sock-t")
	student := newFakeConn("sock-s")

	joinUser(r, teacher, "T1", types.RoleTeacher)
	joinUser(r, student, "S1", types.RoleStudent)

	for _, p := range r.Participants() {
		switch p.ID {
		case "T1":
			assert.True(t, p.CanStream)
			assert.True(t, p.CanScreenShare)
		case "S1":
			assert.False(t, p.CanStream)
			assert.False(t, p.CanScreenShare)
		}
		assert.True(t, p.CanChat)
	}
}

func TestRoom_ChatHistoryBoundedWithMonotonicSeq(t *testing.T) {
	r := newRoom("R1")
	c := newFakeConn("sock-1")
	joinUser(r, c, "U1", types.RoleStudent)

	for i := 1; i <= 101; i++ {
		r.AddMessage(context.Background(), InboundMessage{
			UserID: "U1", Username: "U1", Content: fmt.Sprintf("m%d", i),
		})
	}

	messages := r.Messages()
	require.Len(t, messages, maxMessageHistory)
	assert.Equal(t, "m2", messages[0].Content)
	assert.Equal(t, "m101", messages[len(messages)-1].Content)
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, messages[i].Seq, messages[i-1].Seq)
	}
}

func TestRoom_LeaveBroadcastsUserLeftAndStopsStream(t *testing.T) {
	r := newRoom("R1")
	streamer := newFakeConn("sock-t")
	viewer := newFakeConn("sock-v")

	joinUser(r, streamer, "T1", types.RoleTeacher)
	joinUser(r, viewer, "V1", types.RoleStudent)

	r.StartStream("T1", "high")
	require.NotNil(t, r.Stream())

	r.Leave("sock-t")

	leftEnv, ok := viewer.lastOf(EventUserLeft)
	require.True(t, ok)
	left := decodeAs[UserLeftPayload](t, leftEnv)
	assert.Equal(t, "sock-t", left.SocketID)
	assert.Equal(t, "T1", left.UserID)

	_, sawStop := viewer.lastOf(EventStreamStopped)
	assert.True(t, sawStop)
	assert.Nil(t, r.Stream())
}

func TestRoom_StartStreamOverwrites(t *testing.T) {
	r := newRoom("R1")
	c := newFakeConn("sock-1")
	joinUser(r, c, "T1", types.RoleTeacher)

	first := r.StartStream("T1", "low")
	second := r.StartStream("T1", "high")

	assert.Equal(t, "low", first.Quality)
	assert.Equal(t, "high", second.Quality)
	require.NotNil(t, r.Stream())
	assert.Equal(t, "high", r.Stream().Quality)
}

func TestRoom_RelayTargetsSingleSocket(t *testing.T) {
	r := newRoom("R1")
	a := newFakeConn("sock-a")
	b := newFakeConn("sock-b")
	bystander := newFakeConn("sock-c")

	joinUser(r, a, "A", types.RoleStudent)
	joinUser(r, b, "B", types.RoleStudent)
	joinUser(r, bystander, "C", types.RoleStudent)

	offer := json.RawMessage(`{"sdp":"v=0"}`)
	err := r.Relay("sock-a", EventWebRTCOffer, SignalPayload{RoomID: "R1", PeerID: "sock-b", Offer: offer})
	require.NoError(t, err)

	offerEnv, ok := b.lastOf(EventWebRTCOffer)
	require.True(t, ok)
	fwd := decodeAs[SignalForward](t, offerEnv)
	assert.Equal(t, "sock-a", fwd.FromPeerID)
	assert.JSONEq(t, string(offer), string(fwd.Offer))

	_, leaked := bystander.lastOf(EventWebRTCOffer)
	assert.False(t, leaked)
}

func TestRoom_RelayUnknownPeerFails(t *testing.T) {
	r := newRoom("R1")
	a := newFakeConn("sock-a")
	joinUser(r, a, "A", types.RoleStudent)

	err := r.Relay("sock-a", EventWebRTCAnswer, SignalPayload{RoomID: "R1", PeerID: "sock-missing"})
	require.Error(t, err)
	assert.Equal(t, faults.CodeParticipantNotFound, faults.CodeOf(err))
}

func TestRoom_HandRaiseAndLower(t *testing.T) {
	r := newRoom("R1")
	c := newFakeConn("sock-1")
	peer := newFakeConn("sock-2")
	joinUser(r, c, "U1", types.RoleStudent)
	joinUser(r, peer, "U2", types.RoleStudent)

	require.NoError(t, r.SetHandRaised("U1", true))
	raisedEnv, ok := peer.lastOf(EventHandRaised)
	require.True(t, ok)
	raised := decodeAs[HandRaisedPayload](t, raisedEnv)
	assert.Equal(t, "U1", raised.UserID)

	for _, p := range r.Participants() {
		if p.ID == "U1" {
			assert.True(t, p.HandRaised)
			assert.NotNil(t, p.HandRaisedAt)
		}
	}

	require.NoError(t, r.SetHandRaised("U1", false))
	_, lowered := peer.lastOf(EventHandLowered)
	assert.True(t, lowered)
}

func TestRoom_ClearPurgesEverythingAndNotifies(t *testing.T) {
	r := newRoom("R1")
	c := newFakeConn("sock-1")
	joinUser(r, c, "U1", types.RoleStudent)
	r.AddMessage(context.Background(), InboundMessage{UserID: "U1", Username: "U1", Content: "hello"})
	r.StartStream("U1", "medium")

	r.Clear("Lecture ended")

	clearedEnv, ok := c.lastOf(EventRoomCleared)
	require.True(t, ok)
	cleared := decodeAs[RoomClearedPayload](t, clearedEnv)
	assert.Equal(t, "R1", cleared.RoomID)
	assert.Equal(t, "Lecture ended", cleared.Reason)

	assert.Zero(t, r.ParticipantCount())
	assert.Empty(t, r.Messages())
	assert.Nil(t, r.Stream())

	// Sequence restarts after a clear.
	msg := r.AddMessage(context.Background(), InboundMessage{UserID: "U1", Username: "U1", Content: "again"})
	assert.Equal(t, int64(1), msg.Seq)
}
