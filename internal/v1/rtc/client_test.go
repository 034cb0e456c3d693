package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/classroom-server/internal/v1/types"
)

func TestClient_BindUser(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")

	assert.Nil(t, c.User())
	c.bindUser(types.User{ID: "U1", Role: types.RoleStudent})
	require.NotNil(t, c.User())
	assert.Equal(t, "U1", c.User().ID)
}

func TestClient_RoomTracking(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")

	c.trackRoom("R1")
	c.trackRoom("R2")
	assert.ElementsMatch(t, []string{"R1", "R2"}, c.joinedRooms())

	c.untrackRoom("R1")
	assert.Equal(t, []string{"R2"}, c.joinedRooms())
}

func TestClient_SendAfterDisconnectIsSafe(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")

	c.Disconnect()

	// Must not panic and must not enqueue.
	assert.NotPanics(t, func() {
		c.Send(EventWelcome, WelcomePayload{Message: "late"})
	})
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")

	assert.NotPanics(t, func() {
		c.Disconnect()
		c.Disconnect()
	})

	_, open := <-c.send
	assert.False(t, open)
}

func TestClient_SendDropsWhenBufferFull(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := newTestClient(h, "sock-1")

	// No writePump is draining, so the buffer eventually fills; sends past
	// capacity are dropped rather than blocking the caller.
	assert.NotPanics(t, func() {
		for i := 0; i < sendBufferSize+10; i++ {
			c.Send(EventWelcome, WelcomePayload{Message: "spam"})
		}
	})
	assert.Len(t, c.send, sendBufferSize)
}
