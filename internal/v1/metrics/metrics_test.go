package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// The collectors are promauto-registered against the global default registry,
// so the tests work through the package API rather than a private registry:
// increment and read back, which also proves registration did not panic.

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(ActiveWebSocketConnections)

	IncConnection()
	IncConnection()
	if got := testutil.ToFloat64(ActiveWebSocketConnections); got != before+2 {
		t.Errorf("expected gauge at %v after two increments, got %v", before+2, got)
	}

	DecConnection()
	if got := testutil.ToFloat64(ActiveWebSocketConnections); got != before+1 {
		t.Errorf("expected gauge at %v after decrement, got %v", before+1, got)
	}
	DecConnection()
}

func TestRoomParticipantsGauge(t *testing.T) {
	RoomParticipants.WithLabelValues("room_test").Set(3)
	if got := testutil.ToFloat64(RoomParticipants.WithLabelValues("room_test")); got != 3 {
		t.Errorf("expected 3 participants, got %v", got)
	}
	RoomParticipants.DeleteLabelValues("room_test")
}

func TestWebsocketEventsCounter(t *testing.T) {
	counter := WebsocketEvents.WithLabelValues("join_room", "ok")
	before := testutil.ToFloat64(counter)

	counter.Inc()
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("expected counter at %v, got %v", before+1, got)
	}
}

func TestLectureTransitionsCounter(t *testing.T) {
	counter := LectureTransitions.WithLabelValues("scheduled", "in-progress", "ok")
	before := testutil.ToFloat64(counter)

	counter.Inc()
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("expected counter at %v, got %v", before+1, got)
	}
}

func TestRateLimitExceededCounter(t *testing.T) {
	counter := RateLimitExceeded.WithLabelValues("/ws/rooms/:roomId", "ip")
	before := testutil.ToFloat64(counter)

	counter.Inc()
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("expected counter at %v, got %v", before+1, got)
	}
}

func TestHistogramsObserveWithoutPanic(t *testing.T) {
	// Histogram values are awkward to read back through testutil; observing
	// without panic is the registration check that matters here.
	MessageProcessingDuration.WithLabelValues("join_room").Observe(0.01)
	StoreWriteDuration.Observe(0.002)
}
