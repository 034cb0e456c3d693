package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/classroom-server/internal/v1/store"
	"github.com/lectern/classroom-server/internal/v1/types"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Gateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gw, _, _ := newTestGateway(t)
	router := gin.New()
	gw.RegisterRoutes(router)
	return router, gw
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, user types.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user.ID != "" {
		req.Header.Set(HeaderUserID, user.ID)
		req.Header.Set(HeaderUserRole, string(user.Role))
		req.Header.Set(HeaderUserName, user.Username)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHTTP_ScheduleLecture(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/lectures", teacher, gin.H{
		"name":      "Algebra",
		"date":      "2025-01-01T10:00:00Z",
		"roomId":    store.DefaultRoomID,
		"teacherId": "T1",
		"createdBy": "T1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var lecture types.Lecture
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lecture))
	assert.Equal(t, "lecture_1", lecture.ID)
	assert.Equal(t, types.LectureScheduled, lecture.Status)
}

func TestHTTP_ScheduleLecture_StudentRejected(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/lectures", student, gin.H{
		"name": "Algebra", "date": "2025-01-01T10:00:00Z",
		"roomId": store.DefaultRoomID, "teacherId": "S1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestHTTP_ScheduleLecture_ValidationError(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/lectures", teacher, gin.H{
		"name": "ab", "date": "2025-01-01T10:00:00Z",
		"roomId": store.DefaultRoomID, "teacherId": "T1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTP_LectureLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/lectures", teacher, gin.H{
		"name": "Algebra", "date": "2025-01-01T10:00:00Z",
		"roomId": store.DefaultRoomID, "teacherId": "T1", "createdBy": "T1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/lectures/lecture_1/status", teacher, gin.H{"status": "in-progress"})
	require.Equal(t, http.StatusOK, w.Code)

	// in-progress -> scheduled is not a legal transition.
	w = doJSON(t, router, http.MethodPost, "/api/v1/lectures/lecture_1/status", teacher, gin.H{"status": "scheduled"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/lectures/lecture_1", types.User{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lecture types.Lecture
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lecture))
	assert.Equal(t, types.LectureInProgress, lecture.Status)
	assert.NotNil(t, lecture.StartTime)
}

func TestHTTP_LectureNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/v1/lectures/lecture_404", types.User{}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_Rooms(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/rooms", teacher, gin.H{"name": "Lab", "capacity": 10})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/rooms", types.User{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rooms []types.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	assert.Len(t, rooms, 2) // seeded default room plus the new one

	w = doJSON(t, router, http.MethodGet, "/api/v1/rooms/room_1/participants", types.User{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHTTP_KickInEmptyRoom(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+store.DefaultRoomID+"/participants/S1/kick", teacher, gin.H{"reason": "x"})
	// No runtime exists for the room yet, so the room is not found.
	assert.Equal(t, http.StatusNotFound, w.Code)
}
