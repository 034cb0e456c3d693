package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lectern/classroom-server/internal/v1/events"
	"github.com/lectern/classroom-server/internal/v1/faults"
	"github.com/lectern/classroom-server/internal/v1/registry"
	"github.com/lectern/classroom-server/internal/v1/types"
)

// Identity headers. Authentication happens upstream; these headers are
// trusted as ground truth.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	HeaderUserName = "X-User-Name"
)

// currentUser builds the caller identity from the trusted headers.
func currentUser(c *gin.Context) types.User {
	return types.User{
		ID:       c.GetHeader(HeaderUserID),
		Username: c.GetHeader(HeaderUserName),
		Role:     types.Role(c.GetHeader(HeaderUserRole)),
	}
}

// statusFor maps a fault code to an HTTP status.
func statusFor(err error) int {
	switch faults.CodeOf(err) {
	case faults.CodeEventValidationFailed, faults.CodeInvalidStatusTransition,
		faults.CodeNoLectureScheduled, faults.CodeNoLectureActive:
		return http.StatusBadRequest
	case faults.CodeUnauthorized:
		return http.StatusUnauthorized
	case faults.CodeForbidden:
		return http.StatusForbidden
	case faults.CodeEventNotFound, faults.CodeRoomNotFound, faults.CodeParticipantNotFound:
		return http.StatusNotFound
	case faults.CodeRoomFull:
		return http.StatusConflict
	case faults.CodeCommsNotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithFault(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"code":  string(faults.CodeOf(err)),
	})
}

// RegisterRoutes mounts the REST API under /api/v1.
func (g *Gateway) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")

	api.POST("/lectures", g.postLecture)
	api.GET("/lectures", g.getLectures)
	api.GET("/lectures/:id", g.getLecture)
	api.PATCH("/lectures/:id", g.patchLecture)
	api.POST("/lectures/:id/status", g.postLectureStatus)
	api.DELETE("/lectures/:id", g.deleteLecture)

	api.POST("/rooms", g.postRoom)
	api.GET("/rooms", g.getRooms)
	api.GET("/rooms/:id", g.getRoom)
	api.GET("/rooms/:id/participants", g.getRoomParticipants)
	api.POST("/rooms/:id/mute-all", g.postMuteAll)
	api.POST("/rooms/:id/participants/:userId/mute", g.postMuteParticipant)
	api.POST("/rooms/:id/participants/:userId/kick", g.postKickParticipant)
}

// --- Lectures ---

func (g *Gateway) postLecture(c *gin.Context) {
	var req events.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithFault(c, faults.Wrap(faults.CodeEventValidationFailed, "malformed request body", err))
		return
	}
	lecture, err := g.ScheduleLecture(c.Request.Context(), currentUser(c), req)
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, lecture)
}

func (g *Gateway) getLectures(c *gin.Context) {
	filter := events.ListFilter{
		RoomID:    c.Query("roomId"),
		TeacherID: c.Query("teacherId"),
		Status:    types.LectureStatus(c.Query("status")),
	}
	lectures := g.ListLectures(filter)
	if lectures == nil {
		lectures = []types.Lecture{}
	}
	c.JSON(http.StatusOK, lectures)
}

func (g *Gateway) getLecture(c *gin.Context) {
	lecture, err := g.LectureDetails(c.Param("id"))
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, lecture)
}

func (g *Gateway) patchLecture(c *gin.Context) {
	var patch events.EventPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortWithFault(c, faults.Wrap(faults.CodeEventValidationFailed, "malformed request body", err))
		return
	}
	lecture, err := g.UpdateLecture(c.Request.Context(), currentUser(c), c.Param("id"), patch)
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, lecture)
}

func (g *Gateway) postLectureStatus(c *gin.Context) {
	var body struct {
		Status types.LectureStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Status == "" {
		abortWithFault(c, faults.New(faults.CodeEventValidationFailed, "status is required"))
		return
	}
	lecture, err := g.TransitionLecture(c.Request.Context(), currentUser(c), c.Param("id"), body.Status)
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, lecture)
}

func (g *Gateway) deleteLecture(c *gin.Context) {
	lecture, err := g.CancelLecture(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, lecture)
}

// --- Rooms ---

func (g *Gateway) postRoom(c *gin.Context) {
	var req registry.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithFault(c, faults.Wrap(faults.CodeEventValidationFailed, "malformed request body", err))
		return
	}
	room, err := g.CreateRoom(c.Request.Context(), currentUser(c), req)
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (g *Gateway) getRooms(c *gin.Context) {
	rooms := g.ListRooms(types.RoomStatus(c.Query("status")))
	if rooms == nil {
		rooms = []types.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

func (g *Gateway) getRoom(c *gin.Context) {
	room, err := g.GetRoom(c.Param("id"))
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (g *Gateway) getRoomParticipants(c *gin.Context) {
	participants, err := g.RoomParticipants(c.Param("id"))
	if err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roomId":       c.Param("id"),
		"participants": participants,
		"count":        len(participants),
		"timestamp":    time.Now().UnixMilli(),
	})
}

// --- Teacher controls ---

func (g *Gateway) postMuteAll(c *gin.Context) {
	if err := g.MuteAll(c.Param("id"), currentUser(c)); err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) postMuteParticipant(c *gin.Context) {
	if err := g.MuteParticipant(c.Param("id"), c.Param("userId"), currentUser(c)); err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) postKickParticipant(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body) // reason is optional
	if err := g.KickParticipant(c.Param("id"), c.Param("userId"), currentUser(c), body.Reason); err != nil {
		abortWithFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
