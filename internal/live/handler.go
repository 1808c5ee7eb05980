package live

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/gradus-edu/live-backend/internal/auth"
	"github.com/gradus-edu/live-backend/internal/middleware"
	"github.com/gradus-edu/live-backend/pkg/response"
)

// Handler translates REST calls into Service calls. It stays thin: all
// business rules live in the Service, all status mapping in the error values.
type Handler struct {
	service       *Service
	logger        *zap.Logger
	signalingPath string
	iceServers    []webrtc.ICEServer
}

// NewHandler creates the live REST handler. iceServers is the STUN/TURN list
// handed to clients on create/join so they can build peer connections.
func NewHandler(service *Service, logger *zap.Logger, signalingPath string, iceServers []webrtc.ICEServer) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, signalingPath: signalingPath, iceServers: iceServers}
}

// RegisterRoutes mounts the live routes under /live. All routes require a
// verified JWT; host-side routes additionally require the admin role.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtService *auth.JWTService) {
	authn := middleware.JWT(jwtService)
	admin := middleware.RequireRole("admin")

	g := r.Group("/live")
	g.Use(authn)

	sessions := g.Group("/sessions")
	sessions.POST("", admin, h.createSession)
	sessions.GET("", admin, h.listSessions)
	sessions.GET("/:id", admin, h.getSessionHost)
	sessions.PATCH("/:id", admin, h.updateSession)
	sessions.POST("/:id/instructor/join", admin, h.joinInstructor)
	sessions.POST("/:id/participants/:pid/media", admin, h.commandMedia)
	sessions.POST("/:id/participants/:pid/kick", admin, h.kickParticipant)
	sessions.POST("/:id/participants/:pid/admit", admin, h.admitParticipant)
	sessions.POST("/:id/participants/:pid/deny", admin, h.denyParticipant)
	sessions.POST("/:id/participants/:pid/room", admin, h.moveParticipantRoom)
	sessions.POST("/:id/rooms", admin, h.createRoom)
	sessions.GET("/:id/rooms", h.listRooms)
	sessions.GET("/:id/attendance", admin, h.listAttendance)
	sessions.GET("/:id/events", admin, h.listEvents)
	sessions.POST("/:id/recordings", admin, h.uploadRecording)
	sessions.GET("/:id/recordings", admin, h.listRecordings)

	sessions.GET("/:id/public", h.getSessionPublic)
	sessions.POST("/:id/join", h.joinStudent)
	sessions.GET("/:id/chat", h.listChat)

	g.GET("/sessions/course/:courseKey/active", h.activeSessionByCourse)
	g.GET("/recordings/:id/download-url", admin, h.recordingDownloadURL)
}

func (h *Handler) fail(c *gin.Context, err error) {
	if le, ok := AsError(err); ok {
		response.Fail(c, le.Status, le.Message)
		return
	}
	h.logger.Error("live request failed", zap.String("path", c.FullPath()), zap.Error(err))
	response.Internal(c, "internal error")
}

func identityFrom(c *gin.Context) Identity {
	claims, _ := c.MustGet(middleware.ContextClaims).(*auth.Claims)
	if claims == nil {
		return Identity{}
	}
	return Identity{
		ID:        claims.UserID,
		Role:      claims.Role,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		Nickname:  claims.Nickname,
	}
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) signalingInfo(key string) gin.H {
	return gin.H{
		"key":        key,
		"path":       h.signalingPath,
		"iceServers": h.iceServers,
	}
}

func (h *Handler) createSession(c *gin.Context) {
	var in CreateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	snap, err := h.service.CreateSession(c.Request.Context(), identityFrom(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{
		"session": snap,
		"instructor": gin.H{
			"hostSecret":    snap.HostSecret,
			"meetingToken":  snap.MeetingToken,
			"signalingPath": h.signalingPath,
			"iceServers":    h.iceServers,
		},
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	list, err := h.service.ListSessions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"sessions": list})
}

func (h *Handler) getSessionHost(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	snap, err := h.service.GetSessionForHost(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"session": snap})
}

func (h *Handler) getSessionPublic(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	snap, err := h.service.GetSessionForParticipant(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"session": snap})
}

func (h *Handler) updateSession(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in UpdateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	snap, err := h.service.UpdateSession(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"session": snap})
}

func (h *Handler) joinStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in JoinInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}
	res, err := h.service.JoinAsStudent(c.Request.Context(), id, identityFrom(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{
		"session":     res.Session,
		"participant": res.Participant,
		"signaling":   h.signalingInfo(res.SignalingKey),
	})
}

func (h *Handler) joinInstructor(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in struct {
		HostSecret string `json:"hostSecret"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	res, err := h.service.JoinAsInstructor(c.Request.Context(), id, identityFrom(c), in.HostSecret)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{
		"session":     res.Session,
		"participant": res.Participant,
		"signaling":   h.signalingInfo(res.SignalingKey),
	})
}

func (h *Handler) activeSessionByCourse(c *gin.Context) {
	snap, err := h.service.FindActiveSessionByCourse(c.Request.Context(), c.Param("courseKey"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"session": snap})
}

func (h *Handler) commandMedia(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	pid, ok := pathID(c, "pid")
	if !ok {
		return
	}
	var cmd MediaCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if err := h.service.CommandParticipantMedia(c.Request.Context(), id, pid, cmd); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) kickParticipant(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	pid, ok := pathID(c, "pid")
	if !ok {
		return
	}
	var in struct {
		Ban bool `json:"ban"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}
	if err := h.service.KickParticipant(c.Request.Context(), id, pid, in.Ban); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) admitParticipant(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	pid, ok := pathID(c, "pid")
	if !ok {
		return
	}
	if err := h.service.AdmitParticipant(c.Request.Context(), id, pid); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) denyParticipant(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	pid, ok := pathID(c, "pid")
	if !ok {
		return
	}
	if err := h.service.DenyParticipant(c.Request.Context(), id, pid); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) createRoom(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	room, err := h.service.CreateRoom(c.Request.Context(), id, in.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"room": room})
}

func (h *Handler) listRooms(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rooms, err := h.service.ListRooms(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"rooms": rooms})
}

func (h *Handler) moveParticipantRoom(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	pid, ok := pathID(c, "pid")
	if !ok {
		return
	}
	var in struct {
		RoomID string `json:"roomId"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	var roomID *uuid.UUID
	if in.RoomID != "" {
		parsed, err := uuid.Parse(in.RoomID)
		if err != nil {
			response.BadRequest(c, "invalid roomId")
			return
		}
		roomID = &parsed
	}
	if err := h.service.MoveParticipantRoom(c.Request.Context(), id, pid, roomID); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) listAttendance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	attendance, err := h.service.ListAttendance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"attendance": attendance})
}

func (h *Handler) listEvents(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	events, err := h.service.ListEvents(c.Request.Context(), id, queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"events": events})
}

func (h *Handler) listChat(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	messages, err := h.service.ListChatMessages(c.Request.Context(), id, queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"messages": messages})
}

func (h *Handler) uploadRecording(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	durationMs, _ := strconv.ParseInt(c.Query("durationMs"), 10, 64)
	rec, err := h.service.SaveRecording(c.Request.Context(), id, identityFrom(c),
		c.Request.Body, c.ContentType(), durationMs)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"recording": rec})
}

func (h *Handler) listRecordings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	recordings, err := h.service.ListRecordings(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"recordings": recordings})
}

func (h *Handler) recordingDownloadURL(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	url, err := h.service.RecordingDownloadURL(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"url": url})
}

func queryInt(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}
