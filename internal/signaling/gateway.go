package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gradus-edu/live-backend/internal/live"
	"github.com/gradus-edu/live-backend/internal/models"
	"github.com/gradus-edu/live-backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Gateway is the only network-facing signaling component. It authenticates
// upgrades against participant signaling keys, owns the socket routing table
// and relays signaling frames. It implements live.Notifier so REST mutations
// reach connected sockets.
type Gateway struct {
	store    live.Store
	registry *Registry
	pub      Publisher
	sub      Subscriber
	logger   *zap.Logger

	pongWait     time.Duration
	pingInterval time.Duration

	subMu sync.Mutex
	subs  map[uuid.UUID]func()
}

// NewGateway creates the signaling gateway. pub/sub may both be nil for a
// single-process deployment; everything is then delivered locally.
func NewGateway(store live.Store, registry *Registry, pub Publisher, sub Subscriber, logger *zap.Logger, pongWait, pingInterval time.Duration) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Gateway{
		store:        store,
		registry:     registry,
		pub:          pub,
		sub:          sub,
		logger:       logger,
		pongWait:     pongWait,
		pingInterval: pingInterval,
		subs:         make(map[uuid.UUID]func()),
	}
}

var _ live.Notifier = (*Gateway)(nil)

// ServeWS handles the WebSocket upgrade. Authentication happens before the
// upgrade: an invalid key never gets a socket.
func (g *Gateway) ServeWS(c *gin.Context) {
	sessionIDStr := c.Query("sessionId")
	participantIDStr := c.Query("participantId")
	key := c.Query("key")
	if sessionIDStr == "" || participantIDStr == "" || key == "" {
		response.BadRequest(c, "sessionId, participantId and key are required")
		return
	}
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		response.BadRequest(c, "invalid sessionId")
		return
	}
	participantID, err := uuid.Parse(participantIDStr)
	if err != nil {
		response.BadRequest(c, "invalid participantId")
		return
	}
	result, err := g.store.VerifyParticipantKey(c.Request.Context(), sessionID, participantID, key)
	if err != nil {
		g.logger.Error("signaling key verification failed", zap.Error(err))
		response.Internal(c, "verification failed")
		return
	}
	if !result.Valid {
		response.Unauthorized(c, "invalid signaling credentials")
		return
	}
	if result.Participant.Waiting {
		response.Forbidden(c, "waiting for host approval")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		gateway:       g,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		sessionID:     sessionID,
		participantID: participantID,
		role:          result.Participant.Role,
		displayName:   result.Participant.DisplayName,
		roomID:        result.Participant.RoomID,
	}
	g.register(client)
	go client.writePump()
	client.readPump()
}

func (g *Gateway) register(c *Client) {
	old, first := g.registry.add(c)
	if old != nil {
		// One socket per participant; the replaced one is flushed and closed.
		old.closeSend()
	}
	if first && g.sub != nil {
		sessionID := c.sessionID
		cancel, err := g.sub.SubscribeSession(sessionID, func(ev Event) {
			g.handleBusEvent(sessionID, ev)
		})
		if err != nil {
			g.logger.Error("session bus subscribe failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		} else {
			g.subMu.Lock()
			g.subs[sessionID] = cancel
			g.subMu.Unlock()
		}
	}
	ctx := context.Background()
	if err := g.store.SetParticipantConnection(ctx, c.sessionID, c.participantID, true); err != nil {
		g.logger.Warn("mark connected failed", zap.Error(err))
	}
	g.logger.Debug("participant connected",
		zap.String("session_id", c.sessionID.String()),
		zap.String("participant_id", c.participantID.String()),
		zap.String("role", c.role))
	g.SessionUpdated(c.sessionID)
}

// disconnect is the single teardown path for a socket: unregister, flip
// connected off, compare-and-clear screen share, log, and tell the room.
// A socket replaced by a reconnect skips the store updates; the participant
// still has a live connection.
func (g *Gateway) disconnect(c *Client) {
	removed, emptied := g.registry.remove(c)
	c.closeSend()
	if !removed {
		return
	}
	if emptied {
		g.subMu.Lock()
		if cancel, ok := g.subs[c.sessionID]; ok {
			cancel()
			delete(g.subs, c.sessionID)
		}
		g.subMu.Unlock()
	}
	ctx := context.Background()
	if err := g.store.SetParticipantConnection(ctx, c.sessionID, c.participantID, false); err != nil {
		g.logger.Warn("mark disconnected failed", zap.Error(err))
	}
	if err := g.store.ClearScreenShareOwnerIfMatches(ctx, c.sessionID, c.participantID); err != nil {
		g.logger.Warn("clear screen share on disconnect failed", zap.Error(err))
	}
	pid := c.participantID
	_ = g.store.LogEvent(ctx, &models.Event{
		SessionID:     c.sessionID,
		ParticipantID: &pid,
		Role:          c.role,
		Kind:          models.EventDisconnect,
	})
	g.logger.Debug("participant disconnected",
		zap.String("session_id", c.sessionID.String()),
		zap.String("participant_id", c.participantID.String()))
	g.SessionUpdated(c.sessionID)
}

// dispatch routes one inbound frame. Malformed frames earn the sender an
// error reply; the connection stays open.
func (g *Gateway) dispatch(c *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(errorFrame("malformed frame"))
		return
	}
	ctx := context.Background()
	switch {
	case msg.Type == TypePing:
		_ = g.store.TouchParticipant(ctx, c.sessionID, c.participantID)
		c.enqueue(frame(TypePong, "", "", map[string]int64{"timestamp": time.Now().UnixMilli()}))

	case msg.Type == TypeSessionState:
		g.SessionUpdated(c.sessionID)

	case msg.Type == TypeChatMessage:
		g.handleChat(ctx, c, msg)

	case msg.Type == TypeReaction || msg.Type == TypeHandRaise || msg.Type == TypeSpotlight:
		g.broadcastRoom(c.sessionID, c.room(), frame(msg.Type, "", c.participantID.String(), msg.Data))

	case msg.Type == TypeShareState:
		g.handleShare(ctx, c, msg)

	case isSignal(msg.Type):
		g.relay(c, msg)

	default:
		c.enqueue(errorFrame("unknown message type: " + msg.Type))
	}
}

// relay delivers a point-to-point signaling frame, stamping from with the
// authenticated sender. At-most-once: an absent target yields a
// target-unavailable reply, nothing is queued or retried.
func (g *Gateway) relay(c *Client, msg Message) {
	if err := msg.validateSignal(); err != nil {
		c.enqueue(errorFrame(err.Error()))
		return
	}
	targetID, err := uuid.Parse(msg.Target)
	if err != nil {
		c.enqueue(errorFrame("invalid target participant id"))
		return
	}
	target := g.registry.get(c.sessionID, targetID)
	if target == nil {
		c.enqueue(frame(TypeTargetUnavailable, "", "", map[string]string{"target": msg.Target}))
		return
	}
	target.enqueue(frame(msg.Type, msg.Target, c.participantID.String(), msg.Data))
}

func (g *Gateway) handleChat(ctx context.Context, c *Client, msg Message) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil || strings.TrimSpace(payload.Text) == "" {
		c.enqueue(errorFrame("chat message requires text"))
		return
	}
	pid := c.participantID
	chat := &models.ChatMessage{
		SessionID:     c.sessionID,
		ParticipantID: &pid,
		SenderRole:    c.role,
		DisplayName:   c.displayName,
		Text:          strings.TrimSpace(payload.Text),
	}
	if err := g.store.AddChatMessage(ctx, chat); err != nil {
		g.logger.Warn("chat persist failed", zap.Error(err))
		c.enqueue(errorFrame("chat message could not be saved"))
		return
	}
	_ = g.store.LogEvent(ctx, &models.Event{
		SessionID:     c.sessionID,
		ParticipantID: &pid,
		Role:          c.role,
		Kind:          models.EventChat,
	})
	out := frame(TypeChatMessage, "", c.participantID.String(), chat)
	g.broadcastRoom(c.sessionID, c.room(), out)
}

// handleShare enforces screen-share exclusivity. A claim by an instructor
// always wins (last writer); a student is denied when the session forbids
// student sharing or another participant currently owns the share. Release
// is compare-and-clear so a stale release never clobbers a newer owner.
func (g *Gateway) handleShare(ctx context.Context, c *Client, msg Message) {
	var payload struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.enqueue(errorFrame("share:state requires data"))
		return
	}
	if !payload.Active {
		if err := g.store.ClearScreenShareOwnerIfMatches(ctx, c.sessionID, c.participantID); err != nil {
			g.logger.Warn("screen share release failed", zap.Error(err))
			return
		}
		g.SessionUpdated(c.sessionID)
		return
	}
	sess, err := g.store.GetSession(ctx, c.sessionID)
	if err != nil {
		c.enqueue(errorFrame("session unavailable"))
		return
	}
	if c.role == models.RoleStudent {
		if !sess.AllowStudentScreenShare {
			c.enqueue(frame(TypeShareDenied, "", "", map[string]string{"reason": "screen share is not allowed in this class"}))
			return
		}
		if sess.ScreenShareOwner != nil && *sess.ScreenShareOwner != c.participantID {
			c.enqueue(frame(TypeShareDenied, "", "", map[string]string{"reason": "another participant is sharing"}))
			return
		}
	}
	if err := g.store.SetScreenShareOwner(ctx, c.sessionID, c.participantID); err != nil {
		g.logger.Warn("screen share claim failed", zap.Error(err))
		return
	}
	g.SessionUpdated(c.sessionID)
}

// SessionUpdated triggers a snapshot broadcast to every socket in the
// session. With a bus present this publishes only; the subscription callback
// performs the broadcast once per instance, this one included.
func (g *Gateway) SessionUpdated(sessionID uuid.UUID) {
	if g.pub != nil {
		if err := g.pub.PublishSessionEvent(sessionID, Event{Kind: EventSessionUpdated}); err != nil {
			g.logger.Warn("session update publish failed", zap.Error(err))
		}
		return
	}
	g.broadcastSnapshot(sessionID)
}

// ParticipantCommand delivers a server-issued command (media mute, kick,
// waiting-room decision, room move) to one participant's socket, wherever
// that socket lives.
func (g *Gateway) ParticipantCommand(sessionID, participantID uuid.UUID, kind string, data interface{}) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	if g.pub != nil {
		err := g.pub.PublishSessionEvent(sessionID, Event{
			Kind:          EventCommand,
			ParticipantID: participantID.String(),
			CommandKind:   kind,
			Data:          raw,
		})
		if err != nil {
			g.logger.Warn("participant command publish failed", zap.Error(err))
		}
		return
	}
	g.deliverCommand(sessionID, participantID, kind, raw)
}

func (g *Gateway) handleBusEvent(sessionID uuid.UUID, ev Event) {
	switch ev.Kind {
	case EventSessionUpdated:
		g.broadcastSnapshot(sessionID)
	case EventCommand:
		participantID, err := uuid.Parse(ev.ParticipantID)
		if err != nil {
			return
		}
		g.deliverCommand(sessionID, participantID, ev.CommandKind, ev.Data)
	case EventBroadcast:
		var roomID *uuid.UUID
		if ev.RoomID != "" {
			if id, err := uuid.Parse(ev.RoomID); err == nil {
				roomID = &id
			}
		}
		g.broadcastRoomLocal(sessionID, roomID, ev.Frame)
	}
}

func (g *Gateway) deliverCommand(sessionID, participantID uuid.UUID, kind string, data json.RawMessage) {
	c := g.registry.get(sessionID, participantID)
	if c == nil {
		return
	}
	switch kind {
	case TypeRoomChanged:
		// The room filter for future broadcasts lives on the client.
		if p, err := g.store.GetParticipant(context.Background(), sessionID, participantID); err == nil {
			c.setRoom(p.RoomID)
		}
		c.enqueue(frame(kind, "", "", data))
	case TypeKick, TypeDenied:
		c.enqueue(frame(kind, "", "", data))
		c.closeSend()
	default:
		c.enqueue(frame(kind, "", "", data))
	}
}

// broadcastSnapshot rebuilds the session snapshot from the store and sends it
// to every local socket in the session, across all rooms.
func (g *Gateway) broadcastSnapshot(sessionID uuid.UUID) {
	clients := g.registry.clients(sessionID)
	if len(clients) == 0 {
		return
	}
	ctx := context.Background()
	sess, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		g.logger.Warn("snapshot broadcast: session fetch failed", zap.Error(err))
		return
	}
	participants, err := g.store.ListParticipants(ctx, sessionID)
	if err != nil {
		g.logger.Warn("snapshot broadcast: participant fetch failed", zap.Error(err))
		return
	}
	rooms, err := g.store.ListRooms(ctx, sessionID)
	if err != nil {
		g.logger.Warn("snapshot broadcast: room fetch failed", zap.Error(err))
		return
	}
	snap := live.BuildSnapshot(sess, participants, rooms, live.SnapshotOptions{
		IncludeParticipants: true,
		IncludeRooms:        true,
	})
	out := frame(TypeSessionSnapshot, "", "", snap)
	for _, c := range clients {
		c.enqueue(out)
	}
}

// broadcastRoom fans a frame out to the sender's room (nil room = main
// room). With a bus present the frame is published so every instance,
// including this one, delivers it exactly once.
func (g *Gateway) broadcastRoom(sessionID uuid.UUID, roomID *uuid.UUID, out []byte) {
	if g.pub != nil {
		ev := Event{Kind: EventBroadcast, Frame: out}
		if roomID != nil {
			ev.RoomID = roomID.String()
		}
		if err := g.pub.PublishSessionEvent(sessionID, ev); err != nil {
			g.logger.Warn("room broadcast publish failed", zap.Error(err))
		}
		return
	}
	g.broadcastRoomLocal(sessionID, roomID, out)
}

func (g *Gateway) broadcastRoomLocal(sessionID uuid.UUID, roomID *uuid.UUID, out []byte) {
	for _, c := range g.registry.clients(sessionID) {
		room := c.room()
		if roomID == nil && room != nil {
			continue
		}
		if roomID != nil && (room == nil || *room != *roomID) {
			continue
		}
		c.enqueue(out)
	}
}
