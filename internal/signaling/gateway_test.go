package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gradus-edu/live-backend/internal/live"
	"github.com/gradus-edu/live-backend/internal/models"
)

type harness struct {
	store   *live.MemStore
	gateway *Gateway
	server  *httptest.Server
	session *models.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := live.NewMemStore()

	sess := &models.Session{Title: "Algebra", CourseID: "c1", AllowStudentScreenShare: true}
	require.NoError(t, store.CreateSession(context.Background(), sess))

	gateway := NewGateway(store, NewRegistry(), nil, nil, zap.NewNop(), time.Minute, 30*time.Second)
	router := gin.New()
	router.GET("/live-signaling", gateway.ServeWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &harness{store: store, gateway: gateway, server: server, session: sess}
}

func (h *harness) addParticipant(t *testing.T, name, role string) *models.Participant {
	t.Helper()
	p := &models.Participant{SessionID: h.session.ID, Role: role, DisplayName: name, UserID: "u-" + name}
	require.NoError(t, h.store.AddParticipant(context.Background(), p))
	return p
}

func (h *harness) wsURL(sessionID, participantID uuid.UUID, key string) string {
	base := "ws" + strings.TrimPrefix(h.server.URL, "http")
	return base + "/live-signaling?sessionId=" + sessionID.String() +
		"&participantId=" + participantID.String() + "&key=" + key
}

func (h *harness) dial(t *testing.T, p *models.Participant) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(h.session.ID, p.ID, p.SignalingKey), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of the wanted type arrives. Frames of
// other types that came first are returned so ordering can be asserted.
func readUntil(t *testing.T, conn *websocket.Conn, wanted string) (Message, []Message) {
	t.Helper()
	var skipped []Message
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for frame type %q", wanted)
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Type == wanted {
			return msg, skipped
		}
		skipped = append(skipped, msg)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func participantConnected(h *harness, p *models.Participant) func() bool {
	return func() bool {
		got, err := h.store.GetParticipant(context.Background(), h.session.ID, p.ID)
		return err == nil && got.Connected
	}
}

func participantDisconnected(h *harness, p *models.Participant) func() bool {
	return func() bool {
		got, err := h.store.GetParticipant(context.Background(), h.session.ID, p.ID)
		return err == nil && !got.Connected
	}
}

func TestUpgradeRejectsMissingParams(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/live-signaling")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpgradeRejectsBadKey(t *testing.T) {
	h := newHarness(t)
	p := h.addParticipant(t, "asha", models.RoleStudent)

	cases := []struct {
		name string
		url  string
	}{
		{"wrong key", h.wsURL(h.session.ID, p.ID, "wrong")},
		{"wrong participant", h.wsURL(h.session.ID, uuid.New(), p.SignalingKey)},
		{"wrong session", h.wsURL(uuid.New(), p.ID, p.SignalingKey)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(tc.url, nil)
			require.Error(t, err)
			require.Nil(t, conn)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestUpgradeRejectsWaitingParticipant(t *testing.T) {
	h := newHarness(t)
	p := h.addParticipant(t, "asha", models.RoleStudent)
	require.NoError(t, h.store.SetParticipantWaiting(context.Background(), h.session.ID, p.ID, true))

	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(h.session.ID, p.ID, p.SignalingKey), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConnectedFlagTracksSocket(t *testing.T) {
	h := newHarness(t)
	p := h.addParticipant(t, "asha", models.RoleStudent)

	conn := h.dial(t, p)
	require.Eventually(t, participantConnected(h, p), 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.gateway.registry.Count(h.session.ID))

	// connecting broadcasts a snapshot to the session
	snap, _ := readUntil(t, conn, TypeSessionSnapshot)
	assert.NotEmpty(t, snap.Data)

	conn.Close()
	require.Eventually(t, participantDisconnected(h, p), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.gateway.registry.Count(h.session.ID) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	p := h.addParticipant(t, "asha", models.RoleStudent)
	conn := h.dial(t, p)

	send(t, conn, Message{Type: TypePing})
	pong, _ := readUntil(t, conn, TypePong)
	var data struct {
		Timestamp int64 `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(pong.Data, &data))
	assert.NotZero(t, data.Timestamp)
}

func TestRelayOrderAndFromStamp(t *testing.T) {
	h := newHarness(t)
	p1 := h.addParticipant(t, "p1", models.RoleStudent)
	p2 := h.addParticipant(t, "p2", models.RoleStudent)

	conn1 := h.dial(t, p1)
	conn2 := h.dial(t, p2)
	require.Eventually(t, participantConnected(h, p2), 2*time.Second, 10*time.Millisecond)

	offer := json.RawMessage(`{"sdp":"v=0 offer"}`)
	candidate := json.RawMessage(`{"candidate":"candidate:1"}`)
	// sender-supplied from must be ignored for routing and stamping
	send(t, conn1, Message{Type: TypeWebRTCOffer, Target: p2.ID.String(), From: "spoofed", Data: offer})
	send(t, conn1, Message{Type: TypeWebRTCICECandidate, Target: p2.ID.String(), Data: candidate})

	got, skipped := readUntil(t, conn2, TypeWebRTCOffer)
	for _, m := range skipped {
		assert.NotEqual(t, TypeWebRTCICECandidate, m.Type, "ice candidate must not arrive before the offer")
	}
	assert.Equal(t, p1.ID.String(), got.From)
	assert.JSONEq(t, string(offer), string(got.Data))

	got, _ = readUntil(t, conn2, TypeWebRTCICECandidate)
	assert.Equal(t, p1.ID.String(), got.From)
	assert.JSONEq(t, string(candidate), string(got.Data))
}

func TestRelayTargetUnavailable(t *testing.T) {
	h := newHarness(t)
	p1 := h.addParticipant(t, "p1", models.RoleStudent)
	conn1 := h.dial(t, p1)

	ghost := uuid.New().String()
	send(t, conn1, Message{Type: TypeWebRTCOffer, Target: ghost, Data: json.RawMessage(`{"sdp":"x"}`)})

	reply, _ := readUntil(t, conn1, TypeTargetUnavailable)
	var data struct {
		Target string `json:"target"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &data))
	assert.Equal(t, ghost, data.Target)
}

func TestMalformedSignalGetsErrorReply(t *testing.T) {
	h := newHarness(t)
	p1 := h.addParticipant(t, "p1", models.RoleStudent)
	conn1 := h.dial(t, p1)

	// missing target
	send(t, conn1, Message{Type: TypeWebRTCOffer, Data: json.RawMessage(`{"sdp":"x"}`)})
	_, _ = readUntil(t, conn1, TypeError)

	// missing data
	send(t, conn1, Message{Type: TypeWebRTCAnswer, Target: uuid.New().String()})
	_, _ = readUntil(t, conn1, TypeError)

	// connection survives and keeps working
	send(t, conn1, Message{Type: TypePing})
	_, _ = readUntil(t, conn1, TypePong)
}

func TestUnknownTypeGetsErrorReply(t *testing.T) {
	h := newHarness(t)
	p1 := h.addParticipant(t, "p1", models.RoleStudent)
	conn1 := h.dial(t, p1)

	send(t, conn1, Message{Type: "bogus"})
	_, _ = readUntil(t, conn1, TypeError)

	send(t, conn1, Message{Type: TypePing})
	_, _ = readUntil(t, conn1, TypePong)
}

func TestChatPersistsAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	p1 := h.addParticipant(t, "p1", models.RoleStudent)
	p2 := h.addParticipant(t, "p2", models.RoleStudent)
	conn1 := h.dial(t, p1)
	conn2 := h.dial(t, p2)
	require.Eventually(t, participantConnected(h, p2), 2*time.Second, 10*time.Millisecond)

	send(t, conn1, Message{Type: TypeChatMessage, Data: json.RawMessage(`{"text":"hello class"}`)})

	got, _ := readUntil(t, conn2, TypeChatMessage)
	var chat models.ChatMessage
	require.NoError(t, json.Unmarshal(got.Data, &chat))
	assert.Equal(t, "hello class", chat.Text)
	assert.Equal(t, "p1", chat.DisplayName)

	msgs, err := h.store.ListChatMessages(context.Background(), h.session.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello class", msgs[0].Text)
}

func TestScreenShareExclusivity(t *testing.T) {
	h := newHarness(t)
	p1 := h.addParticipant(t, "p1", models.RoleStudent)
	p2 := h.addParticipant(t, "p2", models.RoleStudent)
	host := h.addParticipant(t, "host", models.RoleInstructor)
	conn1 := h.dial(t, p1)
	conn2 := h.dial(t, p2)
	connHost := h.dial(t, host)

	ctx := context.Background()
	owner := func() *uuid.UUID {
		sess, err := h.store.GetSession(ctx, h.session.ID)
		require.NoError(t, err)
		return sess.ScreenShareOwner
	}

	send(t, conn1, Message{Type: TypeShareState, Data: json.RawMessage(`{"active":true}`)})
	require.Eventually(t, func() bool {
		o := owner()
		return o != nil && *o == p1.ID
	}, 2*time.Second, 10*time.Millisecond)

	// a second student is denied while someone else is sharing
	send(t, conn2, Message{Type: TypeShareState, Data: json.RawMessage(`{"active":true}`)})
	_, _ = readUntil(t, conn2, TypeShareDenied)
	o := owner()
	require.NotNil(t, o)
	assert.Equal(t, p1.ID, *o)

	// an instructor preempts the student owner
	send(t, connHost, Message{Type: TypeShareState, Data: json.RawMessage(`{"active":true}`)})
	require.Eventually(t, func() bool {
		o := owner()
		return o != nil && *o == host.ID
	}, 2*time.Second, 10*time.Millisecond)

	// the former owner's stale release must not clobber the new owner
	send(t, conn1, Message{Type: TypeShareState, Data: json.RawMessage(`{"active":false}`)})
	send(t, conn1, Message{Type: TypePing})
	_, _ = readUntil(t, conn1, TypePong)
	o = owner()
	require.NotNil(t, o)
	assert.Equal(t, host.ID, *o)

	// disconnecting the owner clears ownership
	connHost.Close()
	require.Eventually(t, func() bool { return owner() == nil }, 2*time.Second, 10*time.Millisecond)
}

func TestShareDeniedWhenStudentsMayNotShare(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := live.NewMemStore()
	sess := &models.Session{Title: "Locked down", CourseID: "c1", AllowStudentScreenShare: false}
	require.NoError(t, store.CreateSession(context.Background(), sess))
	gateway := NewGateway(store, NewRegistry(), nil, nil, zap.NewNop(), time.Minute, 30*time.Second)
	router := gin.New()
	router.GET("/live-signaling", gateway.ServeWS)
	server := httptest.NewServer(router)
	defer server.Close()
	h := &harness{store: store, gateway: gateway, server: server, session: sess}

	p := h.addParticipant(t, "p1", models.RoleStudent)
	conn := h.dial(t, p)
	send(t, conn, Message{Type: TypeShareState, Data: json.RawMessage(`{"active":true}`)})
	_, _ = readUntil(t, conn, TypeShareDenied)

	got, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ScreenShareOwner)
}

func TestDisconnectLogsEvent(t *testing.T) {
	h := newHarness(t)
	p := h.addParticipant(t, "asha", models.RoleStudent)
	conn := h.dial(t, p)
	require.Eventually(t, participantConnected(h, p), 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		events, err := h.store.ListEvents(context.Background(), h.session.ID, 0)
		if err != nil {
			return false
		}
		for _, ev := range events {
			if ev.Kind == models.EventDisconnect {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
