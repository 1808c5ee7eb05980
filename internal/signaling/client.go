package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 65536
	sendBufferSize = 256
)

// Client is a single authenticated WebSocket connection for one participant.
// Frames from one socket are processed in arrival order; there is no ordering
// guarantee across different participants' sockets.
type Client struct {
	gateway       *Gateway
	conn          *websocket.Conn
	send          chan []byte
	sessionID     uuid.UUID
	participantID uuid.UUID
	role          string
	displayName   string

	mu     sync.Mutex
	roomID *uuid.UUID

	closeOnce sync.Once
}

func (c *Client) room() *uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(roomID *uuid.UUID) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// enqueue hands a frame to the write pump. A slow client with a full buffer
// has the frame dropped rather than stalling the caller.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		// buffer full, skip
	}
}

// closeSend lets the write pump flush buffered frames, send a close frame and
// tear the connection down.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.gateway.pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.gateway.pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.gateway.pongWait))
		c.gateway.dispatch(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.gateway.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
