package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eventpulse/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 32
)

// Conn is one joined websocket connection. Outbound frames go through a
// buffered channel drained by writePump; a member that cannot keep up gets
// dropped instead of blocking the broadcast path.
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	key         groupKey
	userID      uuid.UUID
	participant *model.Participant
	joinedAt    time.Time

	mu     sync.Mutex
	closed bool
}

func newConn(h *Hub, ws *websocket.Conn, key groupKey, userID uuid.UUID, p *model.Participant) *Conn {
	return &Conn{
		hub:         h,
		ws:          ws,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
		key:         key,
		userID:      userID,
		participant: p,
		joinedAt:    h.clock(),
	}
}

// enqueue hands a frame to the connection's writer. A full queue means the
// client stopped reading; the connection is closed rather than stalling the
// caller. Frames enqueued after close are dropped: broadcasters snapshot
// the membership before writing, so the target may already be gone.
func (c *Conn) enqueue(b []byte) {
	if b == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- b:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.close()
	}
}

// close signals writePump through done instead of closing send, so a
// concurrent enqueue can never hit a closed channel.
func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context) {
	defer c.hub.leave(ctx, c)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handleInbound(ctx, c, raw)
	}
}
