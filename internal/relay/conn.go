package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/chatrelay/internal/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	sendQueueSize = 256
)

// Conn wraps one WebSocket connection with a serialized outbound queue.
// Send preserves submission order; a slow client backpressures only its
// own session.
type Conn struct {
	ws        *websocket.Conn
	send      chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn wraps ws. The caller must run WritePump and ReadPump.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan Event, sendQueueSize),
		closed: make(chan struct{}),
	}
}

// Send enqueues an outbound event. It blocks while the queue is full and
// reports false once the connection is gone.
func (c *Conn) Send(ev Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	case <-c.closed:
		return false
	}
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// Closed exposes the teardown signal.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// WritePump drains the outbound queue onto the wire and keeps the
// connection alive with pings. It runs until the connection dies.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("Failed to marshal event: %v", err)
				continue
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("WebSocket write failed: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ReadPump decodes inbound events onto out until the peer disconnects,
// then closes out and tears the connection down. Payloads that violate
// the protocol are answered with an error event; the session continues.
func (c *Conn) ReadPump(out chan<- InboundEvent) {
	defer func() {
		c.Close()
		close(out)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error: %v", err)
			}
			return
		}

		ev, err := DecodeInbound(data)
		if err != nil {
			logger.Warn("Rejected inbound event: %v", err)
			c.Send(ErrorEvent(err.Error()))
			continue
		}

		select {
		case out <- ev:
		case <-c.closed:
			return
		}
	}
}
