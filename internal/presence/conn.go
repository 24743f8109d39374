package presence

import (
	"sync"

	"github.com/gorilla/websocket"

	"presence-service/internal/registry"
)

// sendBuffer bounds how far a slow reader can fall behind before
// broadcasts to it are dropped.
const sendBuffer = 32

// Conn is one physical websocket plus its immutable identity attachment.
// The attachment copy here is a convenience; the registry record is the
// durable one the room trusts when rebuilding.
type Conn struct {
	id  string
	att registry.Attachment
	ws  *websocket.Conn
	hub *Hub

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(att registry.Attachment, ws *websocket.Conn, hub *Hub) *Conn {
	return &Conn{
		id:   att.ConnID,
		att:  att,
		ws:   ws,
		hub:  hub,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// trySend queues a frame without blocking. A full buffer means the peer is
// not draining; the frame is dropped and the socket's own close path will
// reconcile the roster if it is actually dead.
func (c *Conn) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *Conn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// readPump delivers inbound frames to the room in arrival order. Any read
// error, clean close included, funnels into the single leave path.
func (c *Conn) readPump() {
	defer func() {
		c.hub.leave(c)
		c.shutdown()
		c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.hub.deliver(c, data)
	}
}

// writePump is the only goroutine that writes to the socket.
func (c *Conn) writePump() {
	defer c.ws.Close()

	for {
		select {
		case data := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
