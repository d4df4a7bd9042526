package ws

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/rooms/internal/game/session"
)

// Application close codes sent to clients.
const (
	CloseCodeSuperseded     = 4001
	CloseCodeRoomNotFound   = 4004
	CloseCodeDeliveryFailed = 4008
)

// CloseFrame returns the websocket close code and text for reason.
func CloseFrame(reason session.CloseReason) (int, string) {
	switch reason {
	case session.CloseSuperseded:
		return CloseCodeSuperseded, "superseded"
	case session.CloseRoomNotFound:
		return CloseCodeRoomNotFound, "room not found"
	case session.CloseDeliveryFailed:
		return CloseCodeDeliveryFailed, "delivery failed"
	case session.CloseShutdown:
		return websocket.CloseGoingAway, "server shutting down"
	default:
		return websocket.CloseNormalClosure, ""
	}
}

// Conn adapts a websocket connection to session.Transport. A writer
// goroutine drains the outbox; when the outbox closes it sends the matching
// close frame and closes the socket.
type Conn struct {
	ws           *websocket.Conn
	outbox       *session.Outbox
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps an upgraded websocket and starts its writer.
//
// Precondition: ws must be an open connection; outbox must be open.
// Postcondition: Returns a Conn whose writer goroutine is running.
func NewConn(ws *websocket.Conn, outbox *session.Outbox, readLimit int64, writeTimeout time.Duration) *Conn {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	c := &Conn{
		ws:           ws,
		outbox:       outbox,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ReadMessage returns the next text or binary message payload.
//
// Postcondition: A close from the peer is reported as io.EOF.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Outbox implements session.Transport.
func (c *Conn) Outbox() *session.Outbox {
	return c.outbox
}

// Close closes the outbox with session.CloseNormal, unless it is already
// closed, and waits for the writer to finish.
//
// Postcondition: The socket is closed.
func (c *Conn) Close() {
	_ = c.outbox.Close(session.CloseNormal)
	<-c.done
}

// Shutdown closes the connection with a going-away frame without waiting.
func (c *Conn) Shutdown() {
	_ = c.outbox.Close(session.CloseShutdown)
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	defer c.closeSocket()

	for data := range c.outbox.Events() {
		c.setWriteDeadline()
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.outbox.Close(session.CloseDeliveryFailed)
			return
		}
	}

	code, text := CloseFrame(c.outbox.Reason())
	deadline := time.Now().Add(time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	// ErrCloseSent means the peer closed first and was already answered.
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (c *Conn) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

func (c *Conn) closeSocket() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
